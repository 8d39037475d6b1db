// Package jsonx wraps Sonic behind the handful of JSON operations the
// service actually uses. Everything that serializes graph properties,
// cache values, or API payloads goes through here.
package jsonx

import (
	"bytes"
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.Config{
	EscapeHTML: false,
	UseInt64:   true,
}.Froze()

// Marshal returns the JSON encoding of v.
func Marshal(v interface{}) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal parses data and stores the result in the value pointed to by v.
func Unmarshal(data []byte, v interface{}) error {
	return api.Unmarshal(data, v)
}

// MarshalToString is like Marshal but returns a string, avoiding the
// []byte-to-string copy.
func MarshalToString(v interface{}) (string, error) {
	return api.MarshalToString(v)
}

// UnmarshalFromString parses the JSON string and stores the result in v.
func UnmarshalFromString(data string, v interface{}) error {
	return api.UnmarshalFromString(data, v)
}

var canonical = sonic.Config{
	EscapeHTML:  false,
	UseInt64:    true,
	SortMapKeys: true,
}.Froze()

// MarshalCanonical returns a deterministic encoding of v with map keys
// sorted. Cache fingerprints depend on this being stable across runs.
func MarshalCanonical(v interface{}) ([]byte, error) {
	return canonical.Marshal(v)
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return api.Valid(data)
}

// Decoder reads a single JSON value from an io.Reader.
type Decoder struct {
	reader io.Reader
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: r}
}

// Decode reads the remaining input and unmarshals it into v.
func (d *Decoder) Decode(v interface{}) error {
	data, err := io.ReadAll(d.reader)
	if err != nil {
		return err
	}
	return api.Unmarshal(data, v)
}

// Encoder writes JSON values to an io.Writer, one per line.
type Encoder struct {
	writer io.Writer
	buf    bytes.Buffer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: w}
}

// Encode writes the JSON encoding of v followed by a newline.
func (e *Encoder) Encode(v interface{}) error {
	data, err := api.Marshal(v)
	if err != nil {
		return err
	}
	e.buf.Reset()
	e.buf.Write(data)
	e.buf.WriteByte('\n')
	_, err = e.writer.Write(e.buf.Bytes())
	return err
}
