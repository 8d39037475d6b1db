package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func BenchmarkCacheGet(b *testing.B) {
	c, err := New(0, nil, zaptest.NewLogger(b))
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		c.Set(ctx, fmt.Sprintf("key-%d", i), []byte("test-data"), time.Minute)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			c.Get(ctx, fmt.Sprintf("key-%d", i%1000))
			i++
		}
	})
}

func BenchmarkCacheSet(b *testing.B) {
	c, err := New(0, nil, zaptest.NewLogger(b))
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	ctx := context.Background()
	data := []byte("benchmark payload of modest size")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Set(ctx, fmt.Sprintf("key-%d", i%4096), data, time.Minute)
	}
}

func BenchmarkFingerprintKey(b *testing.B) {
	kwargs := map[string]interface{}{"top_k": 3, "provider": "gemini"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Key("graphrag_query", []interface{}{"長期照護政策"}, kwargs)
	}
}
