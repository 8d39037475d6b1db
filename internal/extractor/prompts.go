package extractor

import (
	"fmt"
	"strings"

	"github.com/graphrag-kernel/internal/graph"
)

// defaultEntityTypes is the permitted type vocabulary offered to the
// generator when the caller supplies no whitelist.
var defaultEntityTypes = []string{
	"Person", "Organization", "Location", "Document",
	"Concept", "Event", "Product", "Service", "Other",
}

// AllowedEntityType reports whether t is in the permitted type vocabulary.
func AllowedEntityType(t string) bool {
	for _, allowed := range defaultEntityTypes {
		if t == allowed {
			return true
		}
	}
	return false
}

// buildEntityPrompt composes the entity-extraction prompt. The contract
// with the generator: a JSON array of {name, type, properties} objects and
// nothing else.
func buildEntityPrompt(text string, entityTypes []string) string {
	if len(entityTypes) == 0 {
		entityTypes = defaultEntityTypes
	}

	var b strings.Builder
	b.WriteString("你是一個知識圖譜實體抽取器。請從以下文本中抽取實體。\n\n")
	b.WriteString("允許的實體類型: ")
	b.WriteString(strings.Join(entityTypes, ", "))
	b.WriteString("\n\n")
	b.WriteString("文本:\n")
	b.WriteString(text)
	b.WriteString("\n\n")
	b.WriteString("請只回傳一個 JSON 陣列，每個元素為 {\"name\": 實體名稱, \"type\": 實體類型, \"properties\": {}}。\n")
	b.WriteString("範例: [{\"name\": \"衛福部\", \"type\": \"Organization\", \"properties\": {}}]\n")
	b.WriteString("不要輸出任何 JSON 以外的文字、說明或註解。")
	return b.String()
}

// buildRelationPrompt composes the relation-extraction prompt over an
// already-known entity set. Contract: a JSON array of
// {source, target, type, properties} objects, names referencing the listed
// entities.
func buildRelationPrompt(text string, entities []graph.Entity) string {
	var b strings.Builder
	b.WriteString("你是一個知識圖譜關係抽取器。已知以下實體:\n")
	for _, e := range entities {
		fmt.Fprintf(&b, "- %s (%s)\n", e.Name, e.Type)
	}
	b.WriteString("\n文本:\n")
	b.WriteString(text)
	b.WriteString("\n\n")
	b.WriteString("請找出實體之間的關係，只回傳一個 JSON 陣列，每個元素為 ")
	b.WriteString("{\"source\": 來源實體名稱, \"target\": 目標實體名稱, \"type\": 關係類型, \"properties\": {}}。\n")
	b.WriteString("關係類型例如: LOCATED_IN, BELONGS_TO, IS_A, CONTAINS, RELATED_TO, CONSISTS_OF, MANAGES。\n")
	b.WriteString("不要輸出任何 JSON 以外的文字、說明或註解。")
	return b.String()
}
