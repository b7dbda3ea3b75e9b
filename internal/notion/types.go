package notion

import (
	"strings"

	"github.com/jomei/notionapi"
)

// Property names of the task database
const (
	PropName        = "Name"
	PropStatus      = "Status"
	PropType        = "Type"
	PropAction      = "Action"
	PropPayload     = "Payload"
	PropPriority    = "Priority"
	PropAttempts    = "Attempts"
	PropMaxAttempts = "MaxAttempts"
	PropDependsOn   = "DependsOn"
	PropLogs        = "Logs"
	PropLogsPlain   = "LogsPlain"
	PropDescription = "Description"
	PropEpic        = "Epic"
)

// maxTextChunk is the API limit for a single rich_text content string
const maxTextChunk = 2000

// plainText joins the text of a title or rich_text property. Decoded pages
// hold pointer property types, so both forms are accepted here and below.
func plainText(p notionapi.Property) string {
	var parts []notionapi.RichText
	switch v := p.(type) {
	case *notionapi.TitleProperty:
		parts = v.Title
	case notionapi.TitleProperty:
		parts = v.Title
	case *notionapi.RichTextProperty:
		parts = v.RichText
	case notionapi.RichTextProperty:
		parts = v.RichText
	}
	var b strings.Builder
	for _, t := range parts {
		if t.PlainText != "" {
			b.WriteString(t.PlainText)
		} else if t.Text != nil {
			b.WriteString(t.Text.Content)
		}
	}
	return b.String()
}

func selectName(p notionapi.Property) string {
	switch v := p.(type) {
	case *notionapi.SelectProperty:
		return v.Select.Name
	case notionapi.SelectProperty:
		return v.Select.Name
	}
	return ""
}

// number reads a number property. Notion sends empty numbers as null,
// which decodes to zero, so zero falls back to def as well.
func number(p notionapi.Property, def int) int {
	var n float64
	switch v := p.(type) {
	case *notionapi.NumberProperty:
		n = v.Number
	case notionapi.NumberProperty:
		n = v.Number
	default:
		return def
	}
	if n == 0 {
		return def
	}
	return int(n)
}

func relationIDs(p notionapi.Property) []string {
	var rel []notionapi.Relation
	switch v := p.(type) {
	case *notionapi.RelationProperty:
		rel = v.Relation
	case notionapi.RelationProperty:
		rel = v.Relation
	}
	var ids []string
	for _, r := range rel {
		ids = append(ids, string(r.ID))
	}
	return ids
}

// textValue builds rich_text objects, chunked to the API limit
func textValue(s string) []notionapi.RichText {
	if s == "" {
		return []notionapi.RichText{}
	}
	runes := []rune(s)
	var out []notionapi.RichText
	for len(runes) > 0 {
		n := len(runes)
		if n > maxTextChunk {
			n = maxTextChunk
		}
		out = append(out, notionapi.RichText{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: string(runes[:n])},
		})
		runes = runes[n:]
	}
	return out
}

func titleProp(s string) notionapi.TitleProperty {
	return notionapi.TitleProperty{Title: textValue(s)}
}

func richTextProp(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{RichText: textValue(s)}
}

func selectProp(name string) notionapi.SelectProperty {
	return notionapi.SelectProperty{Select: notionapi.Option{Name: name}}
}

func numberProp(n int) notionapi.NumberProperty {
	return notionapi.NumberProperty{Number: float64(n)}
}

func relationProp(ids []string) notionapi.RelationProperty {
	rel := make([]notionapi.Relation, 0, len(ids))
	for _, id := range ids {
		rel = append(rel, notionapi.Relation{ID: notionapi.PageID(id)})
	}
	return notionapi.RelationProperty{Relation: rel}
}

func paragraphBlock(s string) *notionapi.ParagraphBlock {
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeParagraph,
		},
		Paragraph: notionapi.Paragraph{RichText: textValue(s)},
	}
}
