package notion

import (
	"strings"
	"time"

	"github.com/jomei/notionapi"
)

// MaxTextLength is the longest content Notion accepts in one rich text item.
const MaxTextLength = 2000

// PlainText joins the plain text of a rich text list.
func PlainText(rts []notionapi.RichText) string {
	var b strings.Builder
	for _, rt := range rts {
		if rt.PlainText != "" {
			b.WriteString(rt.PlainText)
		} else if rt.Text != nil {
			b.WriteString(rt.Text.Content)
		}
	}
	return b.String()
}

// Value returns the plain Go value of a page property: a string for text,
// select, status, url and email properties, a float64 for numbers, a bool
// for checkboxes, a []string for multi-selects and a time.Time for dates.
// ok is false for empty or unsupported properties.
func Value(p notionapi.Property) (v any, ok bool) {
	switch prop := p.(type) {
	case *notionapi.TitleProperty:
		return nonEmpty(PlainText(prop.Title))
	case *notionapi.RichTextProperty:
		return nonEmpty(PlainText(prop.RichText))
	case *notionapi.NumberProperty:
		return prop.Number, true
	case *notionapi.SelectProperty:
		return nonEmpty(prop.Select.Name)
	case *notionapi.StatusProperty:
		return nonEmpty(prop.Status.Name)
	case *notionapi.URLProperty:
		return nonEmpty(prop.URL)
	case *notionapi.EmailProperty:
		return nonEmpty(prop.Email)
	case *notionapi.CheckboxProperty:
		return prop.Checkbox, true
	case *notionapi.MultiSelectProperty:
		if len(prop.MultiSelect) == 0 {
			return nil, false
		}
		names := make([]string, 0, len(prop.MultiSelect))
		for _, o := range prop.MultiSelect {
			names = append(names, o.Name)
		}
		return names, true
	case *notionapi.DateProperty:
		if prop.Date == nil || prop.Date.Start == nil {
			return nil, false
		}
		return time.Time(*prop.Date.Start), true
	}
	return nil, false
}

func nonEmpty(s string) (any, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Text builds a rich text property, splitting content into items of at
// most MaxTextLength runes.
func Text(content string) notionapi.RichTextProperty {
	var items []notionapi.RichText
	runes := []rune(content)
	for len(runes) > 0 {
		n := min(len(runes), MaxTextLength)
		items = append(items, notionapi.RichText{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: string(runes[:n])},
		})
		runes = runes[n:]
	}
	if items == nil {
		items = []notionapi.RichText{}
	}
	return notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: items,
	}
}

// Title builds a title property.
func Title(content string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Type: notionapi.PropertyTypeTitle,
		Title: []notionapi.RichText{
			{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: content}},
		},
	}
}

// Status builds a status property.
func Status(name string) notionapi.StatusProperty {
	return notionapi.StatusProperty{
		Type:   notionapi.PropertyTypeStatus,
		Status: notionapi.Status{Name: name},
	}
}

// Number builds a number property.
func Number(v float64) notionapi.NumberProperty {
	return notionapi.NumberProperty{
		Type:   notionapi.PropertyTypeNumber,
		Number: v,
	}
}

// DateTime builds a date property starting at t.
func DateTime(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t)
	return notionapi.DateProperty{
		Type: notionapi.PropertyTypeDate,
		Date: &notionapi.DateObject{Start: &d},
	}
}
