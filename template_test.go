package shopify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateAppendAndFill(t *testing.T) {
	tpl := NewTemplate("id", "item_group_id", "title")
	tpl.Append("price")
	tpl.Append("title") // duplicate is a no-op
	require.Equal(t, []string{"id", "item_group_id", "title", "price"}, tpl.Columns())

	row := tpl.FillRow(map[string]string{
		"id":      "42",
		"price":   "10.00",
		"unknown": "dropped",
	})
	assert.Equal(t, []string{"42", "", "", "10.00"}, row)
}

func TestTemplateRemove(t *testing.T) {
	tpl := NewTemplate("a", "b", "c")
	tpl.Remove("b")
	assert.Equal(t, []string{"a", "c"}, tpl.Columns())

	row := tpl.FillRow(map[string]string{"a": "1", "c": "3"})
	assert.Equal(t, []string{"1", "3"}, row)

	tpl.Remove("missing") // no-op
	assert.Equal(t, 2, tpl.Len())
}

func TestTemplateFinalizeSeals(t *testing.T) {
	tpl := NewTemplate("id")
	tpl.Append("late")
	header := tpl.Finalize()
	assert.Equal(t, []string{"id", "late"}, header)

	assert.Panics(t, func() { tpl.Append("too-late") })
	assert.Panics(t, func() { tpl.Remove("id") })
}

func TestMetafieldColumnName(t *testing.T) {
	assert.Equal(t, "parent_meta_color", MetafieldColumnName("parent", "custom", "color", false))
	assert.Equal(t, "parent_meta_custom_color", MetafieldColumnName("parent", "custom", "color", true))
	assert.Equal(t, "variant_meta_my_key", MetafieldColumnName("variant", "", "my-key", true))
	assert.Equal(t, "collection_meta_sizechart", MetafieldColumnName("collection", "", "size.chart!", false))

	long := MetafieldColumnName("parent", "ns", strings.Repeat("k", 300), true)
	assert.Len(t, long, 254)
}

func TestTranslationColumnName(t *testing.T) {
	assert.Equal(t, "fr_title", TranslationColumnName("fr", "title"))
	assert.Equal(t, "pt_BR_body_html", TranslationColumnName("pt-BR", "body_html"))
}
