package shopify

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultColumns is the canonical column set every run starts from.
// Modules append discovered columns (metafield keys, locales, inventory)
// during the pull phase; the template is finalized just before the header
// row is emitted.
var DefaultColumns = []string{
	"id",
	"item_group_id",
	"title",
	"description",
	"link",
	"image_link",
	"additional_image_link",
	"additional_variant_image_link",
	"availability",
	"price",
	"sale_price",
	"brand",
	"product_type",
	"sku",
	"barcode",
	"handle",
	"tags",
	"status",
	"published_status",
	"published_at",
	"created_at",
	"variant_title",
	"variant_names",
	"options",
	"position",
	"weight",
	"weight_unit",
	"shipping_weight",
	"requires_shipping",
	"taxable",
	"inventory_quantity",
	"inventory_policy",
	"inventory_management",
	"fulfillment_service",
}

// Template owns the output column order. Columns may be appended until
// Finalize; appending after that is a programming error and panics, since
// the header has already been written.
type Template struct {
	columns   []string
	index     map[string]int
	finalized bool
}

func NewTemplate(columns ...string) *Template {
	t := &Template{index: make(map[string]int, len(columns))}
	for _, c := range columns {
		t.Append(c)
	}
	return t
}

// Append adds a column unless it already exists.
func (t *Template) Append(column string) {
	if t.finalized {
		panic(fmt.Sprintf("template already finalized, cannot append %q", column))
	}
	if _, ok := t.index[column]; ok {
		return
	}
	t.index[column] = len(t.columns)
	t.columns = append(t.columns, column)
}

// Remove drops a column.
func (t *Template) Remove(column string) {
	if t.finalized {
		panic(fmt.Sprintf("template already finalized, cannot remove %q", column))
	}
	idx, ok := t.index[column]
	if !ok {
		return
	}
	t.columns = append(t.columns[:idx], t.columns[idx+1:]...)
	delete(t.index, column)
	for i := idx; i < len(t.columns); i++ {
		t.index[t.columns[i]] = i
	}
}

// Has reports whether a column exists.
func (t *Template) Has(column string) bool {
	_, ok := t.index[column]
	return ok
}

// Finalize seals the column set and returns the header row.
func (t *Template) Finalize() []string {
	t.finalized = true
	return t.Columns()
}

// Columns returns a copy of the current column order.
func (t *Template) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Len returns the column count.
func (t *Template) Len() int {
	return len(t.columns)
}

// FillRow orders the cell map into the template's column order. Columns no
// module populated render as empty strings; values for unknown columns are
// dropped.
func (t *Template) FillRow(cells map[string]string) []string {
	row := make([]string, len(t.columns))
	for name, value := range cells {
		if idx, ok := t.index[name]; ok {
			row[idx] = value
		}
	}
	return row
}

var nonWordRegex = regexp.MustCompile(`\W+`)

const maxColumnNameLength = 254

// MetafieldColumnName derives the display identifier of a metafield
// column: `<prefix>_meta_[<namespace>_]<key>` with dashes folded to
// underscores, non-word characters stripped, lowercased and length-capped.
func MetafieldColumnName(prefix, namespace, key string, useNamespace bool) string {
	name := prefix + "_meta_"
	if useNamespace && namespace != "" {
		name += namespace + "_"
	}
	name += key

	name = strings.ToLower(strings.ReplaceAll(name, "-", "_"))
	name = nonWordRegex.ReplaceAllString(name, "")
	if len(name) > maxColumnNameLength {
		name = name[:maxColumnNameLength]
	}
	return name
}

// TranslationColumnName derives `<locale>_<key>` with non-word characters
// stripped.
func TranslationColumnName(locale, key string) string {
	name := strings.ReplaceAll(locale+"_"+key, "-", "_")
	return nonWordRegex.ReplaceAllString(name, "")
}
