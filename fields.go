package shopify

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cast"
)

// FieldBag is the typed field store backing products and variants between
// parse and output. Values survive a JSON round-trip through the
// intermediate store, so accessors coerce from whatever the decoder
// produced.
type FieldBag map[string]interface{}

func (b FieldBag) GetString(key string) string {
	v, ok := b[key]
	if !ok || v == nil {
		return ""
	}
	return cast.ToString(v)
}

func (b FieldBag) GetInt64(key string) int64 {
	return cast.ToInt64(b[key])
}

func (b FieldBag) GetBool(key string) bool {
	return cast.ToBool(b[key])
}

func (b FieldBag) GetFloat(key string) float64 {
	return cast.ToFloat64(b[key])
}

func (b FieldBag) GetSlice(key string) []interface{} {
	v, ok := b[key]
	if !ok || v == nil {
		return nil
	}
	if s, ok := v.([]interface{}); ok {
		return s
	}
	return nil
}

func (b FieldBag) GetBag(key string) FieldBag {
	v, ok := b[key]
	if !ok || v == nil {
		return nil
	}
	switch m := v.(type) {
	case FieldBag:
		return m
	case map[string]interface{}:
		return FieldBag(m)
	}
	return nil
}

// Has reports presence, including explicit nulls.
func (b FieldBag) Has(key string) bool {
	_, ok := b[key]
	return ok
}

// IsNull reports an explicitly null field.
func (b FieldBag) IsNull(key string) bool {
	v, ok := b[key]
	return ok && v == nil
}

// JSON renders the bag for the intermediate store.
func (b FieldBag) JSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(b))
}

// DecodeFieldBag restores a bag from its stored JSON. Numbers decode as
// json.Number so 64-bit ids survive intact.
func DecodeFieldBag(data []byte) (FieldBag, error) {
	var bag map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&bag); err != nil {
		return nil, err
	}
	return FieldBag(bag), nil
}

// Product is an in-memory catalog product during parse or output. Variants
// are owned; a variant reaches its product through the join, never through
// a stored back-reference.
type Product struct {
	ID     int64
	Fields FieldBag
}

// Variant is an in-memory product variant.
type Variant struct {
	ID        int64
	ProductID int64
	Fields    FieldBag
}

// ShopContext carries the shop facts field renderers consult. It is built
// once at preflight and threaded explicitly; there is no ambient session.
type ShopContext struct {
	Domain       string
	CountryCode  string
	CreatedAt    string
	TaxRatesJSON string
	Scopes       map[string]bool
	ProductCount int
}

// HasScope reports whether the token carries the named access scope.
func (c *ShopContext) HasScope(scope string) bool {
	return c != nil && c.Scopes[scope]
}

// Field derivations. These define the output semantics of computed columns.

// Availability returns "out of stock" when the variant is tracked, empty
// and set to deny overselling, or when the API says it is unavailable.
func Availability(v FieldBag) string {
	tracked := v.GetBool("inventory_tracked")
	quantity := v.GetInt64("inventory_quantity")
	policy := strings.ToLower(v.GetString("inventory_policy"))
	available := v.GetBool("available_for_sale")

	if (tracked && quantity < 1 && policy == "deny") || !available {
		return "out of stock"
	}
	return "in stock"
}

// Price returns compareAtPrice as the displayed price when both prices are
// set and the compare-price override is on; the plain price otherwise.
func Price(v FieldBag, comparePriceOverride bool) string {
	price := v.GetString("price")
	compareAt := v.GetString("compare_at_price")
	if price != "" && compareAt != "" && comparePriceOverride {
		return compareAt
	}
	return price
}

// SalePrice returns the plain price when both prices are set, "" otherwise.
func SalePrice(v FieldBag) string {
	price := v.GetString("price")
	compareAt := v.GetString("compare_at_price")
	if price != "" && compareAt != "" {
		return price
	}
	return ""
}

var weightUnitMap = map[string]string{
	"GRAMS":     "g",
	"OUNCES":    "oz",
	"POUNDS":    "lb",
	"KILOGRAMS": "kg",
}

// WeightUnit maps the API unit enum to feed abbreviations.
func WeightUnit(unit string) string {
	return weightUnitMap[strings.ToUpper(unit)]
}

// Weight normalizes a weight value to always carry a decimal point.
func Weight(v FieldBag) string {
	w := v.GetString("weight")
	if w == "" {
		return ""
	}
	if !strings.Contains(w, ".") {
		return w + ".0"
	}
	return w
}

// ShippingWeight renders "<weight> <unit>", trimmed when either is empty.
func ShippingWeight(v FieldBag) string {
	return strings.TrimSpace(Weight(v) + " " + WeightUnit(v.GetString("weight_unit")))
}

// NormalizeDomain strips a leading www. and re-prepends it when the host
// has fewer than two dots (a bare apex domain).
func NormalizeDomain(domain string) string {
	d := strings.TrimPrefix(domain, "www.")
	if strings.Count(d, ".") < 2 {
		d = "www." + d
	}
	return d
}

// Link builds the storefront product URL pinned to the variant.
func Link(ctx *ShopContext, p FieldBag, variantID int64) string {
	return fmt.Sprintf("https://%s/products/%s?variant=%d", NormalizeDomain(ctx.Domain), p.GetString("handle"), variantID)
}

// GMCTransitionID builds the Merchant Center migration identifier.
func GMCTransitionID(ctx *ShopContext, productID, variantID int64) string {
	return fmt.Sprintf("shopify_%s_%d_%d", ctx.CountryCode, productID, variantID)
}

// ImageLink returns the variant's own image URL if set.
func ImageLink(v FieldBag) string {
	return v.GetBag("image").GetString("url")
}

// AdditionalVariantImageLink collects product media attached to the
// variant, either explicitly through variant ids or through a color hint
// in the alt text. De-duplicated, comma-joined, original order.
func AdditionalVariantImageLink(p FieldBag, v FieldBag) string {
	color := variantColor(v)
	var urls []string
	seen := map[string]bool{}

	for _, raw := range p.GetSlice("media") {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		media := FieldBag(m)
		url := media.GetString("url")
		if url == "" || seen[url] {
			continue
		}
		if mediaMatchesVariant(media, v.GetInt64("id"), color) {
			seen[url] = true
			urls = append(urls, url)
		}
	}
	return strings.Join(urls, ",")
}

func mediaMatchesVariant(media FieldBag, variantID int64, color string) bool {
	for _, raw := range media.GetSlice("variant_ids") {
		if cast.ToInt64(raw) == variantID {
			return true
		}
	}
	if color == "" {
		return false
	}
	alt := strings.ToLower(media.GetString("alt_text"))
	color = strings.ToLower(color)
	return strings.Contains(alt, "color-"+color) || strings.Contains(alt, color)
}

func variantColor(v FieldBag) string {
	for name, value := range VariantNames(v) {
		if strings.EqualFold(name, "color") || strings.EqualFold(name, "colour") {
			return value
		}
	}
	return ""
}

// VariantNames maps option name to the variant's selected value.
func VariantNames(v FieldBag) map[string]string {
	out := map[string]string{}
	for _, raw := range v.GetSlice("selected_options") {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		opt := FieldBag(m)
		if name := opt.GetString("name"); name != "" {
			out[name] = opt.GetString("value")
		}
	}
	return out
}

// VariantNamesJSON renders the option map as a JSON object; an empty map
// still renders "{}" so consumers always see an object.
func VariantNamesJSON(v FieldBag) string {
	names := VariantNames(v)
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(names[k])
		sb.Write(kb)
		sb.WriteByte(':')
		sb.Write(vb)
	}
	sb.WriteByte('}')
	return sb.String()
}

// BoolString renders a boolean as the literal "true"/"false" cell value.
func BoolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// PublishedStatus is "published" when publishedAt is non-null.
func PublishedStatus(p FieldBag) string {
	if p.GetString("published_at") != "" {
		return "published"
	}
	return "unpublished"
}
