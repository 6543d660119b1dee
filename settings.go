package shopify

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Data type identifiers accepted in the data_types option.
const (
	DataTypeProducts        = "products"
	DataTypeMeta            = "meta"
	DataTypeCollections     = "collections"
	DataTypeCollectionsMeta = "collections_meta"
	DataTypeInventoryItem   = "inventory_item"
	DataTypeInventoryLevel  = "inventory_level"
	DataTypeTranslations    = "translations"
)

var knownDataTypes = map[string]bool{
	DataTypeProducts:        true,
	DataTypeMeta:            true,
	DataTypeCollections:     true,
	DataTypeCollectionsMeta: true,
	DataTypeInventoryItem:   true,
	DataTypeInventoryLevel:  true,
	DataTypeTranslations:    true,
}

var shopNameRegex = regexp.MustCompile(`^[-_A-Za-z0-9]+$`)
var nonAlnumRegex = regexp.MustCompile(`[^A-Za-z0-9]+`)

const tablePrefixLength = 32

// RequestType selects the run mode.
const (
	RequestTypeGet  = "get"
	RequestTypeList = "list"
)

// Settings is the typed view of the flat client option map.
type Settings struct {
	ShopName   string
	OAuthToken string

	DataTypes map[string]bool

	ProductFilters *FilterManager
	MetaFilters    *FilterManager

	MetafieldsSplitColumns      bool
	VariantNamesSplitColumns    bool
	InventoryLevelExplode       bool
	IncludePresentmentPrices    bool
	ComparePriceOverride        bool
	UseGMCTransitionID          bool
	UseMetafieldNamespaces      bool
	UseLegacyFulfillmentMapping bool
	ForceBulkPieces             bool
	UseProxy                    bool
	Debug                       bool

	Delimiter       string
	Enclosure       string
	Escape          string
	StripCharacters string
	TaxRates        string

	ExtraParentFields  []string
	ExtraVariantFields []string
	ExtraOptions       map[string]string
	Fields             []string
	FieldMapping       map[string]string

	RequestType string

	// TablePrefix namespaces this run's intermediate tables.
	TablePrefix string

	// APIVersion overrides the Admin API version for this run.
	APIVersion string
}

// NewSettings parses and validates the flat option map.
func NewSettings(options map[string]interface{}) (*Settings, error) {
	s := &Settings{
		DataTypes:                make(map[string]bool),
		IncludePresentmentPrices: true,
		ComparePriceOverride:     true,
		Delimiter:                ",",
		Enclosure:                `"`,
		Escape:                   `"`,
		RequestType:              RequestTypeGet,
	}

	s.ShopName = cast.ToString(options["shop_name"])
	if !shopNameRegex.MatchString(s.ShopName) {
		return nil, &ValidationError{Field: "shop_name", Reason: "required, letters/digits/-/_ only"}
	}

	s.OAuthToken = cast.ToString(options["oauth_token"])
	if s.OAuthToken == "" {
		// Legacy private-app clients send the token as `password`.
		s.OAuthToken = cast.ToString(options["password"])
	}
	if s.OAuthToken == "" {
		return nil, &ValidationError{Field: "oauth_token", Reason: "required"}
	}

	if err := s.parseDataTypes(options); err != nil {
		return nil, err
	}

	for _, opt := range []struct {
		key    string
		target *bool
	}{
		{"metafields_split_columns", &s.MetafieldsSplitColumns},
		{"variant_names_split_columns", &s.VariantNamesSplitColumns},
		{"inventory_level_explode", &s.InventoryLevelExplode},
		{"include_presentment_prices", &s.IncludePresentmentPrices},
		{"compare_price_override", &s.ComparePriceOverride},
		{"use_gmc_transition_id", &s.UseGMCTransitionID},
		{"use_metafield_namespaces", &s.UseMetafieldNamespaces},
		{"use_legacy_fulfillment_mapping", &s.UseLegacyFulfillmentMapping},
		{"force_bulk_pieces", &s.ForceBulkPieces},
		{"use_proxy", &s.UseProxy},
		{"debug", &s.Debug},
	} {
		if raw, ok := options[opt.key]; ok {
			val, err := cast.ToBoolE(raw)
			if err != nil {
				return nil, &ValidationError{Field: opt.key, Reason: "not a boolean"}
			}
			*opt.target = val
		}
	}

	for _, opt := range []struct {
		key    string
		target *string
	}{
		{"delimiter", &s.Delimiter},
		{"enclosure", &s.Enclosure},
		{"escape", &s.Escape},
		{"strip_characters", &s.StripCharacters},
		{"tax_rates", &s.TaxRates},
		{"api_version", &s.APIVersion},
	} {
		if raw, ok := options[opt.key]; ok {
			*opt.target = cast.ToString(raw)
		}
	}

	if raw, ok := options["request_type"]; ok {
		rt := cast.ToString(raw)
		if rt != RequestTypeGet && rt != RequestTypeList {
			return nil, &ValidationError{Field: "request_type", Reason: "must be get or list"}
		}
		s.RequestType = rt
	}

	s.ExtraParentFields = splitCSVOption(options["extra_parent_fields"])
	s.ExtraVariantFields = splitCSVOption(options["extra_variant_fields"])
	s.Fields = splitCSVOption(options["fields"])
	s.ExtraOptions = cast.ToStringMapString(options["extra_options"])
	s.FieldMapping = cast.ToStringMapString(options["field_mapping"])

	var err error
	s.ProductFilters, err = NewProductFilters(cast.ToStringMap(options["product_filters"]))
	if err != nil {
		return nil, err
	}
	s.MetaFilters, err = NewMetaFilters(cast.ToStringMap(options["meta_filters"]))
	if err != nil {
		return nil, err
	}

	s.TablePrefix = buildTablePrefix(s.ShopName, time.Now())

	return s, nil
}

func (s *Settings) parseDataTypes(options map[string]interface{}) error {
	for _, dt := range splitCSVOption(options["data_types"]) {
		if !knownDataTypes[dt] {
			return &ValidationError{Field: "data_types", Reason: fmt.Sprintf("unknown data type %q", dt)}
		}
		s.DataTypes[dt] = true
	}

	// Legacy boolean toggles fold into data_types.
	for key, dt := range map[string]string{
		"meta":             DataTypeMeta,
		"collections":      DataTypeCollections,
		"collections_meta": DataTypeCollectionsMeta,
		"inventory_level":  DataTypeInventoryLevel,
		"inventory_item":   DataTypeInventoryItem,
	} {
		if raw, ok := options[key]; ok && cast.ToBool(raw) {
			s.DataTypes[dt] = true
		}
	}

	if s.DataTypes[DataTypeCollectionsMeta] {
		s.DataTypes[DataTypeCollections] = true
	}
	if s.DataTypes[DataTypeInventoryLevel] {
		s.DataTypes[DataTypeInventoryItem] = true
	}
	if len(s.DataTypes) == 0 {
		s.DataTypes[DataTypeProducts] = true
	}
	return nil
}

// HasDataType reports whether the run pulls the given data type.
func (s *Settings) HasDataType(dt string) bool {
	return s.DataTypes[dt]
}

func splitCSVOption(raw interface{}) []string {
	if raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	}
	var out []string
	for _, part := range strings.Split(cast.ToString(raw), ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// buildTablePrefix derives the per-run table namespace: the last 32 chars
// of the alphanumeric-only shop name plus a high-precision timestamp.
func buildTablePrefix(shopName string, now time.Time) string {
	raw := nonAlnumRegex.ReplaceAllString(shopName, "") + fmt.Sprintf("%d", now.UnixNano())
	if len(raw) > tablePrefixLength {
		raw = raw[len(raw)-tablePrefixLength:]
	}
	return raw
}
