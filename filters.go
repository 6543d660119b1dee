package shopify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// filterDef describes how one filter name renders on each wire.
type filterDef struct {
	// restVisible filters are emitted as REST query parameters.
	restVisible bool
	// queryTerm is the k in a `k:v` term inside the single query:"..."
	// search argument. Empty means the filter has no search-term form.
	queryTerm string
	// searchArg names a top-level GraphQL search argument (e.g. namespace).
	searchArg string
}

var productFilterDefs = map[string]filterDef{
	"ids":                    {restVisible: true, queryTerm: "id"},
	"limit":                  {restVisible: true},
	"since_id":               {restVisible: true},
	"title":                  {restVisible: true, queryTerm: "title"},
	"vendor":                 {restVisible: true, queryTerm: "vendor"},
	"handle":                 {restVisible: true, queryTerm: "handle"},
	"product_type":           {restVisible: true, queryTerm: "product_type"},
	"status":                 {restVisible: true, queryTerm: "status"},
	"collection_id":          {restVisible: true, queryTerm: "collection_id"},
	"published_status":       {restVisible: true, queryTerm: "published_status"},
	"fields":                 {restVisible: true},
	"presentment_currencies": {restVisible: true},
}

var metaFilterDefs = map[string]filterDef{
	"namespace": {searchArg: "namespace"},
}

// FilterManager holds a validated name→value filter set and renders it to
// REST parameters or a GraphQL search argument list.
type FilterManager struct {
	defs   map[string]filterDef
	values map[string][]string
}

// NewProductFilters validates a product filter set. Unknown names fail.
// published_status defaults to "published" when absent.
func NewProductFilters(input map[string]interface{}) (*FilterManager, error) {
	fm, err := newFilterManager(productFilterDefs, input)
	if err != nil {
		return nil, err
	}
	if _, ok := fm.values["published_status"]; !ok {
		fm.values["published_status"] = []string{"published"}
	}
	return fm, nil
}

// NewMetaFilters validates a metafield filter set.
func NewMetaFilters(input map[string]interface{}) (*FilterManager, error) {
	return newFilterManager(metaFilterDefs, input)
}

func newFilterManager(defs map[string]filterDef, input map[string]interface{}) (*FilterManager, error) {
	fm := &FilterManager{
		defs:   defs,
		values: make(map[string][]string, len(input)),
	}
	for name, raw := range input {
		if _, ok := defs[name]; !ok {
			return nil, &ValidationError{Field: name, Reason: "unknown filter"}
		}
		values, err := toStringList(raw)
		if err != nil {
			return nil, &ValidationError{Field: name, Reason: err.Error()}
		}
		if len(values) == 0 {
			continue
		}
		fm.values[name] = values
	}
	return fm, nil
}

func toStringList(raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		return cast.ToStringSliceE(v)
	default:
		s, err := cast.ToStringE(raw)
		if err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	}
}

// Get returns the filter's value joined with commas, "" when unset.
func (fm *FilterManager) Get(name string) string {
	return strings.Join(fm.values[name], ",")
}

// Has reports whether the filter carries a value.
func (fm *FilterManager) Has(name string) bool {
	return len(fm.values[name]) > 0
}

// RESTParams renders the rest-visible filters. List values are
// comma-separated, matching the Admin REST conventions.
func (fm *FilterManager) RESTParams() map[string]string {
	params := make(map[string]string)
	for name, values := range fm.values {
		if !fm.defs[name].restVisible {
			continue
		}
		params[name] = strings.Join(values, ",")
	}
	return params
}

// GraphSearchArgs renders the GraphQL search argument list, e.g.
// `query: "status:active vendor:Acme"` plus any named search arguments.
// Per-call overrides replace same-named defaults; an empty override value
// erases a default. The returned string is "" when nothing renders;
// otherwise it starts with "(" and ends with ")" ready to splice after a
// connection field.
func (fm *FilterManager) GraphSearchArgs(overrideQuery map[string]string, overrideSearch map[string]string) string {
	queryParts := map[string]string{}
	searchParts := map[string]string{}

	for name, values := range fm.values {
		def := fm.defs[name]
		if def.queryTerm != "" {
			queryParts[def.queryTerm] = strings.Join(values, ",")
		}
		if def.searchArg != "" {
			searchParts[def.searchArg] = strings.Join(values, ",")
		}
	}
	for k, v := range overrideQuery {
		if v == "" {
			delete(queryParts, k)
			continue
		}
		queryParts[k] = v
	}
	for k, v := range overrideSearch {
		if v == "" {
			delete(searchParts, k)
			continue
		}
		searchParts[k] = v
	}

	var args []string
	if len(queryParts) > 0 {
		terms := make([]string, 0, len(queryParts))
		for _, k := range sortedKeys(queryParts) {
			// A "#suffix" on an override key disambiguates repeated terms
			// (created_at#min / created_at#max); only the part before the
			// marker renders.
			name := k
			if i := strings.Index(name, "#"); i >= 0 {
				name = name[:i]
			}
			terms = append(terms, fmt.Sprintf("%s:%s", name, quoteSearchValue(queryParts[k])))
		}
		args = append(args, fmt.Sprintf("query: %q", strings.Join(terms, " ")))
	}
	for _, k := range sortedKeys(searchParts) {
		args = append(args, fmt.Sprintf("%s: %q", k, searchParts[k]))
	}

	if len(args) == 0 {
		return ""
	}
	return "(" + strings.Join(args, ", ") + ")"
}

func quoteSearchValue(v string) string {
	if strings.ContainsAny(v, " \t") {
		return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
	}
	return v
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
