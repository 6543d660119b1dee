package shopify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductFiltersUnknownNameFails(t *testing.T) {
	_, err := NewProductFilters(map[string]interface{}{"nope": "x"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "nope", verr.Field)
}

func TestProductFiltersDefaultPublishedStatus(t *testing.T) {
	fm, err := NewProductFilters(nil)
	require.NoError(t, err)
	assert.Equal(t, "published", fm.Get("published_status"))

	fm, err = NewProductFilters(map[string]interface{}{"published_status": "any"})
	require.NoError(t, err)
	assert.Equal(t, "any", fm.Get("published_status"))
}

func TestRESTParamsJoinsLists(t *testing.T) {
	fm, err := NewProductFilters(map[string]interface{}{
		"ids":    []string{"1", "2", "3"},
		"vendor": "Acme",
	})
	require.NoError(t, err)

	params := fm.RESTParams()
	assert.Equal(t, "1,2,3", params["ids"])
	assert.Equal(t, "Acme", params["vendor"])
	assert.Equal(t, "published", params["published_status"])
}

func TestGraphSearchArgsRendersQueryTerms(t *testing.T) {
	fm, err := NewProductFilters(map[string]interface{}{
		"vendor": "Acme",
		"status": "active",
	})
	require.NoError(t, err)

	args := fm.GraphSearchArgs(nil, nil)
	assert.Equal(t, `(query: "published_status:published status:active vendor:Acme")`, args)
}

func TestGraphSearchArgsQuotesSpacedValues(t *testing.T) {
	fm, err := NewProductFilters(map[string]interface{}{
		"title":            "Caramel Apple",
		"published_status": "any",
	})
	require.NoError(t, err)

	args := fm.GraphSearchArgs(nil, nil)
	assert.Contains(t, args, `title:'Caramel Apple'`)
}

func TestGraphSearchArgsOverrides(t *testing.T) {
	fm, err := NewProductFilters(map[string]interface{}{"vendor": "Acme"})
	require.NoError(t, err)

	// Override replaces a default, empty string erases one.
	args := fm.GraphSearchArgs(map[string]string{
		"vendor":           "Other",
		"published_status": "",
	}, nil)
	assert.Equal(t, `(query: "vendor:Other")`, args)
}

func TestGraphSearchArgsRepeatedTermMarkers(t *testing.T) {
	fm, err := NewProductFilters(map[string]interface{}{"published_status": "any"})
	require.NoError(t, err)

	args := fm.GraphSearchArgs(map[string]string{
		"published_status": "",
		"created_at#min":   ">=2020-01-01T00:00:00Z",
		"created_at#max":   "<2021-01-01T00:00:00Z",
	}, nil)
	assert.Equal(t, `(query: "created_at:<2021-01-01T00:00:00Z created_at:>=2020-01-01T00:00:00Z")`, args)
}

func TestMetaFiltersSearchArg(t *testing.T) {
	fm, err := NewMetaFilters(map[string]interface{}{"namespace": "specs"})
	require.NoError(t, err)
	assert.Equal(t, `(namespace: "specs")`, fm.GraphSearchArgs(nil, nil))

	empty, err := NewMetaFilters(nil)
	require.NoError(t, err)
	assert.Equal(t, "", empty.GraphSearchArgs(nil, nil))
}

func TestFilterListFromInterfaceSlice(t *testing.T) {
	fm, err := NewProductFilters(map[string]interface{}{
		"ids": []interface{}{1, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "1,2", fm.Get("ids"))
}
