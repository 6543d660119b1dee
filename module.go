package shopify

import (
	"context"
	"sync/atomic"

	"github.com/gempages/shopify-catalog-export/store"
)

// PullStats counts one module's pull-phase activity. Workers update it
// concurrently.
type PullStats struct {
	Products int64
	Variants int64
	Pages    int64
	Warnings int64
	Errors   int64
}

func (s *PullStats) AddProducts(n int64) { atomic.AddInt64(&s.Products, n) }
func (s *PullStats) AddVariants(n int64) { atomic.AddInt64(&s.Variants, n) }
func (s *PullStats) AddPages(n int64)    { atomic.AddInt64(&s.Pages, n) }
func (s *PullStats) AddWarnings(n int64) { atomic.AddInt64(&s.Warnings, n) }
func (s *PullStats) AddErrors(n int64)   { atomic.AddInt64(&s.Errors, n) }

// Module is one self-contained pull+join unit. Run stages rows into the
// module's intermediate tables; the AddDataTo* methods enrich output rows
// during the streaming join.
type Module interface {
	Name() string

	// Precedence orders primary-module selection; higher wins.
	Precedence() int

	// OutputFields returns the columns this module contributes up front.
	// Columns discovered during the pull (metafield keys, locales) are
	// appended to the template directly.
	OutputFields() []string

	// Run pulls the module's data and persists it into the intermediate
	// store.
	Run(ctx context.Context, stats *PullStats) error

	// GetProducts pages the module's staged products in ascending id
	// order. Only the primary module's iterator is used.
	GetProducts(afterID int64, limit int) ([]*Product, error)

	// GetVariants returns the staged variants of one product, ascending.
	GetVariants(p *Product) ([]*Variant, error)

	// AddDataToProduct fills the module's product-level cells.
	AddDataToProduct(p *Product, cells map[string]string) error

	// AddDataToVariant fills the module's variant-level cells.
	AddDataToVariant(p *Product, v *Variant, cells map[string]string) error
}

// variantExploder is implemented by modules that can fan one variant out
// into several output rows (inventory levels).
type variantExploder interface {
	ExplodeVariant(v *Variant) ([]map[string]string, error)
}

// Module precedence values, highest drives the output walk.
const (
	precedenceInventory       = 60
	precedenceProducts        = 50
	precedenceMeta            = 40
	precedenceTranslations    = 30
	precedenceCollections     = 20
	precedenceCollectionsMeta = 10
)

// moduleBase carries what every module needs: the client, the parsed
// settings, the shop context and its pair of staging tables.
type moduleBase struct {
	client   *Client
	settings *Settings
	shopCtx  *ShopContext
	tables   *store.ModuleTables
	template *Template
}

func (m *moduleBase) initTables(st *store.Store, name string) error {
	tables, err := st.CreateModuleTables(name)
	if err != nil {
		return &StoreError{Table: name, Err: err}
	}
	m.tables = tables
	return nil
}

// pageProducts decodes one page of staged product bags.
func (m *moduleBase) pageProducts(afterID int64, limit int) ([]*Product, error) {
	rows, err := m.tables.ProductsPage(afterID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Product, 0, len(rows))
	for _, row := range rows {
		bag, err := DecodeFieldBag(row.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, &Product{ID: row.ID, Fields: bag})
	}
	return out, nil
}

// variantsFor decodes one product's staged variant bags.
func (m *moduleBase) variantsFor(productID int64) ([]*Variant, error) {
	rows, err := m.tables.VariantsFor(productID)
	if err != nil {
		return nil, err
	}
	out := make([]*Variant, 0, len(rows))
	for _, row := range rows {
		bag, err := DecodeFieldBag(row.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, &Variant{ID: row.ID, ProductID: row.ParentID, Fields: bag})
	}
	return out, nil
}

// productBag fetches one staged product bag by id, nil when absent.
func (m *moduleBase) productBag(id int64) (FieldBag, error) {
	data, ok, err := m.tables.ProductData(id)
	if err != nil || !ok {
		return nil, err
	}
	return DecodeFieldBag(data)
}

// variantBag fetches one staged variant bag by id, nil when absent.
func (m *moduleBase) variantBag(id int64) (FieldBag, error) {
	data, ok, err := m.tables.VariantData(id)
	if err != nil || !ok {
		return nil, err
	}
	return DecodeFieldBag(data)
}
