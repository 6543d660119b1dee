package shopify

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gempages/go-helper/tracing"
	"github.com/getsentry/sentry-go"
	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"github.com/gempages/shopify-catalog-export/rand"
	"github.com/gempages/shopify-catalog-export/store"
	"github.com/gempages/shopify-catalog-export/utils"
)

// Run stages.
const (
	stagePull        = "PULL"
	stageFinalOutput = "FINAL_OUTPUT"
)

// outputPageSize is how many products the join reads per store page.
const outputPageSize = 500

// RunManager owns one export run: preflight, module registry, the serial
// pull phase and the streaming join that feeds the caller's sink.
type RunManager struct {
	settings *Settings
	client   *Client
	store    *store.Store
	template *Template
	shopCtx  *ShopContext

	modules []Module
	stats   map[string]*PullStats
	stage   string

	storePath string
}

// NewRunManager wires a run from parsed settings. The intermediate
// database lives in the temp dir under the run's table prefix.
func NewRunManager(settings *Settings) *RunManager {
	return &RunManager{
		settings:  settings,
		client:    NewClient(settings),
		stats:     make(map[string]*PullStats),
		storePath: filepath.Join(os.TempDir(), fmt.Sprintf("catalog_%s_%s.db", settings.TablePrefix, rand.String(6))),
	}
}

// Stats returns per-module pull counters.
func (rm *RunManager) Stats() map[string]*PullStats {
	return rm.stats
}

// Run executes the export and streams rows into sink. Intermediate tables
// are dropped on every exit path unless debug keeps them.
func (rm *RunManager) Run(ctx context.Context, sink RowSink) (err error) {
	span := sentry.StartSpan(ctx, "catalog_export.run")
	span.SetTag("shop", rm.settings.ShopName)
	defer func() {
		tracing.FinishSpan(span, err)
	}()
	ctx = span.Context()

	rm.shopCtx, err = Preflight(ctx, rm.client, rm.settings)
	if err != nil {
		return err
	}

	if err = rm.openStore(); err != nil {
		return err
	}
	defer rm.cleanup(ctx, &err)

	if err = rm.registerModules(); err != nil {
		return err
	}

	if err = rm.pull(ctx); err != nil {
		return err
	}

	return rm.retrieveOutput(sink)
}

func (rm *RunManager) openStore() error {
	st, err := store.Open(rm.storePath, rm.settings.TablePrefix)
	if err != nil {
		return &StoreError{Table: rm.settings.TablePrefix, Err: err}
	}
	rm.store = st
	return nil
}

// registerModules builds the active module set and the initial template.
// Pull order is registration order; the primary module for output is
// picked by precedence.
func (rm *RunManager) registerModules() error {
	rm.template = NewTemplate("id", "item_group_id")

	base := moduleBase{
		client:   rm.client,
		settings: rm.settings,
		shopCtx:  rm.shopCtx,
		template: rm.template,
	}

	add := func(m Module, mb *moduleBase) error {
		if err := mb.initTables(rm.store, m.Name()); err != nil {
			return err
		}
		rm.modules = append(rm.modules, m)
		rm.stats[m.Name()] = &PullStats{}
		for _, field := range m.OutputFields() {
			rm.template.Append(field)
		}
		return nil
	}

	s := rm.settings
	if s.HasDataType(DataTypeProducts) {
		m := NewProductsModule(base)
		if err := add(m, &m.moduleBase); err != nil {
			return err
		}
	}
	if s.HasDataType(DataTypeInventoryItem) {
		m := NewInventoryModule(base, s.HasDataType(DataTypeInventoryLevel))
		if err := add(m, &m.moduleBase); err != nil {
			return err
		}
	}
	if s.HasDataType(DataTypeMeta) {
		m := NewMetafieldsModule(base)
		if err := add(m, &m.moduleBase); err != nil {
			return err
		}
	}
	if s.HasDataType(DataTypeTranslations) {
		m := NewTranslationsModule(base, splitCSVOption(s.ExtraOptions["translation_locales"]))
		if err := add(m, &m.moduleBase); err != nil {
			return err
		}
	}
	if s.HasDataType(DataTypeCollections) {
		m := NewCollectionsModule(base, s.HasDataType(DataTypeCollectionsMeta))
		if err := add(m, &m.moduleBase); err != nil {
			return err
		}
	}

	if len(rm.modules) == 0 {
		return &ValidationError{Field: "data_types", Reason: "no modules selected"}
	}

	if s.VariantNamesSplitColumns {
		rm.template.Remove("variant_names")
	}
	return nil
}

// pull runs every module serially. Each module may parallelize inside.
func (rm *RunManager) pull(ctx context.Context) error {
	rm.stage = stagePull
	for _, m := range rm.modules {
		log.Debugf("pulling module %s", m.Name())
		stats := rm.stats[m.Name()]
		if err := m.Run(ctx, stats); err != nil {
			stats.AddErrors(1)
			return fmt.Errorf("%s: %w", m.Name(), err)
		}
		log.Debugf("module %s done: %d products, %d variants",
			m.Name(), stats.Products, stats.Variants)
	}
	return nil
}

// primaryModule is the highest-precedence active module; its product
// iterator drives output.
func (rm *RunManager) primaryModule() Module {
	primary := rm.modules[0]
	for _, m := range rm.modules[1:] {
		if m.Precedence() > primary.Precedence() {
			primary = m
		}
	}
	return primary
}

// retrieveOutput finalizes the template, emits the header and streams one
// row per variant (one per product when variantless), enriched by every
// active module.
func (rm *RunManager) retrieveOutput(sink RowSink) error {
	rm.stage = stageFinalOutput
	primary := rm.primaryModule()

	opts := WriteOptions{
		Delimiter:       rm.settings.Delimiter,
		Enclosure:       rm.settings.Enclosure,
		Escape:          rm.settings.Escape,
		StripCharacters: rm.settings.StripCharacters,
	}

	if len(rm.settings.Fields) > 0 {
		keep := map[string]bool{"id": true, "item_group_id": true}
		for _, f := range rm.settings.Fields {
			keep[f] = true
		}
		for _, column := range rm.template.Columns() {
			if !keep[column] {
				rm.template.Remove(column)
			}
		}
	}

	header := rm.template.Finalize()
	if len(rm.settings.FieldMapping) > 0 {
		header = append([]string{}, header...)
		for i, name := range header {
			if mapped, ok := rm.settings.FieldMapping[name]; ok {
				header[i] = mapped
			}
		}
	}
	if err := sink.WriteRow(header, opts); err != nil {
		return err
	}

	var exploder variantExploder
	if rm.settings.InventoryLevelExplode {
		for _, m := range rm.modules {
			if e, ok := m.(variantExploder); ok {
				exploder = e
			}
		}
	}

	afterID := int64(0)
	for {
		products, err := primary.GetProducts(afterID, outputPageSize)
		if err != nil {
			return fmt.Errorf("%s: %w", primary.Name(), err)
		}
		if len(products) == 0 {
			return nil
		}

		for _, p := range products {
			if err := rm.emitProduct(primary, p, exploder, sink, opts); err != nil {
				return err
			}
		}
		afterID = products[len(products)-1].ID
	}
}

func (rm *RunManager) emitProduct(primary Module, p *Product, exploder variantExploder, sink RowSink, opts WriteOptions) error {
	productCells := map[string]string{}
	for _, m := range rm.modules {
		if err := m.AddDataToProduct(p, productCells); err != nil {
			return fmt.Errorf("%s: %w", m.Name(), err)
		}
	}

	variants, err := primary.GetVariants(p)
	if err != nil {
		return fmt.Errorf("%s: %w", primary.Name(), err)
	}

	if len(variants) == 0 {
		cells := cloneCells(productCells)
		cells["item_group_id"] = fmt.Sprintf("%d", p.ID)
		return sink.WriteRow(rm.template.FillRow(cells), opts)
	}

	for _, v := range variants {
		cells := cloneCells(productCells)
		cells["id"] = fmt.Sprintf("%d", v.ID)
		cells["item_group_id"] = fmt.Sprintf("%d", p.ID)

		for _, m := range rm.modules {
			if err := m.AddDataToVariant(p, v, cells); err != nil {
				return fmt.Errorf("%s: %w", m.Name(), err)
			}
		}

		if exploder != nil {
			sets, err := exploder.ExplodeVariant(v)
			if err != nil {
				return err
			}
			if len(sets) > 0 {
				for _, set := range sets {
					exploded := cloneCells(cells)
					for k, val := range set {
						exploded[k] = val
					}
					if err := sink.WriteRow(rm.template.FillRow(exploded), opts); err != nil {
						return err
					}
				}
				continue
			}
		}

		if err := sink.WriteRow(rm.template.FillRow(cells), opts); err != nil {
			return err
		}
	}
	return nil
}

func cloneCells(cells map[string]string) map[string]string {
	out := make(map[string]string, len(cells)+8)
	for k, v := range cells {
		out[k] = v
	}
	return out
}

// cleanup cancels any in-flight bulk operation after a failed pull and
// drops the intermediate tables unless debug keeps them.
func (rm *RunManager) cleanup(ctx context.Context, runErr *error) {
	if *runErr != nil && rm.stage == stagePull {
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if err := rm.client.BulkOperation.CancelRunningBulkQuery(cancelCtx); err != nil {
			log.Warnf("cancel running bulk operation: %s", err)
		}
		cancel()
	}

	if rm.store == nil {
		return
	}
	if rm.settings.Debug {
		log.Infof("debug: keeping intermediate tables %v in %s", rm.store.Tables(), rm.storePath)
		if err := rm.store.Close(); err != nil {
			log.Warnf("close intermediate store: %s", err)
		}
		return
	}
	if err := rm.store.DropAll(); err != nil {
		log.Warnf("drop intermediate tables: %s", err)
	}
	if err := rm.store.Close(); err != nil {
		log.Warnf("close intermediate store: %s", err)
	}
	utils.RemoveFile(rm.storePath)
}

// ListDiagnostic is the request_type=list payload.
type ListDiagnostic struct {
	Scopes       []string          `json:"permissions"`
	Shop         *Shop             `json:"shop"`
	ProductCount int               `json:"product_count"`
	SampleRow    map[string]string `json:"sample_row,omitempty"`
}

// RunList emits the diagnostic document: granted permissions, shop
// fields, the filtered product count and one sample product/variant row
// rendered through the same field derivations as a real export.
func (rm *RunManager) RunList(ctx context.Context, w io.Writer) error {
	shop, err := rm.client.Shop.Get(ctx)
	if err != nil {
		return err
	}
	scopes, err := rm.client.Shop.AccessScopes(ctx)
	if err != nil {
		return err
	}
	sort.Strings(scopes)

	scopeSet := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		scopeSet[s] = true
	}
	rm.shopCtx = &ShopContext{
		Domain:      shop.Domain,
		CountryCode: shop.CountryCode,
		CreatedAt:   shop.CreatedAt,
		Scopes:      scopeSet,
	}

	count, err := rm.client.Shop.TotalProductCount(ctx, rm.settings.ProductFilters.RESTParams())
	if err != nil {
		return err
	}

	diag := &ListDiagnostic{
		Scopes:       scopes,
		Shop:         shop,
		ProductCount: count,
	}

	sample, err := rm.sampleRow(ctx)
	if err != nil {
		log.Warnf("sample row unavailable: %s", err)
	} else {
		diag.SampleRow = sample
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(diag)
}

// sampleRow pulls one product over REST and renders it through the
// products module without touching the intermediate store.
func (rm *RunManager) sampleRow(ctx context.Context) (map[string]string, error) {
	params := rm.settings.ProductFilters.RESTParams()
	params["limit"] = "1"

	var page restProductsPage
	if err := rm.client.rest.Do(ctx, "GET", "products.json", params, &page); err != nil {
		return nil, err
	}
	if len(page.Products) == 0 {
		return nil, fmt.Errorf("shop has no matching products")
	}

	rp := &page.Products[0]
	m := &ProductsModule{moduleBase: moduleBase{
		settings: rm.settings,
		shopCtx:  rm.shopCtx,
		template: NewTemplate(DefaultColumns...),
	}}

	p := &Product{ID: rp.ID, Fields: restProductBag(rp)}
	cells := map[string]string{"item_group_id": fmt.Sprintf("%d", rp.ID)}
	if err := m.AddDataToProduct(p, cells); err != nil {
		return nil, err
	}
	if len(rp.Variants) > 0 {
		rv := &rp.Variants[0]
		v := &Variant{ID: rv.ID, ProductID: rp.ID, Fields: restVariantBag(rp, rv)}
		cells["id"] = fmt.Sprintf("%d", rv.ID)
		if err := m.AddDataToVariant(p, v, cells); err != nil {
			return nil, err
		}
	}
	return cells, nil
}
