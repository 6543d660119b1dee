package shopify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/gempages/shopify-catalog-export/store"
	"github.com/gempages/shopify-catalog-export/utils"
)

// CollectionsModule pulls collection membership. A collection with a null
// ruleSet is custom (manually curated), otherwise smart.
type CollectionsModule struct {
	moduleBase
	withMeta bool
}

func NewCollectionsModule(base moduleBase, withMeta bool) *CollectionsModule {
	return &CollectionsModule{moduleBase: base, withMeta: withMeta}
}

func (m *CollectionsModule) Name() string { return "collections" }

func (m *CollectionsModule) Precedence() int {
	if m.withMeta {
		return precedenceCollectionsMeta
	}
	return precedenceCollections
}

func (m *CollectionsModule) OutputFields() []string {
	fields := []string{
		"custom_collections_handle",
		"custom_collections_title",
		"custom_collections_id",
		"smart_collections_handle",
		"smart_collections_title",
		"smart_collections_id",
	}
	if m.withMeta {
		fields = append(fields, "custom_collections_meta", "smart_collections_meta")
	}
	return fields
}

func (m *CollectionsModule) buildBulkQuery() string {
	metafields := ""
	if m.withMeta {
		metaArgs := m.settings.MetaFilters.GraphSearchArgs(nil, nil)
		metafields = fmt.Sprintf(`
				metafields%s {
					edges {
						node {
							id
							namespace
							key
							value
							description
						}
					}
				}`, metaArgs)
	}

	return fmt.Sprintf(`{
	collections {
		edges {
			node {
				id
				handle
				title
				ruleSet {
					appliedDisjunctively
				}%s
				products {
					edges {
						node {
							id
						}
					}
				}
			}
		}
	}
}`, metafields)
}

// collectionRecord is the in-parse view of one collection.
type collectionRecord struct {
	id     int64
	handle string
	title  string
	smart  bool
	metas  []metafieldEntry
}

func (m *CollectionsModule) Run(ctx context.Context, stats *PullStats) error {
	resultFile, err := m.client.BulkOperation.RunBulkQuery(ctx, m.buildBulkQuery())
	if err != nil {
		return err
	}
	if resultFile == "" {
		return nil
	}
	defer utils.RemoveFile(resultFile)
	return m.parseBulkFile(resultFile, stats)
}

func (m *CollectionsModule) parseBulkFile(path string, stats *PullStats) error {
	scanner, err := newBulkScanner(m.Name(), path)
	if err != nil {
		return err
	}
	defer scanner.Close()

	collections := map[int64]*collectionRecord{}
	productCollections := map[int64][]int64{}
	var current *collectionRecord

	for {
		line, err := scanner.Next()
		if err != nil {
			return err
		}
		if line == nil {
			break
		}

		switch line.Kind {
		case "Collection":
			var node CollectionNode
			if err := line.decodeInto(m.Name(), &node); err != nil {
				return err
			}
			gid, err := ParseGID(string(node.ID))
			if err != nil {
				return &ParseError{Module: m.Name(), Line: line.Number, Reason: err.Error()}
			}
			current = &collectionRecord{
				id:     gid.ID,
				handle: string(node.Handle),
				title:  string(node.Title),
				smart:  node.RuleSet != nil,
			}
			collections[gid.ID] = current

		case "Metafield":
			if current == nil {
				return &ParseError{Module: m.Name(), Line: line.Number, Reason: "metafield with no open collection"}
			}
			var node MetafieldNode
			if err := line.decodeInto(m.Name(), &node); err != nil {
				return err
			}
			current.metas = append(current.metas, metafieldEntry{
				Key:         string(node.Key),
				Value:       string(node.Value),
				Namespace:   string(node.Namespace),
				Description: node.Description.ValueOrZero(),
			})

		case "Product":
			if current == nil {
				return &ParseError{Module: m.Name(), Line: line.Number, Reason: "product with no open collection"}
			}
			productID := GIDID(line.GID)
			if productID == 0 {
				return &ParseError{Module: m.Name(), Line: line.Number, Reason: "product without numeric id"}
			}
			productCollections[productID] = append(productCollections[productID], current.id)

		default:
			stats.AddWarnings(1)
		}
	}

	return m.flush(collections, productCollections, stats)
}

// flush writes one row per product: a JSON map keyed by collection id,
// each entry namespaced custom_*/smart_* by its collection kind.
func (m *CollectionsModule) flush(collections map[int64]*collectionRecord, productCollections map[int64][]int64, stats *PullStats) error {
	ins := m.tables.ProductInserter(store.Update)

	for productID, ids := range productCollections {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		entries := map[string]interface{}{}
		for _, cid := range ids {
			rec, ok := collections[cid]
			if !ok {
				continue
			}
			ns := "custom"
			if rec.smart {
				ns = "smart"
			}
			entry := map[string]interface{}{
				ns + "_handle": rec.handle,
				ns + "_title":  rec.title,
				ns + "_id":     rec.id,
			}
			if m.withMeta && len(rec.metas) > 0 {
				entry[ns+"_meta"] = entriesToList(rec.metas)
			}
			entries[fmt.Sprintf("%d", cid)] = entry
		}

		bag := FieldBag{"collections": entries}
		data, err := bag.JSON()
		if err != nil {
			return err
		}
		if err := ins.AddProduct(productID, data); err != nil {
			return &StoreError{Table: "collections_prod", Err: err}
		}
		stats.AddProducts(1)
	}

	if err := ins.Flush(); err != nil {
		return &StoreError{Table: "collections_prod", Err: err}
	}
	return nil
}

func (m *CollectionsModule) GetProducts(afterID int64, limit int) ([]*Product, error) {
	return m.pageProducts(afterID, limit)
}

func (m *CollectionsModule) GetVariants(p *Product) ([]*Variant, error) {
	return m.variantsFor(p.ID)
}

func (m *CollectionsModule) AddDataToProduct(p *Product, cells map[string]string) error {
	bag, err := m.productBag(p.ID)
	if err != nil || bag == nil {
		return err
	}

	type kindCells struct {
		handles []string
		titles  []string
		ids     []string
		metas   []interface{}
	}
	kinds := map[string]*kindCells{"custom": {}, "smart": {}}

	entries := bag.GetBag("collections")
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return cast.ToInt64(keys[i]) < cast.ToInt64(keys[j]) })

	for _, key := range keys {
		entry := entries.GetBag(key)
		for ns, kc := range kinds {
			if !entry.Has(ns + "_id") {
				continue
			}
			kc.handles = append(kc.handles, entry.GetString(ns+"_handle"))
			kc.titles = append(kc.titles, entry.GetString(ns+"_title"))
			kc.ids = append(kc.ids, entry.GetString(ns+"_id"))
			if metas := entry.GetSlice(ns + "_meta"); len(metas) > 0 {
				kc.metas = append(kc.metas, metas...)
			}
		}
	}

	for ns, kc := range kinds {
		if len(kc.ids) == 0 {
			continue
		}
		cells[ns+"_collections_handle"] = strings.Join(kc.handles, "|")
		cells[ns+"_collections_title"] = strings.Join(kc.titles, "|")
		cells[ns+"_collections_id"] = strings.Join(kc.ids, "|")
		if m.withMeta && len(kc.metas) > 0 {
			cells[ns+"_collections_meta"] = jsonCell(kc.metas)
		}
	}
	return nil
}

func (m *CollectionsModule) AddDataToVariant(p *Product, v *Variant, cells map[string]string) error {
	// Collections are product-level only.
	return nil
}
