package shopify

import (
	"context"
	"fmt"

	"github.com/gempages/shopify-catalog-export/store"
	"github.com/gempages/shopify-catalog-export/utils"
)

// MetafieldsModule pulls product and variant metafields. Owners with no
// metafields still get an empty presence row so the join can tell "pulled,
// nothing there" from "not pulled".
type MetafieldsModule struct {
	moduleBase
}

func NewMetafieldsModule(base moduleBase) *MetafieldsModule {
	return &MetafieldsModule{moduleBase: base}
}

func (m *MetafieldsModule) Name() string    { return "meta" }
func (m *MetafieldsModule) Precedence() int { return precedenceMeta }

func (m *MetafieldsModule) OutputFields() []string {
	if m.settings.MetafieldsSplitColumns {
		// Columns appear as keys are discovered during the pull.
		return nil
	}
	return []string{"product_meta", "variant_meta"}
}

func (m *MetafieldsModule) buildBulkQuery() string {
	metaArgs := m.settings.MetaFilters.GraphSearchArgs(nil, nil)
	searchArgs := m.settings.ProductFilters.GraphSearchArgs(nil, nil)

	metafieldsBlock := fmt.Sprintf(`metafields%s {
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

	return fmt.Sprintf(`{
	products%s {
		edges {
			node {
				id
				%s
				variants {
					edges {
						node {
							id
							%s
						}
					}
				}
			}
		}
	}
}`, searchArgs, metafieldsBlock, metafieldsBlock)
}

func (m *MetafieldsModule) Run(ctx context.Context, stats *PullStats) error {
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

// metafieldEntry is the per-owner stored record.
type metafieldEntry struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Namespace   string `json:"namespace"`
	Description string `json:"description"`
}

func (m *MetafieldsModule) parseBulkFile(path string, stats *PullStats) error {
	scanner, err := newBulkScanner(m.Name(), path)
	if err != nil {
		return err
	}
	defer scanner.Close()

	prodIns := m.tables.ProductInserter(store.Update)
	varIns := m.tables.VariantInserter(store.Update)

	var (
		curProduct   int64
		curVariant   int64
		productMetas []metafieldEntry
		variantMetas []metafieldEntry
	)

	flushVariant := func() error {
		if curVariant == 0 {
			return nil
		}
		if err := m.writeOwner(varIns, curVariant, curProduct, variantMetas, stats); err != nil {
			return err
		}
		curVariant = 0
		variantMetas = nil
		return nil
	}
	flushProduct := func() error {
		if err := flushVariant(); err != nil {
			return err
		}
		if curProduct == 0 {
			return nil
		}
		if err := m.writeOwner(prodIns, curProduct, 0, productMetas, stats); err != nil {
			return err
		}
		stats.AddProducts(1)
		curProduct = 0
		productMetas = nil
		return nil
	}

	for {
		line, err := scanner.Next()
		if err != nil {
			return err
		}
		if line == nil {
			break
		}

		switch line.Kind {
		case "Product":
			if err := flushProduct(); err != nil {
				return err
			}
			curProduct = GIDID(line.GID)
			if curProduct == 0 {
				return &ParseError{Module: m.Name(), Line: line.Number, Reason: "product without numeric id"}
			}

		case "ProductVariant":
			if err := flushVariant(); err != nil {
				return err
			}
			curVariant = GIDID(line.GID)
			if curVariant == 0 {
				return &ParseError{Module: m.Name(), Line: line.Number, Reason: "variant without numeric id"}
			}
			stats.AddVariants(1)

		case "Metafield":
			var node MetafieldNode
			if err := line.decodeInto(m.Name(), &node); err != nil {
				return err
			}
			entry := metafieldEntry{
				Key:         string(node.Key),
				Value:       string(node.Value),
				Namespace:   string(node.Namespace),
				Description: node.Description.ValueOrZero(),
			}
			// A metafield attaches to the open variant when one is open and
			// the metafield's parent is a variant, otherwise to the open product.
			if curVariant != 0 && GIDType(line.ParentGID) == "ProductVariant" {
				variantMetas = append(variantMetas, entry)
			} else {
				productMetas = append(productMetas, entry)
			}
			if m.settings.MetafieldsSplitColumns {
				prefix := "parent"
				if curVariant != 0 && GIDType(line.ParentGID) == "ProductVariant" {
					prefix = "variant"
				}
				m.template.Append(MetafieldColumnName(prefix, entry.Namespace, entry.Key, m.settings.UseMetafieldNamespaces))
			}

		default:
			stats.AddWarnings(1)
		}
	}

	if err := flushProduct(); err != nil {
		return err
	}
	if err := varIns.Flush(); err != nil {
		return &StoreError{Table: "meta_vars", Err: err}
	}
	if err := prodIns.Flush(); err != nil {
		return &StoreError{Table: "meta_prod", Err: err}
	}
	return nil
}

// writeOwner persists one owner's metafields; owners without any get an
// empty presence row.
func (m *MetafieldsModule) writeOwner(ins *store.Inserter, id, parentID int64, entries []metafieldEntry, stats *PullStats) error {
	bag := FieldBag{"metafields": entriesToList(entries)}
	data, err := bag.JSON()
	if err != nil {
		return err
	}
	if parentID != 0 {
		err = ins.AddVariant(id, parentID, data)
	} else {
		err = ins.AddProduct(id, data)
	}
	if err != nil {
		return &StoreError{Table: "meta", Err: err}
	}
	return nil
}

func entriesToList(entries []metafieldEntry) []interface{} {
	out := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{
			"key":         e.Key,
			"value":       e.Value,
			"namespace":   e.Namespace,
			"description": e.Description,
		})
	}
	return out
}

func (m *MetafieldsModule) GetProducts(afterID int64, limit int) ([]*Product, error) {
	return m.pageProducts(afterID, limit)
}

func (m *MetafieldsModule) GetVariants(p *Product) ([]*Variant, error) {
	return m.variantsFor(p.ID)
}

func (m *MetafieldsModule) AddDataToProduct(p *Product, cells map[string]string) error {
	bag, err := m.productBag(p.ID)
	if err != nil || bag == nil {
		return err
	}
	m.fillOwnerCells("parent", "product_meta", bag, cells)
	return nil
}

func (m *MetafieldsModule) AddDataToVariant(p *Product, v *Variant, cells map[string]string) error {
	bag, err := m.variantBag(v.ID)
	if err != nil || bag == nil {
		return err
	}
	m.fillOwnerCells("variant", "variant_meta", bag, cells)
	return nil
}

func (m *MetafieldsModule) fillOwnerCells(prefix, aggregateColumn string, bag FieldBag, cells map[string]string) {
	metas := bag.GetSlice("metafields")
	if !m.settings.MetafieldsSplitColumns {
		if len(metas) > 0 {
			cells[aggregateColumn] = jsonCell(metas)
		}
		return
	}
	for _, raw := range metas {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		eb := FieldBag(entry)
		column := MetafieldColumnName(prefix, eb.GetString("namespace"), eb.GetString("key"), m.settings.UseMetafieldNamespaces)
		cells[column] = jsonCell(map[string]interface{}{
			"value":       eb.GetString("value"),
			"namespace":   eb.GetString("namespace"),
			"description": eb.GetString("description"),
		})
	}
}
