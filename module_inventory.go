package shopify

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/gempages/shopify-catalog-export/store"
	"github.com/gempages/shopify-catalog-export/utils"
)

// InventoryModule pulls inventory items and, when requested, per-location
// levels. With level explosion on, a variant with N levels fans out into
// N output rows.
type InventoryModule struct {
	moduleBase
	withLevels bool
}

func NewInventoryModule(base moduleBase, withLevels bool) *InventoryModule {
	return &InventoryModule{moduleBase: base, withLevels: withLevels}
}

func (m *InventoryModule) Name() string    { return "inventory" }
func (m *InventoryModule) Precedence() int { return precedenceInventory }

func (m *InventoryModule) OutputFields() []string {
	fields := []string{"inventory_item_id", "inventory_cost", "inventory_cost_currency"}
	if !m.withLevels {
		return fields
	}
	if m.settings.InventoryLevelExplode {
		return append(fields,
			"inventory_level_location_id",
			"inventory_level_location_name",
			"inventory_level_available",
			"inventory_level_fulfillment_service",
		)
	}
	return append(fields, "inventory_levels")
}

func (m *InventoryModule) buildBulkQuery() string {
	levels := ""
	if m.withLevels {
		levels = `
					inventoryLevels {
						edges {
							node {
								id
								quantities(names: ["available"]) {
									name
									quantity
								}
								location {
									id
									name
									fulfillmentService { handle }
								}
							}
						}
					}`
	}

	return fmt.Sprintf(`{
	productVariants {
		edges {
			node {
				id
				product { id }
				inventoryItem {
					id
					sku
					unitCost {
						amount
						currencyCode
					}%s
				}
			}
		}
	}
}`, levels)
}

type inventoryVariantNode struct {
	ID      string `json:"id"`
	Product struct {
		ID string `json:"id"`
	} `json:"product"`
	InventoryItem *InventoryItemNode `json:"inventoryItem"`
}

func (m *InventoryModule) Run(ctx context.Context, stats *PullStats) error {
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

func (m *InventoryModule) parseBulkFile(path string, stats *PullStats) error {
	scanner, err := newBulkScanner(m.Name(), path)
	if err != nil {
		return err
	}
	defer scanner.Close()

	prodIns := m.tables.ProductInserter(store.Ignore)
	varIns := m.tables.VariantInserter(store.Update)

	var (
		current       FieldBag
		currentID     int64
		currentParent int64
		levels        []interface{}
	)

	flush := func() error {
		if current == nil {
			return nil
		}
		current["levels"] = levels
		data, err := current.JSON()
		if err != nil {
			return err
		}
		if err := varIns.AddVariant(currentID, currentParent, data); err != nil {
			return &StoreError{Table: "inventory_vars", Err: err}
		}
		// Presence row so inventory can drive the output walk.
		if err := prodIns.AddProduct(currentParent, []byte(`{}`)); err != nil {
			return &StoreError{Table: "inventory_prod", Err: err}
		}
		stats.AddVariants(1)
		current = nil
		levels = nil
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
		case "ProductVariant":
			if err := flush(); err != nil {
				return err
			}
			var node inventoryVariantNode
			if err := line.decodeInto(m.Name(), &node); err != nil {
				return err
			}
			currentID = GIDID(node.ID)
			currentParent = GIDID(node.Product.ID)
			if currentID == 0 || currentParent == 0 {
				return &ParseError{Module: m.Name(), Line: line.Number, Reason: "variant without numeric ids"}
			}

			current = FieldBag{"id": currentID, "product_id": currentParent}
			if item := node.InventoryItem; item != nil {
				current["item"] = map[string]interface{}{
					"id":       GIDID(string(item.ID)),
					"sku":      item.SKU.ValueOrZero(),
					"cost":     normalizeAmount(item.UnitCost),
					"currency": costCurrency(item.UnitCost),
				}
			}

		case "InventoryLevel":
			if current == nil {
				return &ParseError{Module: m.Name(), Line: line.Number, Reason: "inventory level with no open variant"}
			}
			var node InventoryLevelNode
			if err := line.decodeInto(m.Name(), &node); err != nil {
				return err
			}
			available := int64(0)
			for _, q := range node.Quantities {
				if q.Name == "available" {
					available = int64(q.Quantity)
				}
			}
			level := map[string]interface{}{
				"inventory_item_id": FieldBag(current.GetBag("item")).GetInt64("id"),
				"location_id":       GIDID(string(node.Location.ID)),
				"location_name":     string(node.Location.Name),
				"available":         available,
			}
			if node.Location.FulfillmentService != nil {
				level["fulfillment_service"] = string(node.Location.FulfillmentService.Handle)
			}
			levels = append(levels, level)

		default:
			stats.AddWarnings(1)
		}
	}

	if err := flush(); err != nil {
		return err
	}
	if err := varIns.Flush(); err != nil {
		return &StoreError{Table: "inventory_vars", Err: err}
	}
	if err := prodIns.Flush(); err != nil {
		return &StoreError{Table: "inventory_prod", Err: err}
	}
	return nil
}

// normalizeAmount renders a money amount with stable decimal formatting.
func normalizeAmount(cost *MoneyNode) string {
	if cost == nil || cost.Amount == "" {
		return ""
	}
	d, err := decimal.NewFromString(string(cost.Amount))
	if err != nil {
		return string(cost.Amount)
	}
	return d.String()
}

func costCurrency(cost *MoneyNode) string {
	if cost == nil {
		return ""
	}
	return string(cost.CurrencyCode)
}

func (m *InventoryModule) GetProducts(afterID int64, limit int) ([]*Product, error) {
	return m.pageProducts(afterID, limit)
}

func (m *InventoryModule) GetVariants(p *Product) ([]*Variant, error) {
	return m.variantsFor(p.ID)
}

func (m *InventoryModule) AddDataToProduct(p *Product, cells map[string]string) error {
	return nil
}

func (m *InventoryModule) AddDataToVariant(p *Product, v *Variant, cells map[string]string) error {
	bag := v.Fields
	if bag == nil || !bag.Has("item") {
		var err error
		bag, err = m.variantBag(v.ID)
		if err != nil || bag == nil {
			return err
		}
	}

	item := bag.GetBag("item")
	cells["inventory_item_id"] = item.GetString("id")
	cells["inventory_cost"] = item.GetString("cost")
	cells["inventory_cost_currency"] = item.GetString("currency")

	// The per-location service handle wins over the "manual" baseline in
	// both mapping modes. Legacy mode additionally reports the handle as
	// the variant's inventory management, like the old REST field did.
	if svc := firstLevelFulfillmentService(bag); svc != "" {
		cells["fulfillment_service"] = svc
		if m.settings.UseLegacyFulfillmentMapping {
			cells["inventory_management"] = svc
		}
	}

	if m.withLevels && !m.settings.InventoryLevelExplode {
		if levels := bag.GetSlice("levels"); len(levels) > 0 {
			cells["inventory_levels"] = jsonCell(levels)
		}
	}
	return nil
}

func firstLevelFulfillmentService(bag FieldBag) string {
	for _, raw := range bag.GetSlice("levels") {
		level, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if svc := FieldBag(level).GetString("fulfillment_service"); svc != "" && svc != "manual" {
			return svc
		}
	}
	return ""
}

// ExplodeVariant fans one variant into one cell set per inventory level.
// A variant with no levels still yields a single, level-less row.
func (m *InventoryModule) ExplodeVariant(v *Variant) ([]map[string]string, error) {
	if !m.withLevels || !m.settings.InventoryLevelExplode {
		return nil, nil
	}

	bag := v.Fields
	if bag == nil || !bag.Has("levels") {
		var err error
		bag, err = m.variantBag(v.ID)
		if err != nil {
			return nil, err
		}
	}
	if bag == nil {
		return nil, nil
	}

	levels := bag.GetSlice("levels")
	if len(levels) == 0 {
		return []map[string]string{{}}, nil
	}

	out := make([]map[string]string, 0, len(levels))
	for _, raw := range levels {
		level, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		lb := FieldBag(level)
		out = append(out, map[string]string{
			"inventory_level_location_id":         lb.GetString("location_id"),
			"inventory_level_location_name":       lb.GetString("location_name"),
			"inventory_level_available":           lb.GetString("available"),
			"inventory_level_fulfillment_service": lb.GetString("fulfillment_service"),
		})
	}
	return out, nil
}
