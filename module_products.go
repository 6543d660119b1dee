package shopify

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/gempages/shopify-catalog-export/store"
	"github.com/gempages/shopify-catalog-export/utils"
)

// ProductsModule pulls the product catalog, preferring one bulk operation
// and falling back to REST listing when the bulk path is unavailable.
type ProductsModule struct {
	moduleBase
}

func NewProductsModule(base moduleBase) *ProductsModule {
	return &ProductsModule{moduleBase: base}
}

func (m *ProductsModule) Name() string    { return "products" }
func (m *ProductsModule) Precedence() int { return precedenceProducts }

func (m *ProductsModule) OutputFields() []string {
	fields := append([]string{}, DefaultColumns...)
	if m.settings.UseGMCTransitionID {
		fields = append(fields, "gmc_transition_id")
	}
	if m.settings.IncludePresentmentPrices {
		fields = append(fields, "presentment_prices")
	}
	fields = append(fields, m.settings.ExtraParentFields...)
	fields = append(fields, m.settings.ExtraVariantFields...)
	return fields
}

const productFieldsQuery = `
	id
	title
	descriptionHtml
	vendor
	productType
	tags
	handle
	status
	publishedAt
	createdAt
	options {
		name
		position
		values
	}`

const variantFieldsQuery = `
	id
	title
	sku
	barcode
	price
	compareAtPrice
	position
	availableForSale
	taxable
	inventoryQuantity
	inventoryPolicy
	selectedOptions {
		name
		value
	}
	image {
		url
	}
	inventoryItem {
		id
		sku
		tracked
		requiresShipping
		measurement {
			weight {
				value
				unit
			}
		}
		unitCost {
			amount
			currencyCode
		}
	}`

// buildBulkQuery assembles the products bulk query under the product
// search filter. extraQuery injects per-slice search terms (created_at
// bounds) over the filter defaults.
func (m *ProductsModule) buildBulkQuery(extraQuery map[string]string) string {
	searchArgs := m.settings.ProductFilters.GraphSearchArgs(extraQuery, nil)

	presentment := ""
	if m.settings.IncludePresentmentPrices {
		currencyArg := ""
		if m.settings.ProductFilters.Has("presentment_currencies") {
			currencies := strings.Split(m.settings.ProductFilters.Get("presentment_currencies"), ",")
			currencyArg = fmt.Sprintf(`(presentmentCurrencies: [%s])`, strings.Join(currencies, ", "))
		}
		presentment = fmt.Sprintf(`
				presentmentPrices%s {
					edges {
						node {
							price { amount currencyCode }
							compareAtPrice { amount currencyCode }
						}
					}
				}`, currencyArg)
	}

	publications := ""
	if m.shopCtx.HasScope("read_publications") {
		publications = `
		publications {
			edges {
				node {
					channel { id handle }
					isPublished
				}
			}
		}`
	}

	return fmt.Sprintf(`{
	products%s {
		edges {
			node {
				%s
				media(query: "media_type:IMAGE") {
					edges {
						node {
							... on MediaImage {
								id
								image { url altText width height }
							}
						}
					}
				}%s
				variants {
					edges {
						node {
							%s
							media {
								edges {
									node {
										... on MediaImage {
											id
											image { url altText width height }
										}
									}
								}
							}%s
						}
					}
				}
			}
		}
	}
}`, searchArgs, productFieldsQuery, publications, variantFieldsQuery, presentment)
}

// Run pulls products, via one bulk operation or date slices when bulk
// piecing is forced. A blocked-out bulk path falls back to REST listing.
func (m *ProductsModule) Run(ctx context.Context, stats *PullStats) error {
	if m.pullViaREST() {
		return m.runREST(ctx, stats)
	}

	if m.settings.ForceBulkPieces {
		return m.runBulkSlices(ctx, stats)
	}

	err := m.runBulkOnce(ctx, stats, nil)
	if err != nil {
		if bulkErr, ok := asBulkError(err); ok && bulkErr.Reason == BulkBlocked {
			log.Warnf("products: bulk path blocked out, falling back to REST listing")
			stats.AddWarnings(1)
			return m.runREST(ctx, stats)
		}
		return err
	}
	return nil
}

func (m *ProductsModule) pullViaREST() bool {
	return m.settings.ExtraOptions["products_pull"] == "rest"
}

func asBulkError(err error) (*BulkError, bool) {
	var bulkErr *BulkError
	ok := errorsAs(err, &bulkErr)
	return bulkErr, ok
}

func (m *ProductsModule) runBulkOnce(ctx context.Context, stats *PullStats, extraQuery map[string]string) error {
	query := m.buildBulkQuery(extraQuery)
	resultFile, err := m.client.BulkOperation.RunBulkQuery(ctx, query)
	if err != nil {
		return err
	}
	if resultFile == "" {
		return nil
	}
	defer utils.RemoveFile(resultFile)

	return m.parseBulkFile(resultFile, stats)
}

// maxSliceRequeues bounds how often one date slice may be retried on
// transient errors before the run fails.
const maxSliceRequeues = 5

func (m *ProductsModule) runBulkSlices(ctx context.Context, stats *PullStats) error {
	ranges, err := m.client.productDateRanges(ctx, m.shopCtx, m.settings)
	if err != nil {
		return err
	}

	type slice struct {
		r        DateRange
		attempts int
	}
	queue := make([]slice, 0, len(ranges))
	for _, r := range ranges {
		queue = append(queue, slice{r: r})
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		extra := map[string]string{
			"created_at#min": fmt.Sprintf(">=%s", item.r.Start.Format("2006-01-02T15:04:05Z")),
			"created_at#max": fmt.Sprintf("<%s", item.r.End.Format("2006-01-02T15:04:05Z")),
		}

		err := m.runBulkOnce(ctx, stats, extra)
		if err != nil {
			if isTransient(err) && item.attempts < maxSliceRequeues {
				item.attempts++
				stats.AddWarnings(1)
				log.Warnf("products: slice %s..%s failed (%s), requeueing (%d/%d)",
					item.r.Start, item.r.End, err, item.attempts, maxSliceRequeues)
				queue = append(queue, item)
				continue
			}
			return err
		}
		stats.AddPages(1)
	}
	return nil
}

func isTransient(err error) bool {
	var transientErr *TransientError
	if errorsAs(err, &transientErr) {
		return true
	}
	var rateErr *RateLimitError
	return errorsAs(err, &rateErr)
}

// parseBulkFile walks the JSONL stream. The server guarantees a parent
// precedes its children; the parser keeps product/variant cursors and
// commits each one when its successor starts.
func (m *ProductsModule) parseBulkFile(path string, stats *PullStats) error {
	scanner, err := newBulkScanner(m.Name(), path)
	if err != nil {
		return err
	}
	defer scanner.Close()

	prodIns := m.tables.ProductInserter(store.Update)
	varIns := m.tables.VariantInserter(store.Update)

	cursors := &productCursors{}

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
			if err := cursors.flushVariant(varIns, stats); err != nil {
				return err
			}
			if err := cursors.flushProduct(prodIns, stats); err != nil {
				return err
			}
			product, err := m.parseProductLine(line)
			if err != nil {
				return err
			}
			cursors.product = product

		case "ProductVariant":
			if err := cursors.flushVariant(varIns, stats); err != nil {
				return err
			}
			variant, err := m.parseVariantLine(line)
			if err != nil {
				return err
			}
			cursors.variant = variant

		case "MediaImage":
			if err := m.attachMedia(cursors, line); err != nil {
				return err
			}

		case "Publication", "ResourcePublication":
			if err := m.attachPublication(cursors, line); err != nil {
				return err
			}

		case "":
			// Id-less children: publication nodes hang off a product,
			// presentment price nodes off a variant.
			if GIDType(line.ParentGID) == "Product" {
				if err := m.attachPublication(cursors, line); err != nil {
					return err
				}
				continue
			}
			if err := m.attachPresentmentPrice(cursors, line); err != nil {
				return err
			}

		default:
			log.Tracef("products: skipping unexpected %s node", line.Kind)
		}
	}

	if err := cursors.flushVariant(varIns, stats); err != nil {
		return err
	}
	if err := cursors.flushProduct(prodIns, stats); err != nil {
		return err
	}
	if err := varIns.Flush(); err != nil {
		return &StoreError{Table: "products_vars", Err: err}
	}
	if err := prodIns.Flush(); err != nil {
		return &StoreError{Table: "products_prod", Err: err}
	}
	return nil
}

// productCursors tracks the open product/variant while their children
// stream past.
type productCursors struct {
	product *Product
	variant *Variant
}

func (c *productCursors) flushProduct(ins *store.Inserter, stats *PullStats) error {
	if c.product == nil {
		return nil
	}
	data, err := c.product.Fields.JSON()
	if err != nil {
		return err
	}
	if err := ins.AddProduct(c.product.ID, data); err != nil {
		return &StoreError{Table: "products_prod", Err: err}
	}
	stats.AddProducts(1)
	c.product = nil
	return nil
}

func (c *productCursors) flushVariant(ins *store.Inserter, stats *PullStats) error {
	if c.variant == nil {
		return nil
	}
	data, err := c.variant.Fields.JSON()
	if err != nil {
		return err
	}
	if err := ins.AddVariant(c.variant.ID, c.variant.ProductID, data); err != nil {
		return &StoreError{Table: "products_vars", Err: err}
	}
	stats.AddVariants(1)
	c.variant = nil
	return nil
}

func (m *ProductsModule) parseProductLine(line *bulkLine) (*Product, error) {
	var node ProductNode
	if err := line.decodeInto(m.Name(), &node); err != nil {
		return nil, err
	}
	gid, err := ParseGID(string(node.ID))
	if err != nil {
		return nil, &ParseError{Module: m.Name(), Line: line.Number, Reason: err.Error()}
	}

	tags := make([]interface{}, 0, len(node.Tags))
	for _, t := range node.Tags {
		tags = append(tags, string(t))
	}
	options := make([]interface{}, 0, len(node.Options))
	for _, o := range node.Options {
		values := make([]interface{}, 0, len(o.Values))
		for _, v := range o.Values {
			values = append(values, string(v))
		}
		options = append(options, map[string]interface{}{
			"name":     string(o.Name),
			"position": int64(o.Position),
			"values":   values,
		})
	}

	bag := FieldBag{
		"id":               gid.ID,
		"title":            string(node.Title),
		"description_html": string(node.DescriptionHTML),
		"vendor":           string(node.Vendor),
		"product_type":     string(node.ProductType),
		"tags":             tags,
		"handle":           string(node.Handle),
		"status":           string(node.Status),
		"published_at":     node.PublishedAt.ValueOrZero(),
		"created_at":       string(node.CreatedAt),
		"options":          options,
		"media":            []interface{}{},
	}
	return &Product{ID: gid.ID, Fields: bag}, nil
}

func (m *ProductsModule) parseVariantLine(line *bulkLine) (*Variant, error) {
	var node VariantNode
	if err := line.decodeInto(m.Name(), &node); err != nil {
		return nil, err
	}
	gid, err := ParseGID(string(node.ID))
	if err != nil {
		return nil, &ParseError{Module: m.Name(), Line: line.Number, Reason: err.Error()}
	}
	parentGID, err := ParseGID(string(node.ParentID))
	if err != nil {
		return nil, &ParseError{Module: m.Name(), Line: line.Number, Reason: fmt.Sprintf("variant parent: %s", err)}
	}

	selected := make([]interface{}, 0, len(node.SelectedOptions))
	for _, so := range node.SelectedOptions {
		selected = append(selected, map[string]interface{}{
			"name":  string(so.Name),
			"value": string(so.Value),
		})
		if m.settings.VariantNamesSplitColumns {
			m.template.Append("variant_" + strings.ToLower(string(so.Name)))
		}
	}

	bag := FieldBag{
		"id":                 gid.ID,
		"product_id":         parentGID.ID,
		"title":              string(node.Title),
		"sku":                node.SKU.ValueOrZero(),
		"barcode":            node.Barcode.ValueOrZero(),
		"price":              string(node.Price),
		"compare_at_price":   node.CompareAtPrice.ValueOrZero(),
		"position":           int64(node.Position),
		"selected_options":   selected,
		"inventory_quantity": node.InventoryQuantity.ValueOrZero(),
		"inventory_policy":   strings.ToLower(string(node.InventoryPolicy)),
		"available_for_sale": bool(node.AvailableForSale),
		"taxable":            node.TaxableField.ValueOrZero(),
	}

	if node.Image != nil && node.Image.URL != "" {
		bag["image"] = map[string]interface{}{"url": string(node.Image.URL)}
	}
	if item := node.InventoryItem; item != nil {
		bag["inventory_item_id"] = GIDID(string(item.ID))
		bag["inventory_sku"] = item.SKU.ValueOrZero()
		bag["inventory_tracked"] = bool(item.Tracked)
		bag["requires_shipping"] = bool(item.RequiresShipping)
		if item.Measurement != nil && item.Measurement.Weight != nil {
			bag["weight"] = trimFloat(float64(item.Measurement.Weight.Value))
			bag["weight_unit"] = string(item.Measurement.Weight.Unit)
		}
		if item.UnitCost != nil {
			bag["unit_cost"] = string(item.UnitCost.Amount)
			bag["unit_cost_currency"] = string(item.UnitCost.CurrencyCode)
		}
	}

	return &Variant{ID: gid.ID, ProductID: parentGID.ID, Fields: bag}, nil
}

// attachMedia appends a MediaImage to the open variant when it is the
// node's parent, otherwise to the open product. Variant media also tags
// the matching product media with the variant id.
func (m *ProductsModule) attachMedia(cursors *productCursors, line *bulkLine) error {
	var node MediaImageNode
	if err := line.decodeInto(m.Name(), &node); err != nil {
		return err
	}
	media := map[string]interface{}{
		"url":      string(node.Image.URL),
		"alt_text": node.Image.AltText.ValueOrZero(),
		"width":    int64(node.Image.Width),
		"height":   int64(node.Image.Height),
	}

	parentKind := GIDType(string(node.ParentID))
	if parentKind == "ProductVariant" && cursors.variant != nil {
		existing, _ := cursors.variant.Fields["media"].([]interface{})
		cursors.variant.Fields["media"] = append(existing, media)
		if cursors.product != nil {
			tagProductMedia(cursors.product.Fields, string(node.Image.URL), cursors.variant.ID)
		}
		return nil
	}

	if cursors.product == nil {
		return &ParseError{Module: m.Name(), Line: line.Number, Reason: "media node with no open product"}
	}
	existing, _ := cursors.product.Fields["media"].([]interface{})
	cursors.product.Fields["media"] = append(existing, media)
	return nil
}

// tagProductMedia records that a product media image belongs to a variant.
func tagProductMedia(p FieldBag, url string, variantID int64) {
	media, _ := p["media"].([]interface{})
	for _, raw := range media {
		entry, ok := raw.(map[string]interface{})
		if !ok || entry["url"] != url {
			continue
		}
		ids, _ := entry["variant_ids"].([]interface{})
		entry["variant_ids"] = append(ids, variantID)
		return
	}
	// Variant-only media: surface it on the product list too, so the
	// additional-image derivations see a single pool.
	p["media"] = append(media, map[string]interface{}{
		"url":         url,
		"variant_ids": []interface{}{variantID},
	})
}

func (m *ProductsModule) attachPublication(cursors *productCursors, line *bulkLine) error {
	if cursors.product == nil {
		return &ParseError{Module: m.Name(), Line: line.Number, Reason: "publication node with no open product"}
	}
	var node PublicationNode
	if err := line.decodeInto(m.Name(), &node); err != nil {
		return err
	}
	existing, _ := cursors.product.Fields["publications"].([]interface{})
	cursors.product.Fields["publications"] = append(existing, map[string]interface{}{
		"channel":      string(node.Channel.Handle),
		"is_published": node.IsPublished.ValueOrZero(),
	})
	return nil
}

func (m *ProductsModule) attachPresentmentPrice(cursors *productCursors, line *bulkLine) error {
	if GIDType(line.ParentGID) != "ProductVariant" || cursors.variant == nil {
		return &ParseError{Module: m.Name(), Line: line.Number, Reason: "price node outside a variant"}
	}
	var node PresentmentPriceNode
	if err := line.decodeInto(m.Name(), &node); err != nil {
		return err
	}
	price := map[string]interface{}{
		"price":    string(node.Price.Amount),
		"currency": string(node.Price.CurrencyCode),
	}
	if node.CompareAtPrice != nil {
		price["compare_at_price"] = string(node.CompareAtPrice.Amount)
	}
	existing, _ := cursors.variant.Fields["presentment_prices"].([]interface{})
	cursors.variant.Fields["presentment_prices"] = append(existing, price)
	return nil
}

// Join phase.

func (m *ProductsModule) GetProducts(afterID int64, limit int) ([]*Product, error) {
	return m.pageProducts(afterID, limit)
}

func (m *ProductsModule) GetVariants(p *Product) ([]*Variant, error) {
	return m.variantsFor(p.ID)
}

func (m *ProductsModule) AddDataToProduct(p *Product, cells map[string]string) error {
	bag := p.Fields
	if bag == nil || !bag.Has("title") {
		// Another module is primary; fetch our own staging row.
		var err error
		bag, err = m.productBag(p.ID)
		if err != nil {
			return err
		}
		if bag == nil {
			return nil
		}
		p.Fields = bag
	}

	cells["title"] = bag.GetString("title")
	cells["description"] = bag.GetString("description_html")
	cells["brand"] = bag.GetString("vendor")
	cells["product_type"] = bag.GetString("product_type")
	cells["handle"] = bag.GetString("handle")
	cells["status"] = strings.ToLower(bag.GetString("status"))
	cells["published_status"] = PublishedStatus(bag)
	cells["published_at"] = bag.GetString("published_at")
	cells["created_at"] = bag.GetString("created_at")
	cells["tags"] = joinSlice(bag.GetSlice("tags"), ",")
	cells["options"] = jsonCell(bag["options"])
	cells["additional_image_link"] = m.additionalImageLink(bag)
	for _, field := range m.settings.ExtraParentFields {
		if bag.Has(field) {
			cells[field] = bag.GetString(field)
		}
	}
	return nil
}

func (m *ProductsModule) AddDataToVariant(p *Product, v *Variant, cells map[string]string) error {
	bag := v.Fields
	if bag == nil || !bag.Has("price") {
		var err error
		bag, err = m.variantBag(v.ID)
		if err != nil {
			return err
		}
		if bag == nil {
			return nil
		}
		v.Fields = bag
	}

	cells["variant_title"] = bag.GetString("title")
	cells["sku"] = bag.GetString("sku")
	cells["barcode"] = bag.GetString("barcode")
	cells["price"] = Price(bag, m.settings.ComparePriceOverride)
	cells["sale_price"] = SalePrice(bag)
	cells["availability"] = Availability(bag)
	cells["position"] = bag.GetString("position")
	cells["weight"] = Weight(bag)
	cells["weight_unit"] = WeightUnit(bag.GetString("weight_unit"))
	cells["shipping_weight"] = ShippingWeight(bag)
	cells["requires_shipping"] = BoolString(bag.GetBool("requires_shipping"))
	cells["taxable"] = BoolString(bag.GetBool("taxable"))
	cells["inventory_quantity"] = bag.GetString("inventory_quantity")
	cells["inventory_policy"] = bag.GetString("inventory_policy")
	cells["image_link"] = ImageLink(bag)
	cells["link"] = Link(m.shopCtx, p.Fields, v.ID)

	cells["inventory_management"] = inventoryManagement(bag, m.settings.UseLegacyFulfillmentMapping)
	// Baseline service; the inventory module overrides this with the
	// per-location handle when level data carries one.
	if svc := bag.GetString("fulfillment_service"); svc != "" {
		cells["fulfillment_service"] = svc
	} else {
		cells["fulfillment_service"] = "manual"
	}

	if m.settings.VariantNamesSplitColumns {
		// Columns were appended at parse time; here only the cells fill.
		for name, value := range VariantNames(bag) {
			cells["variant_"+strings.ToLower(name)] = value
		}
	} else {
		cells["variant_names"] = VariantNamesJSON(bag)
	}

	cells["additional_variant_image_link"] = AdditionalVariantImageLink(p.Fields, bag)

	if m.settings.UseGMCTransitionID {
		cells["gmc_transition_id"] = GMCTransitionID(m.shopCtx, p.ID, v.ID)
	}
	if m.settings.IncludePresentmentPrices && bag.Has("presentment_prices") {
		cells["presentment_prices"] = jsonCell(bag["presentment_prices"])
	}
	for _, field := range m.settings.ExtraVariantFields {
		if bag.Has(field) {
			cells[field] = bag.GetString(field)
		}
	}
	return nil
}

// inventoryManagement reports who manages stock for the variant. The
// current mapping only distinguishes tracked ("shopify") from untracked
// (""). Legacy mode mirrors the old REST field instead: a variant
// serviced by a third-party fulfillment service reported that service's
// handle as its inventory management.
func inventoryManagement(v FieldBag, legacy bool) string {
	if legacy {
		if svc := v.GetString("fulfillment_service"); svc != "" && svc != "manual" {
			return svc
		}
	}
	if v.GetBool("inventory_tracked") {
		return "shopify"
	}
	return ""
}

func (m *ProductsModule) additionalImageLink(p FieldBag) string {
	var urls []string
	for _, raw := range p.GetSlice("media") {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if url := FieldBag(entry).GetString("url"); url != "" {
			urls = append(urls, url)
		}
	}
	return strings.Join(urls, ",")
}
