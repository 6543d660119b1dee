package shopify

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cast"

	"github.com/gempages/shopify-catalog-export/store"
)

// REST wire shapes for the product listing fallback.

type restProductsPage struct {
	Products []restProduct `json:"products"`
}

type restProduct struct {
	ID          int64             `json:"id"`
	Title       string            `json:"title"`
	BodyHTML    string            `json:"body_html"`
	Vendor      string            `json:"vendor"`
	ProductType string            `json:"product_type"`
	Tags        string            `json:"tags"`
	Handle      string            `json:"handle"`
	Status      string            `json:"status"`
	PublishedAt string            `json:"published_at"`
	CreatedAt   string            `json:"created_at"`
	Options     []restOption      `json:"options"`
	Images      []restImage       `json:"images"`
	Variants    []restVariant     `json:"variants"`
}

type restOption struct {
	Name     string   `json:"name"`
	Position int64    `json:"position"`
	Values   []string `json:"values"`
}

type restImage struct {
	Src        string  `json:"src"`
	Alt        string  `json:"alt"`
	Width      int64   `json:"width"`
	Height     int64   `json:"height"`
	VariantIDs []int64 `json:"variant_ids"`
}

type restVariant struct {
	ID                  int64   `json:"id"`
	ProductID           int64   `json:"product_id"`
	Title               string  `json:"title"`
	Price               string  `json:"price"`
	CompareAtPrice      *string `json:"compare_at_price"`
	SKU                 string  `json:"sku"`
	Barcode             *string `json:"barcode"`
	Position            int64   `json:"position"`
	Grams               int64   `json:"grams"`
	Weight              float64 `json:"weight"`
	WeightUnit          string  `json:"weight_unit"`
	InventoryQuantity   int64   `json:"inventory_quantity"`
	InventoryPolicy     string  `json:"inventory_policy"`
	InventoryManagement *string `json:"inventory_management"`
	FulfillmentService  string  `json:"fulfillment_service"`
	RequiresShipping    bool    `json:"requires_shipping"`
	Taxable             bool    `json:"taxable"`
	ImageID             *int64  `json:"image_id"`
	Option1             *string `json:"option1"`
	Option2             *string `json:"option2"`
	Option3             *string `json:"option3"`
}

// runREST lists products through the Admin REST API: the activity window
// is chunked into date ranges, each range paged by its own worker under
// its own rate limiter.
func (m *ProductsModule) runREST(ctx context.Context, stats *PullStats) error {
	ranges, err := m.client.productDateRanges(ctx, m.shopCtx, m.settings)
	if err != nil {
		return err
	}
	if len(ranges) == 0 {
		return nil
	}

	rate := restRateForBurst(m.client.rest.CallLimit().Total)
	modifier := restRateModifier(m.shopCtx.ProductCount)
	workers := restWorkerCount(rate, len(ranges))

	baseParams := m.settings.ProductFilters.RESTParams()
	delete(baseParams, "limit")

	jobs := make([]interface{}, 0, len(ranges))
	for _, r := range ranges {
		jobs = append(jobs, r)
	}

	prodIns := m.tables.ProductInserter(store.Update)
	varIns := m.tables.VariantInserter(store.Update)

	shopName := m.settings.ShopName
	token := m.settings.OAuthToken
	version := m.settings.APIVersion

	spawnLimiter := newSpawnLimiter(rate * modifier)

	child := func(job interface{}, w io.Writer) error {
		r := job.(DateRange)
		// A fresh client per worker: no shared connection or header state.
		client := NewRESTClient(shopName, token, version)
		pager := newRestPager(client, rate*modifier, modifier, ProductPageTiers)

		params := map[string]string{
			"created_at_min": r.Start.Format(time.RFC3339),
			"created_at_max": r.End.Format(time.RFC3339),
			"order":          "created_at ASC",
		}
		for k, v := range baseParams {
			params[k] = v
		}

		return pager.Pages(ctx, "products.json", params, func(page []byte) error {
			var decoded restProductsPage
			if err := json.Unmarshal(page, &decoded); err != nil {
				return &ParseError{Module: "products_rest", Reason: err.Error()}
			}
			for i := range decoded.Products {
				line, err := json.Marshal(decoded.Products[i])
				if err != nil {
					return err
				}
				if _, err := w.Write(append(line, '\n')); err != nil {
					return err
				}
			}
			return nil
		})
	}

	parent := func(output []byte, job interface{}, err error) error {
		if err != nil {
			return err
		}
		scanner := bufio.NewScanner(bytes.NewReader(output))
		scanner.Buffer(make([]byte, 0, 64*1024), MaxLineLength)
		for scanner.Scan() {
			var p restProduct
			if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
				return &ParseError{Module: "products_rest", Reason: err.Error()}
			}
			if err := m.persistRESTProduct(&p, prodIns, varIns, stats); err != nil {
				return err
			}
		}
		stats.AddPages(1)
		return scanner.Err()
	}

	if err := DoParallel(ctx, jobs, workers, child, parent, spawnLimiter); err != nil {
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

func (m *ProductsModule) persistRESTProduct(p *restProduct, prodIns, varIns *store.Inserter, stats *PullStats) error {
	if p.ID <= 0 {
		return &ParseError{Module: "products_rest", Reason: "product without id"}
	}

	bag := restProductBag(p)
	data, err := bag.JSON()
	if err != nil {
		return err
	}
	if err := prodIns.AddProduct(p.ID, data); err != nil {
		return &StoreError{Table: "products_prod", Err: err}
	}
	stats.AddProducts(1)

	if m.settings.VariantNamesSplitColumns {
		for _, o := range p.Options {
			m.template.Append("variant_" + strings.ToLower(o.Name))
		}
	}

	for i := range p.Variants {
		v := &p.Variants[i]
		if v.ID <= 0 {
			return &ParseError{Module: "products_rest", Reason: fmt.Sprintf("variant without id on product %d", p.ID)}
		}
		vbag := restVariantBag(p, v)
		vdata, err := vbag.JSON()
		if err != nil {
			return err
		}
		if err := varIns.AddVariant(v.ID, p.ID, vdata); err != nil {
			return &StoreError{Table: "products_vars", Err: err}
		}
		stats.AddVariants(1)
	}
	return nil
}

func restProductBag(p *restProduct) FieldBag {
	tags := []interface{}{}
	for _, t := range strings.Split(p.Tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	options := make([]interface{}, 0, len(p.Options))
	for _, o := range p.Options {
		values := make([]interface{}, 0, len(o.Values))
		for _, v := range o.Values {
			values = append(values, v)
		}
		options = append(options, map[string]interface{}{
			"name":     o.Name,
			"position": o.Position,
			"values":   values,
		})
	}
	media := make([]interface{}, 0, len(p.Images))
	for _, img := range p.Images {
		ids := make([]interface{}, 0, len(img.VariantIDs))
		for _, id := range img.VariantIDs {
			ids = append(ids, id)
		}
		media = append(media, map[string]interface{}{
			"url":         img.Src,
			"alt_text":    img.Alt,
			"width":       img.Width,
			"height":      img.Height,
			"variant_ids": ids,
		})
	}

	return FieldBag{
		"id":               p.ID,
		"title":            p.Title,
		"description_html": p.BodyHTML,
		"vendor":           p.Vendor,
		"product_type":     p.ProductType,
		"tags":             tags,
		"handle":           p.Handle,
		"status":           p.Status,
		"published_at":     p.PublishedAt,
		"created_at":       p.CreatedAt,
		"options":          options,
		"media":            media,
	}
}

func restVariantBag(p *restProduct, v *restVariant) FieldBag {
	tracked := v.InventoryManagement != nil && *v.InventoryManagement == "shopify"

	selected := []interface{}{}
	for i, value := range []*string{v.Option1, v.Option2, v.Option3} {
		if value == nil || *value == "" || i >= len(p.Options) {
			continue
		}
		selected = append(selected, map[string]interface{}{
			"name":  p.Options[i].Name,
			"value": *value,
		})
	}

	bag := FieldBag{
		"id":                 v.ID,
		"product_id":         p.ID,
		"title":              v.Title,
		"sku":                v.SKU,
		"barcode":            strValue(v.Barcode),
		"price":              v.Price,
		"compare_at_price":   strValue(v.CompareAtPrice),
		"position":           v.Position,
		"selected_options":   selected,
		"inventory_quantity": v.InventoryQuantity,
		"inventory_policy":   strings.ToLower(v.InventoryPolicy),
		"available_for_sale": true,
		"taxable":            v.Taxable,
		"inventory_tracked":  tracked,
		"requires_shipping":  v.RequiresShipping,
		"weight":             cast.ToString(v.Weight),
		"weight_unit":        strings.ToUpper(restWeightUnit(v.WeightUnit)),
		"fulfillment_service": v.FulfillmentService,
	}

	if v.ImageID != nil {
		for _, img := range p.Images {
			for _, id := range img.VariantIDs {
				if id == v.ID {
					bag["image"] = map[string]interface{}{"url": img.Src}
				}
			}
		}
	}
	return bag
}

func restWeightUnit(u string) string {
	switch strings.ToLower(u) {
	case "g":
		return "GRAMS"
	case "oz":
		return "OUNCES"
	case "lb":
		return "POUNDS"
	case "kg":
		return "KILOGRAMS"
	}
	return u
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
