package shopify

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"github.com/gempages/shopify-catalog-export/store"
	"github.com/gempages/shopify-catalog-export/utils"
)

// TranslationsModule pulls per-product storefront translations for the
// requested locales. Variants are not translated. Each distinct
// locale/key pair becomes one output column.
type TranslationsModule struct {
	moduleBase
	locales []string
}

func NewTranslationsModule(base moduleBase, locales []string) *TranslationsModule {
	if len(locales) == 0 {
		locales = []string{"en"}
	}
	return &TranslationsModule{moduleBase: base, locales: locales}
}

func (m *TranslationsModule) Name() string    { return "translations" }
func (m *TranslationsModule) Precedence() int { return precedenceTranslations }

func (m *TranslationsModule) OutputFields() []string {
	// Columns appear as locale/key pairs are discovered during the pull.
	return nil
}

func (m *TranslationsModule) buildBulkQuery(locale string) string {
	searchArgs := m.settings.ProductFilters.GraphSearchArgs(nil, nil)

	return fmt.Sprintf(`{
	products%s {
		edges {
			node {
				id
				translations(locale: "%s") {
					key
					locale
					value
				}
			}
		}
	}
}`, searchArgs, locale)
}

// Run pulls one bulk operation per locale. Translations are an inline
// list field (not a connection), so each product line already carries its
// translations.
func (m *TranslationsModule) Run(ctx context.Context, stats *PullStats) error {
	for _, locale := range m.locales {
		resultFile, err := m.client.BulkOperation.RunBulkQuery(ctx, m.buildBulkQuery(locale))
		if err != nil {
			return err
		}
		if resultFile == "" {
			continue
		}
		err = m.parseBulkFile(resultFile, stats)
		utils.RemoveFile(resultFile)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *TranslationsModule) parseBulkFile(path string, stats *PullStats) error {
	scanner, err := newBulkScanner(m.Name(), path)
	if err != nil {
		return err
	}
	defer scanner.Close()

	ins := m.tables.ProductInserter(store.Update)

	for {
		line, err := scanner.Next()
		if err != nil {
			return err
		}
		if line == nil {
			break
		}
		if line.Kind != "Product" {
			stats.AddWarnings(1)
			continue
		}

		var node ProductNode
		if err := line.decodeInto(m.Name(), &node); err != nil {
			return err
		}
		productID := GIDID(string(node.ID))
		if productID == 0 {
			return &ParseError{Module: m.Name(), Line: line.Number, Reason: "product without numeric id"}
		}

		translations := map[string]interface{}{}
		for _, tr := range node.Translations {
			if tr.Key == "" || !tr.Value.Valid {
				continue
			}
			column := TranslationColumnName(string(tr.Locale), string(tr.Key))
			translations[column] = tr.Value.String
			m.template.Append(column)
		}
		if len(translations) == 0 {
			continue
		}

		// Per-locale runs upsert into the same row, merging columns.
		existing, err := m.productBag(productID)
		if err != nil {
			return err
		}
		if existing != nil {
			for k, v := range existing.GetBag("translations") {
				if _, ok := translations[k]; !ok {
					translations[k] = v
				}
			}
		}

		bag := FieldBag{"translations": translations}
		data, err := bag.JSON()
		if err != nil {
			return err
		}
		if err := ins.AddProduct(productID, data); err != nil {
			return &StoreError{Table: "translations_prod", Err: err}
		}
		stats.AddProducts(1)
	}

	if err := ins.Flush(); err != nil {
		return &StoreError{Table: "translations_prod", Err: err}
	}
	return nil
}

func (m *TranslationsModule) GetProducts(afterID int64, limit int) ([]*Product, error) {
	return m.pageProducts(afterID, limit)
}

func (m *TranslationsModule) GetVariants(p *Product) ([]*Variant, error) {
	return m.variantsFor(p.ID)
}

func (m *TranslationsModule) AddDataToProduct(p *Product, cells map[string]string) error {
	bag, err := m.productBag(p.ID)
	if err != nil || bag == nil {
		return err
	}
	for column, value := range bag.GetBag("translations") {
		cells[column] = cast.ToString(value)
	}
	return nil
}

func (m *TranslationsModule) AddDataToVariant(p *Product, v *Variant, cells map[string]string) error {
	return nil
}
