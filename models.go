package shopify

import (
	"github.com/gempages/shopify-catalog-export/graphql"
	"gopkg.in/guregu/null.v4"
)

// Wire shapes for JSONL nodes coming out of bulk operations. A connection
// child carries __parentId pointing at its owning parent's GID.

type ProductNode struct {
	ID              graphql.ID          `json:"id"`
	Title           graphql.String      `json:"title"`
	DescriptionHTML graphql.String      `json:"descriptionHtml"`
	Vendor          graphql.String      `json:"vendor"`
	ProductType     graphql.String      `json:"productType"`
	Tags            []graphql.String    `json:"tags"`
	Handle          graphql.String      `json:"handle"`
	Status          graphql.String      `json:"status"`
	PublishedAt     null.String         `json:"publishedAt"`
	CreatedAt       graphql.String      `json:"createdAt"`
	Options         []ProductOptionNode `json:"options"`
	Translations    []TranslationNode   `json:"translations"`
}

type ProductOptionNode struct {
	Name     graphql.String   `json:"name"`
	Position graphql.Int      `json:"position"`
	Values   []graphql.String `json:"values"`
}

type VariantNode struct {
	ID                graphql.ID           `json:"id"`
	Title             graphql.String       `json:"title"`
	SKU               null.String          `json:"sku"`
	Barcode           null.String          `json:"barcode"`
	Price             graphql.String       `json:"price"`
	CompareAtPrice    null.String          `json:"compareAtPrice"`
	Position          graphql.Int          `json:"position"`
	SelectedOptions   []SelectedOptionNode `json:"selectedOptions"`
	InventoryQuantity null.Int             `json:"inventoryQuantity"`
	InventoryPolicy   graphql.String       `json:"inventoryPolicy"`
	AvailableForSale  graphql.Boolean      `json:"availableForSale"`
	TaxableField      null.Bool            `json:"taxable"`
	InventoryItem     *InventoryItemNode   `json:"inventoryItem"`
	Image             *ImageNode           `json:"image"`
	ParentID          graphql.ID           `json:"__parentId"`
}

type SelectedOptionNode struct {
	Name  graphql.String `json:"name"`
	Value graphql.String `json:"value"`
}

type InventoryItemNode struct {
	ID               graphql.ID       `json:"id"`
	SKU              null.String      `json:"sku"`
	Tracked          graphql.Boolean  `json:"tracked"`
	RequiresShipping graphql.Boolean  `json:"requiresShipping"`
	Measurement      *MeasurementNode `json:"measurement"`
	UnitCost         *MoneyNode       `json:"unitCost"`
}

type MeasurementNode struct {
	Weight *WeightNode `json:"weight"`
}

type WeightNode struct {
	Value graphql.Float  `json:"value"`
	Unit  graphql.String `json:"unit"`
}

type MoneyNode struct {
	Amount       graphql.String `json:"amount"`
	CurrencyCode graphql.String `json:"currencyCode"`
}

type ImageNode struct {
	URL     graphql.String `json:"url"`
	AltText null.String    `json:"altText"`
	Width   graphql.Int    `json:"width"`
	Height  graphql.Int    `json:"height"`
}

// MediaImageNode is a media connection child; the image payload nests
// under `image`.
type MediaImageNode struct {
	ID       graphql.ID `json:"id"`
	Image    ImageNode  `json:"image"`
	ParentID graphql.ID `json:"__parentId"`
}

type PublicationNode struct {
	Channel struct {
		ID     graphql.ID     `json:"id"`
		Handle graphql.String `json:"handle"`
	} `json:"channel"`
	PublishDate null.String `json:"publishDate"`
	IsPublished null.Bool   `json:"isPublished"`
	ParentID    graphql.ID  `json:"__parentId"`
}

// PresentmentPriceNode has no id of its own; it is recognized by shape.
type PresentmentPriceNode struct {
	Price          MoneyNode  `json:"price"`
	CompareAtPrice *MoneyNode `json:"compareAtPrice"`
	ParentID       graphql.ID `json:"__parentId"`
}

type MetafieldNode struct {
	ID          graphql.ID     `json:"id"`
	Namespace   graphql.String `json:"namespace"`
	Key         graphql.String `json:"key"`
	Value       graphql.String `json:"value"`
	Description null.String    `json:"description"`
	ParentID    graphql.ID     `json:"__parentId"`
}

type CollectionNode struct {
	ID      graphql.ID     `json:"id"`
	Handle  graphql.String `json:"handle"`
	Title   graphql.String `json:"title"`
	RuleSet *struct {
		AppliedDisjunctively graphql.Boolean `json:"appliedDisjunctively"`
	} `json:"ruleSet"`
	ParentID graphql.ID `json:"__parentId"`
}

type TranslationNode struct {
	Locale graphql.String `json:"locale"`
	Key    graphql.String `json:"key"`
	Value  null.String    `json:"value"`
}

type InventoryLevelNode struct {
	ID         graphql.ID `json:"id"`
	Quantities []struct {
		Name     graphql.String `json:"name"`
		Quantity graphql.Int    `json:"quantity"`
	} `json:"quantities"`
	Location struct {
		ID                 graphql.ID     `json:"id"`
		Name               graphql.String `json:"name"`
		FulfillmentService *struct {
			Handle graphql.String `json:"handle"`
		} `json:"fulfillmentService"`
	} `json:"location"`
	ParentID graphql.ID `json:"__parentId"`
}

// UserErrors is the standard mutation error list.
type UserErrors struct {
	Field   []graphql.String `json:"field"`
	Message graphql.String   `json:"message"`
}
