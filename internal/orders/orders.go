package orders

import "time"

const (
	DefaultCurrencyCode      = "USD"
	DefaultAmount            = "0"
	DefaultFulfillmentStatus = "UNFULFILLED"
	DefaultFinancialStatus   = "PENDING"
)

// UpstreamOrder is an order node as returned by the Shopify Admin GraphQL API.
type UpstreamOrder struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	CreatedAt         string    `json:"createdAt"`
	Customer          *Customer `json:"customer"`
	TotalPriceSet     *PriceSet `json:"totalPriceSet"`
	FulfillmentStatus string    `json:"displayFulfillmentStatus"`
	FinancialStatus   string    `json:"displayFinancialStatus"`
	LineItems         LineItems `json:"lineItems"`

	// Raw is the node exactly as received, when the order came off the wire.
	Raw []byte `json:"-"`
}

type Customer struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type PriceSet struct {
	ShopMoney Money `json:"shopMoney"`
}

type Money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

type LineItems struct {
	Edges []LineItemEdge `json:"edges"`
}

type LineItemEdge struct {
	Node LineItem `json:"node"`
}

type LineItem struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Quantity int      `json:"quantity"`
	Variant  *Variant `json:"variant"`
}

type Variant struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Price             string `json:"price"`
	SKU               string `json:"sku,omitempty"`
	InventoryQuantity *int   `json:"inventoryQuantity,omitempty"`
}

// Page is one page of upstream orders. An empty EndCursor with HasNextPage
// false marks the end of the sequence.
type Page struct {
	Orders      []UpstreamOrder
	HasNextPage bool
	EndCursor   string
}

// StoredOrder is the persisted form of an order.
type StoredOrder struct {
	UpstreamOrder
	SyncedAt    string `json:"syncedAt"`
	LastUpdated string `json:"lastUpdated"`
}

// NewStoredOrder fills the fields Shopify may omit and stamps the write time.
func NewStoredOrder(o UpstreamOrder, now time.Time) StoredOrder {
	out := o
	out.Raw = nil

	customer := Customer{}
	if o.Customer != nil {
		customer = *o.Customer
	}
	out.Customer = &customer

	if o.TotalPriceSet == nil {
		out.TotalPriceSet = &PriceSet{ShopMoney: Money{Amount: DefaultAmount, CurrencyCode: DefaultCurrencyCode}}
	} else {
		price := *o.TotalPriceSet
		out.TotalPriceSet = &price
	}
	if out.FulfillmentStatus == "" {
		out.FulfillmentStatus = DefaultFulfillmentStatus
	}
	if out.FinancialStatus == "" {
		out.FinancialStatus = DefaultFinancialStatus
	}

	edges := make([]LineItemEdge, 0, len(o.LineItems.Edges))
	for _, edge := range o.LineItems.Edges {
		item := edge.Node
		if item.Quantity < 0 {
			item.Quantity = 0
		}
		if item.Variant != nil {
			variant := *item.Variant
			item.Variant = &variant
		}
		edges = append(edges, LineItemEdge{Node: item})
	}
	out.LineItems = LineItems{Edges: edges}

	stamp := now.UTC().Format(time.RFC3339Nano)
	return StoredOrder{UpstreamOrder: out, SyncedAt: stamp, LastUpdated: stamp}
}
