package shopify

import (
	"context"

	"github.com/agentworkforce/ordersync/internal/orders"
	"github.com/goccy/go-json"
)

const (
	MaxPageSize = 250

	openOrdersQuery = "fulfillment_status:unfulfilled OR fulfillment_status:in_progress"
)

const ordersPageQuery = `query OrdersPage($first: Int!, $after: String, $query: String) {
  orders(first: $first, after: $after, query: $query, sortKey: CREATED_AT, reverse: true) {
    pageInfo {
      hasNextPage
      endCursor
    }
    edges {
      cursor
      node {
        id
        name
        email
        createdAt
        displayFulfillmentStatus
        displayFinancialStatus
        customer {
          id
          email
          firstName
          lastName
        }
        totalPriceSet {
          shopMoney {
            amount
            currencyCode
          }
        }
        lineItems(first: 50) {
          edges {
            node {
              id
              title
              quantity
              variant {
                id
                title
                price
                sku
                inventoryQuantity
              }
            }
          }
        }
      }
    }
  }
}`

type ordersPageData struct {
	Orders struct {
		PageInfo struct {
			HasNextPage bool    `json:"hasNextPage"`
			EndCursor   *string `json:"endCursor"`
		} `json:"pageInfo"`
		Edges []struct {
			Cursor string          `json:"cursor"`
			Node   json.RawMessage `json:"node"`
		} `json:"edges"`
	} `json:"orders"`
}

// FetchOrdersPage returns up to first orders after cursor, newest first. An
// empty cursor starts from the beginning.
func (c *Client) FetchOrdersPage(ctx context.Context, cursor string, first int) (orders.Page, error) {
	if first <= 0 {
		first = 50
	}
	if first > MaxPageSize {
		first = MaxPageSize
	}
	variables := map[string]any{"first": first}
	if cursor != "" {
		variables["after"] = cursor
	}
	if c.filter == FilterOpen {
		variables["query"] = openOrdersQuery
	}

	var data ordersPageData
	if err := c.do(ctx, ordersPageQuery, variables, &data); err != nil {
		return orders.Page{}, err
	}

	page := orders.Page{
		Orders:      make([]orders.UpstreamOrder, 0, len(data.Orders.Edges)),
		HasNextPage: data.Orders.PageInfo.HasNextPage,
	}
	if data.Orders.PageInfo.EndCursor != nil {
		page.EndCursor = *data.Orders.PageInfo.EndCursor
	}
	for _, edge := range data.Orders.Edges {
		page.Orders = append(page.Orders, decodeOrder(edge.Node))
	}
	return page, nil
}

// decodeOrder maps a node onto an order. A node that does not fit the order
// shape keeps only its id and raw bytes, so validation rejects that record
// alone instead of the whole page.
func decodeOrder(node []byte) orders.UpstreamOrder {
	var order orders.UpstreamOrder
	if err := json.Unmarshal(node, &order); err != nil {
		var ident struct {
			ID any `json:"id"`
		}
		_ = json.Unmarshal(node, &ident)
		order = orders.UpstreamOrder{}
		if id, ok := ident.ID.(string); ok {
			order.ID = id
		}
	}
	order.Raw = append([]byte(nil), node...)
	return order
}
