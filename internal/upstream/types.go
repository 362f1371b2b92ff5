package upstream

import "encoding/json"

// Resource names a response field group the caller wants back.
type Resource = string

// Default resources requested when the caller passes none.
var DefaultResources = []Resource{
	"ItemInfo.Title",
	"Offers.Price",
	"Offers.SavingBasis",
	"Offers.Availability",
	"CustomerReviews",
}

// getItemsRequest is the wire shape of one item-lookup call.
type getItemsRequest struct {
	ItemIDs     []string `json:"ItemIds"`
	Marketplace string   `json:"Marketplace"`
	PartnerTag  string   `json:"PartnerTag,omitempty"`
	Resources   []string `json:"Resources,omitempty"`
}

// getItemsResponse is the wire shape of the upstream reply: an items array
// plus an optional top-level errors array. Items are kept raw so the
// free-form payload survives alongside the typed view.
type getItemsResponse struct {
	Items  []json.RawMessage `json:"items"`
	Errors []APIError        `json:"errors,omitempty"`
}

// APIError is one entry of the upstream's top-level errors array.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Item is the typed view over one upstream item. Every field except the id is
// optional: presence is tagged with pointers and checked explicitly instead
// of probing a dynamic payload.
type Item struct {
	ItemID        string   `json:"item_id"`
	Title         *string  `json:"title,omitempty"`
	Price         *float64 `json:"price,omitempty"`
	OriginalPrice *float64 `json:"original_price,omitempty"`
	Currency      *string  `json:"currency,omitempty"`
	Availability  *string  `json:"availability,omitempty"`
	Rating        *float64 `json:"rating,omitempty"`
	ReviewCount   *int     `json:"review_count,omitempty"`

	// Raw preserves the full upstream payload for snapshotting.
	Raw map[string]interface{} `json:"-"`
}

// ItemBatch is the parsed result of one FetchItems call.
type ItemBatch struct {
	Items  []Item
	Errors []APIError
}

// Find returns the item with the given id, or nil if the upstream omitted it.
func (b *ItemBatch) Find(itemID string) *Item {
	for i := range b.Items {
		if b.Items[i].ItemID == itemID {
			return &b.Items[i]
		}
	}
	return nil
}

// ErrorFor classifies the batch-level error that applies to a missing item.
// Used by callers to distinguish "upstream said the id is gone" from an
// unexplained omission.
func (b *ItemBatch) ErrorFor() *Error {
	for _, apiErr := range b.Errors {
		if kind, ok := classifyCode(apiErr.Code); ok {
			return newError(kind, apiErr.Code, apiErr.Message)
		}
	}
	if len(b.Errors) > 0 {
		return newError(KindItemNotAccessible, b.Errors[0].Code, b.Errors[0].Message)
	}
	return nil
}
