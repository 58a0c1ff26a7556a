package domain

import "time"

// Product is the catalog document. QuantityAvailable, ReservedQuantity and
// Holds are owned by the inventory ledger.
type Product struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	Category          string          `json:"category,omitempty"`
	ImageURL          string          `json:"imageUrl,omitempty"`
	Price             int64           `json:"price"`
	QuantityAvailable int             `json:"quantityAvailable"`
	ReservedQuantity  int             `json:"reservedQuantity"`
	Holds             map[string]Hold `json:"holds,omitempty"`
	Featured          bool            `json:"featured"`
	Active            bool            `json:"active"`
	Rating            float64         `json:"rating"`
	ReviewCount       int             `json:"reviewCount"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Hold is a reservation recorded on the product it reserves.
type Hold struct {
	Quantity  int       `json:"quantity"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
}

// LineItem is one product line of a cart or order.
type LineItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

type ShippingInfo struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state,omitempty"`
	ZipCode   string `json:"zipCode"`
	Country   string `json:"country,omitempty"`
}
