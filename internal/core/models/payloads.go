package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SaleItem is one line of a sale.
type SaleItem struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	TotalPrice int64  `json:"total_price"`
}

// CreateSalePayload records a sale made at the till.
type CreateSalePayload struct {
	Items         []SaleItem `json:"items"`
	PaymentMethod string     `json:"payment_method"`
	SoldBy        string     `json:"sold_by"`
	CustomerName  string     `json:"customer_name,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	BusinessDate  string     `json:"business_date"`
}

// CreateSupplyPayload records a stock delivery.
type CreateSupplyPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitCost  int64  `json:"unit_cost"`
	Supplier  string `json:"supplier,omitempty"`
}

// UpdateProductPayload mutates product attributes (price, stock, name).
type UpdateProductPayload struct {
	ProductID string                 `json:"product_id"`
	Updates   map[string]interface{} `json:"updates"`
}

// CreateReturnPayload records a product return.
type CreateReturnPayload struct {
	SaleID  string     `json:"sale_id"`
	Items   []SaleItem `json:"items"`
	Reason  string     `json:"reason,omitempty"`
	Restock bool       `json:"restock"`
}

// AddExpensePayload records an expense entry.
type AddExpensePayload struct {
	Amount      int64  `json:"amount"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

// UpdateVenuePayload mutates venue settings.
type UpdateVenuePayload struct {
	Updates map[string]interface{} `json:"updates"`
}

// DecodePayload unmarshals an operation payload into the concrete type for
// its tag. Malformed replay payloads fail here instead of at the remote.
func DecodePayload(op *Operation) (interface{}, error) {
	var target interface{}

	switch op.Type {
	case OpCreateSale:
		target = &CreateSalePayload{}
	case OpCreateSupply:
		target = &CreateSupplyPayload{}
	case OpUpdateProduct:
		target = &UpdateProductPayload{}
	case OpCreateReturn:
		target = &CreateReturnPayload{}
	case OpAddExpense:
		target = &AddExpensePayload{}
	case OpUpdateVenue:
		target = &UpdateVenuePayload{}
	default:
		return nil, fmt.Errorf("unknown operation type: %s", op.Type)
	}

	if err := json.Unmarshal(op.Payload, target); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", op.Type, err)
	}
	return target, nil
}

// EncodePayload marshals a typed payload for storage on an operation.
func EncodePayload(payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

// BusinessDate assigns a sale or expense to a business day. Venues close
// after midnight, so everything before the closing hour still belongs to
// the previous calendar day.
func BusinessDate(t time.Time, closingHour int) string {
	if t.Hour() < closingHour {
		t = t.AddDate(0, 0, -1)
	}
	return t.Format("2006-01-02")
}
