package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketRecord is the authority's ticket detail at lookup time. It is a
// read-only projection: the used flag only changes by replacing the record
// with a server response.
type TicketRecord struct {
	TicketID          string          `json:"ticket_id"`
	Buyer             Buyer           `json:"buyer"`
	Event             EventInfo       `json:"event"`
	Quantity          int             `json:"quantity"`
	Tier              Tier            `json:"tier"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency,omitempty"`
	PurchaseReference string          `json:"purchase_reference"`
	Used              bool            `json:"used"`
	UsedAt            *time.Time      `json:"used_at,omitempty"`
	VerifiedBy        string          `json:"verified_by,omitempty"`
}

type Buyer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type EventInfo struct {
	ID    string    `json:"id,omitempty"`
	Title string    `json:"title"`
	Date  time.Time `json:"date"`
}

type Tier struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"` // regular, vip, early_bird
}

func (t *TicketRecord) IsUsed() bool {
	return t != nil && t.Used
}

// Clone returns a deep copy so callers cannot mutate a session's record.
func (t *TicketRecord) Clone() *TicketRecord {
	if t == nil {
		return nil
	}
	c := *t
	if t.UsedAt != nil {
		usedAt := *t.UsedAt
		c.UsedAt = &usedAt
	}
	return &c
}
