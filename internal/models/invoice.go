package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the lifecycle of a generated invoice.
type InvoiceStatus string

// Possible invoice statuses. Settlement writes invoices as PAID: in this
// system generation and settlement are the same step, not an approval flow.
const (
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusActive    InvoiceStatus = "ACTIVE"
	InvoiceStatusSuspended InvoiceStatus = "SUSPENDED"
	InvoiceStatusDeleted   InvoiceStatus = "DELETED"
)

// Valid reports whether the status is a known invoice status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusPaid, InvoiceStatusActive, InvoiceStatusSuspended, InvoiceStatusDeleted:
		return true
	}
	return false
}

// Invoice is one settlement result for a (party, period) pair.
type Invoice struct {
	ID            string          `db:"id" json:"id"`
	StudentID     *string         `db:"student_id" json:"student_id,omitempty"`
	TeacherID     *string         `db:"teacher_id" json:"teacher_id,omitempty"`
	Month         int             `db:"month" json:"month"`
	Year          int             `db:"year" json:"year"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	TotalQuantity decimal.Decimal `db:"total_quantity" json:"total_quantity"`
	Status        InvoiceStatus   `db:"status" json:"status"`
	// LessonHistoryIDs is the comma-joined list of source lesson IDs kept
	// for audit traceability (the "lhid" column).
	LessonHistoryIDs string    `db:"lhid" json:"lesson_history_ids"`
	GeneratedAt      time.Time `db:"generated_at" json:"generated_at"`
}

// InvoiceLine is one line item of an invoice, immutable once written.
type InvoiceLine struct {
	ID          string `db:"id" json:"id"`
	InvoiceID   string `db:"invoice_id" json:"invoice_id"`
	Description string `db:"description" json:"description"`
	// DetailText is the rendered billing text, e.g. "Mathematics (60 min)".
	DetailText        string          `db:"detail_text" json:"detail_text"`
	Quantity          decimal.Decimal `db:"quantity" json:"quantity"`
	Rate              decimal.Decimal `db:"rate" json:"rate"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	IsRegistrationFee bool            `db:"is_registration_fee" json:"is_registration_fee"`
}

// InvoiceWithLines bundles an invoice with its line items for read endpoints.
type InvoiceWithLines struct {
	Invoice
	Lines []InvoiceLine `json:"lines"`
}

// InvoiceFilter provides filters for listing invoices.
type InvoiceFilter struct {
	BillingType BillingType
	PartyID     string
	Month       int
	Year        int
	Status      InvoiceStatus
	Page        int
	PageSize    int
	SortBy      string
	SortOrder   string
}
