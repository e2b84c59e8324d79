package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingType selects which side of the ledger a settlement run covers.
type BillingType string

// Supported billing types.
const (
	// BillingTypeReceivables settles lessons against students.
	BillingTypeReceivables BillingType = "receivables"
	// BillingTypePayables settles lessons owed to teachers.
	BillingTypePayables BillingType = "payables"
)

// Valid reports whether the billing type is one of the supported values.
func (t BillingType) Valid() bool {
	return t == BillingTypeReceivables || t == BillingTypePayables
}

// LessonStatus represents the billing lifecycle of a ledger entry.
type LessonStatus string

// Raw ledger status labels. The labels are shared between the two billing
// types but carry opposite meanings: a student lesson is billable while
// ACTIVE and settles to INVOICE_CREATED, a teacher lesson is billable while
// PENDING and settles to ACTIVE. The mapping functions below are the only
// place this asymmetry lives; everything else asks for "billable" or
// "settled" per billing type.
const (
	LessonStatusPending        LessonStatus = "PENDING"
	LessonStatusActive         LessonStatus = "ACTIVE"
	LessonStatusInvoiceCreated LessonStatus = "INVOICE_CREATED"
)

// BillableLessonStatus returns the ledger status marking a lesson as not yet
// billed for the given billing type.
func BillableLessonStatus(t BillingType) LessonStatus {
	if t == BillingTypePayables {
		return LessonStatusPending
	}
	return LessonStatusActive
}

// SettledLessonStatus returns the terminal ledger status for the given
// billing type. Settled lessons never re-enter aggregation.
func SettledLessonStatus(t BillingType) LessonStatus {
	if t == BillingTypePayables {
		return LessonStatusActive
	}
	return LessonStatusInvoiceCreated
}

// LessonRecord is one delivered tutoring session in the ledger.
type LessonRecord struct {
	ID         string          `db:"id" json:"id"`
	StudentID  *string         `db:"student_id" json:"student_id,omitempty"`
	TeacherID  *string         `db:"teacher_id" json:"teacher_id,omitempty"`
	ContractID string          `db:"contract_id" json:"contract_id"`
	Month      int             `db:"month" json:"month"`
	Year       int             `db:"year" json:"year"`
	Quantity   decimal.Decimal `db:"quantity" json:"quantity"`
	Rate       decimal.Decimal `db:"rate" json:"rate"`
	Status     LessonStatus    `db:"status" json:"status"`
	InvoiceID  *string         `db:"invoice_id" json:"invoice_id,omitempty"`
	DeliveredAt time.Time      `db:"delivered_at" json:"delivered_at"`
}

// BillableLesson joins a ledger entry with its contract for aggregation.
// The contract columns are nullable: a lesson pointing at a missing contract
// still comes back and is skipped with a warning by the aggregator.
type BillableLesson struct {
	LessonRecord
	SubjectName   *string             `db:"subject_name" json:"subject_name,omitempty"`
	DurationLabel *string             `db:"duration_label" json:"duration_label,omitempty"`
	WeeklyFloor   decimal.NullDecimal `db:"weekly_floor" json:"weekly_floor,omitempty"`
}
