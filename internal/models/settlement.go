package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BillingPeriod selects the settlement window relative to a reference date.
type BillingPeriod string

// Supported billing periods.
const (
	BillingPeriodCurrent  BillingPeriod = "current"
	BillingPeriodPrevious BillingPeriod = "previous"
)

// Period is a resolved (month, year) settlement window. Reference is the
// date the window was resolved against, carried for the report.
type Period struct {
	Month     int       `json:"month"`
	Year      int       `json:"year"`
	Reference time.Time `json:"reference"`
}

// ResolvePeriod turns a billing period into a concrete window against the
// supplied clock value. "previous" resolves to the last calendar day of the
// month before now, so a run on the 1st still closes the prior month.
func ResolvePeriod(p BillingPeriod, now time.Time) (Period, error) {
	switch p {
	case BillingPeriodCurrent:
		return Period{Month: int(now.Month()), Year: now.Year(), Reference: now}, nil
	case BillingPeriodPrevious:
		ref := now.AddDate(0, 0, -now.Day())
		return Period{Month: int(ref.Month()), Year: ref.Year(), Reference: ref}, nil
	default:
		return Period{}, fmt.Errorf("unknown billing period %q", p)
	}
}

// LineGroup is one subject's share of a party's billable lessons.
type LineGroup struct {
	Subject    string          `json:"subject"`
	DetailText string          `json:"detail_text"`
	Quantity   decimal.Decimal `json:"quantity"`
	Rate       decimal.Decimal `json:"rate"`
}

// AggregateResult is the grouped view of a party's billable lessons for a
// period, produced by the aggregator and consumed by the fee policy.
type AggregateResult struct {
	PartyID         string
	TotalQuantity   decimal.Decimal
	Groups          []LineGroup
	SourceLessonIDs []string
	// WeeklyFloor carries the minimum-lesson floor from whichever lesson's
	// contract last supplied it. The floor is a per-party constant in
	// current usage, so last-write-wins is a known simplification.
	WeeklyFloor    decimal.Decimal
	SkippedLessons int
}

// SettlementLine is one computed invoice line before persistence.
type SettlementLine struct {
	Description       string
	DetailText        string
	Quantity          decimal.Decimal
	Rate              decimal.Decimal
	Amount            decimal.Decimal
	IsRegistrationFee bool
}

// SettlementAmount is the fee policy's output for one party.
type SettlementAmount struct {
	BilledQuantity decimal.Decimal
	Lines          []SettlementLine
	Total          decimal.Decimal
	// ChargeRegistrationFee marks the party's registration-fee flag to be
	// set true inside the writer transaction.
	ChargeRegistrationFee bool
}

// SettlementInput is everything the settlement writer persists as one unit.
type SettlementInput struct {
	BillingType     BillingType
	PartyID         string
	Period          Period
	Amount          *SettlementAmount
	SourceLessonIDs []string
}

// RunFailure records one party that could not be settled during a run.
type RunFailure struct {
	PartyID string `json:"party_id"`
	Reason  string `json:"reason"`
}

// RunReport summarises one settlement run. Partial failure is reported here,
// not as a run-level error, so schedulers do not retry completed work.
type RunReport struct {
	BillingType      BillingType     `json:"billing_type"`
	Month            int             `json:"month"`
	Year             int             `json:"year"`
	PartiesProcessed int             `json:"parties_processed"`
	PartiesFailed    int             `json:"parties_failed"`
	Failures         []RunFailure    `json:"failures,omitempty"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	TotalInvoices    int             `json:"total_invoices"`
	StartedAt        time.Time       `json:"started_at"`
	Duration         time.Duration   `json:"duration_ms"`
}
