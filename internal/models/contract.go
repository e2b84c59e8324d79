package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Contract defines the commercial terms a lesson is billed under.
type Contract struct {
	ID          string  `db:"id" json:"id"`
	StudentID   *string `db:"student_id" json:"student_id,omitempty"`
	TeacherID   *string `db:"teacher_id" json:"teacher_id,omitempty"`
	SubjectName string  `db:"subject_name" json:"subject_name"`
	// DurationLabel describes the booked lesson length, e.g. "60 min".
	DurationLabel string          `db:"duration_label" json:"duration_label"`
	Rate          decimal.Decimal `db:"rate" json:"rate"`
	// WeeklyFloor is the minimum number of lesson units charged per period.
	WeeklyFloor            decimal.Decimal `db:"weekly_floor" json:"weekly_floor"`
	RegistrationFee        decimal.Decimal `db:"registration_fee" json:"registration_fee"`
	RegistrationFeeCharged bool            `db:"registration_fee_charged" json:"registration_fee_charged"`
	Active                 bool            `db:"active" json:"active"`
	CreatedAt              time.Time       `db:"created_at" json:"created_at"`
}

// FeeContext is the per-student registration-fee state consulted by the fee
// policy. The fee is charged once per student, ever, across all contracts.
type FeeContext struct {
	RegistrationFee        decimal.Decimal `db:"registration_fee"`
	RegistrationFeeCharged bool            `db:"registration_fee_charged"`
}
