package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/agency-billing-api/internal/models"
)

// LessonRepository reads the lesson ledger. All mutation of lesson billing
// status happens inside the settlement writer transaction, never here.
type LessonRepository struct {
	db *sqlx.DB
}

// NewLessonRepository constructs the repository.
func NewLessonRepository(db *sqlx.DB) *LessonRepository {
	return &LessonRepository{db: db}
}

// partyColumn maps a billing type to the ledger column identifying the
// billable party.
func partyColumn(t models.BillingType) string {
	if t == models.BillingTypePayables {
		return "teacher_id"
	}
	return "student_id"
}

// DistinctBillableParties returns the IDs of every party with at least one
// billable lesson in the period. Settled lessons never reappear here, which
// is what makes re-running a period idempotent.
func (r *LessonRepository) DistinctBillableParties(ctx context.Context, billingType models.BillingType, period models.Period) ([]string, error) {
	column := partyColumn(billingType)
	query := fmt.Sprintf(`SELECT DISTINCT %s FROM lessons
        WHERE month = $1 AND year = $2 AND status = $3 AND %s IS NOT NULL
        ORDER BY %s`, column, column, column)

	var parties []string
	if err := r.db.SelectContext(ctx, &parties, query, period.Month, period.Year, models.BillableLessonStatus(billingType)); err != nil {
		return nil, fmt.Errorf("list billable parties: %w", err)
	}
	return parties, nil
}

// ListBillableByParty returns a party's billable lessons for the period,
// joined with contract terms. The contract join is LEFT so a lesson whose
// contract row is missing still surfaces and can be skipped with a warning.
func (r *LessonRepository) ListBillableByParty(ctx context.Context, billingType models.BillingType, partyID string, period models.Period) ([]models.BillableLesson, error) {
	query := fmt.Sprintf(`SELECT l.id, l.student_id, l.teacher_id, l.contract_id, l.month, l.year,
        l.quantity, l.rate, l.status, l.invoice_id, l.delivered_at,
        c.subject_name AS subject_name, c.duration_label AS duration_label, c.weekly_floor AS weekly_floor
        FROM lessons l
        LEFT JOIN contracts c ON c.id = l.contract_id
        WHERE l.%s = $1 AND l.month = $2 AND l.year = $3 AND l.status = $4
        ORDER BY l.delivered_at, l.id`, partyColumn(billingType))

	var lessons []models.BillableLesson
	if err := r.db.SelectContext(ctx, &lessons, query, partyID, period.Month, period.Year, models.BillableLessonStatus(billingType)); err != nil {
		return nil, fmt.Errorf("list billable lessons: %w", err)
	}
	return lessons, nil
}

// CountBillableByParty returns how many billable lessons remain for a party
// and period. Used by reconciliation and idempotence checks.
func (r *LessonRepository) CountBillableByParty(ctx context.Context, billingType models.BillingType, partyID string, period models.Period) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM lessons
        WHERE %s = $1 AND month = $2 AND year = $3 AND status = $4`, partyColumn(billingType))

	var count int
	if err := r.db.GetContext(ctx, &count, query, partyID, period.Month, period.Year, models.BillableLessonStatus(billingType)); err != nil {
		return 0, fmt.Errorf("count billable lessons: %w", err)
	}
	return count, nil
}
