package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/agency-billing-api/internal/models"
)

// ContractRepository handles read access to contracts and the per-student
// registration-fee state.
type ContractRepository struct {
	db *sqlx.DB
}

// NewContractRepository constructs the repository.
func NewContractRepository(db *sqlx.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

// FindByID returns a contract by its ID.
func (r *ContractRepository) FindByID(ctx context.Context, id string) (*models.Contract, error) {
	const query = `SELECT id, student_id, teacher_id, subject_name, duration_label, rate,
        weekly_floor, registration_fee, registration_fee_charged, active, created_at
        FROM contracts WHERE id = $1`
	var contract models.Contract
	if err := r.db.GetContext(ctx, &contract, query, id); err != nil {
		return nil, err
	}
	return &contract, nil
}

// ListByStudent returns a student's contracts.
func (r *ContractRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Contract, error) {
	const query = `SELECT id, student_id, teacher_id, subject_name, duration_label, rate,
        weekly_floor, registration_fee, registration_fee_charged, active, created_at
        FROM contracts WHERE student_id = $1 ORDER BY created_at`
	var contracts []models.Contract
	if err := r.db.SelectContext(ctx, &contracts, query, studentID); err != nil {
		return nil, fmt.Errorf("list student contracts: %w", err)
	}
	return contracts, nil
}

// RegistrationFeeState aggregates the student's registration-fee standing
// across all of their contracts: charged if any contract already charged it,
// and the largest configured fee amount otherwise. A student with no
// contract rows yields a zero fee, which the fee policy treats as no fee.
func (r *ContractRepository) RegistrationFeeState(ctx context.Context, studentID string) (*models.FeeContext, error) {
	const query = `SELECT COALESCE(BOOL_OR(registration_fee_charged), FALSE) AS registration_fee_charged,
        COALESCE(MAX(registration_fee), 0) AS registration_fee
        FROM contracts WHERE student_id = $1`
	var state models.FeeContext
	if err := r.db.GetContext(ctx, &state, query, studentID); err != nil {
		return nil, fmt.Errorf("registration fee state: %w", err)
	}
	return &state, nil
}
