package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/agency-billing-api/internal/models"
	appErrors "github.com/noah-isme/agency-billing-api/pkg/errors"
)

// InvoiceRepository persists settlement results and serves the invoice read
// side. CreateSettlement is the only place lesson billing status changes.
type InvoiceRepository struct {
	db *sqlx.DB
}

// NewInvoiceRepository constructs the repository.
func NewInvoiceRepository(db *sqlx.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

const insertInvoiceQuery = `INSERT INTO invoices (id, student_id, teacher_id, month, year, total_amount, total_quantity, status, lhid, generated_at)
        VALUES (:id, :student_id, :teacher_id, :month, :year, :total_amount, :total_quantity, :status, :lhid, :generated_at)`

const insertInvoiceLineQuery = `INSERT INTO invoice_lines (id, invoice_id, description, detail_text, quantity, rate, amount, is_registration_fee)
        VALUES (:id, :invoice_id, :description, :detail_text, :quantity, :rate, :amount, :is_registration_fee)`

// CreateSettlement writes one party's settlement as a single transaction:
// invoice, line items, registration-fee flag, then the lesson status flips.
// The statement order keeps "invoice before flips" so a partial replay can
// never leave a lesson marked billed without its invoice.
func (r *InvoiceRepository) CreateSettlement(ctx context.Context, input models.SettlementInput) (*models.Invoice, error) {
	if input.Amount == nil || len(input.Amount.Lines) == 0 {
		return nil, fmt.Errorf("settlement for party %s has no lines", input.PartyID)
	}
	if len(input.SourceLessonIDs) == 0 {
		return nil, fmt.Errorf("settlement for party %s has no source lessons", input.PartyID)
	}

	invoice := models.Invoice{
		ID:               uuid.NewString(),
		Month:            input.Period.Month,
		Year:             input.Period.Year,
		TotalAmount:      input.Amount.Total,
		TotalQuantity:    input.Amount.BilledQuantity,
		Status:           models.InvoiceStatusPaid,
		LessonHistoryIDs: strings.Join(input.SourceLessonIDs, ","),
		GeneratedAt:      time.Now().UTC(),
	}
	if input.BillingType == models.BillingTypePayables {
		invoice.TeacherID = &input.PartyID
	} else {
		invoice.StudentID = &input.PartyID
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin settlement: %w", err)
	}

	if _, err := tx.NamedExecContext(ctx, insertInvoiceQuery, invoice); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("insert invoice: %w", err)
	}

	for _, line := range input.Amount.Lines {
		row := models.InvoiceLine{
			ID:                uuid.NewString(),
			InvoiceID:         invoice.ID,
			Description:       line.Description,
			DetailText:        line.DetailText,
			Quantity:          line.Quantity,
			Rate:              line.Rate,
			Amount:            line.Amount,
			IsRegistrationFee: line.IsRegistrationFee,
		}
		if _, err := tx.NamedExecContext(ctx, insertInvoiceLineQuery, row); err != nil {
			tx.Rollback() //nolint:errcheck
			return nil, fmt.Errorf("insert invoice line: %w", err)
		}
	}

	if input.Amount.ChargeRegistrationFee && input.BillingType == models.BillingTypeReceivables {
		const chargeQuery = `UPDATE contracts SET registration_fee_charged = TRUE WHERE student_id = $1`
		if _, err := tx.ExecContext(ctx, chargeQuery, input.PartyID); err != nil {
			tx.Rollback() //nolint:errcheck
			return nil, fmt.Errorf("mark registration fee charged: %w", err)
		}
	}

	flipped, err := r.flipLessons(ctx, tx, input, invoice.ID)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}
	if flipped != int64(len(input.SourceLessonIDs)) {
		// Another writer settled part of this batch between aggregation and
		// commit. Abort rather than risk a double bill.
		tx.Rollback() //nolint:errcheck
		return nil, appErrors.Clone(appErrors.ErrConflict, "lessons already settled by a concurrent run")
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit settlement: %w", err)
	}
	return &invoice, nil
}

func (r *InvoiceRepository) flipLessons(ctx context.Context, tx *sqlx.Tx, input models.SettlementInput, invoiceID string) (int64, error) {
	placeholders := make([]string, len(input.SourceLessonIDs))
	args := make([]interface{}, 0, len(input.SourceLessonIDs)+3)
	args = append(args, models.SettledLessonStatus(input.BillingType), invoiceID, models.BillableLessonStatus(input.BillingType))
	for i, id := range input.SourceLessonIDs {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, id)
	}
	query := fmt.Sprintf(`UPDATE lessons SET status = $1, invoice_id = $2 WHERE status = $3 AND id IN (%s)`,
		strings.Join(placeholders, ","))

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("flip lesson status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("flip lesson status: %w", err)
	}
	return affected, nil
}

// List returns invoices filtered by the provided criteria.
func (r *InvoiceRepository) List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error) {
	base := "FROM invoices i"
	var conditions []string
	var args []interface{}

	if filter.BillingType == models.BillingTypeReceivables {
		conditions = append(conditions, "i.student_id IS NOT NULL")
	} else if filter.BillingType == models.BillingTypePayables {
		conditions = append(conditions, "i.teacher_id IS NOT NULL")
	}
	if filter.PartyID != "" {
		conditions = append(conditions, fmt.Sprintf("(i.student_id = $%d OR i.teacher_id = $%d)", len(args)+1, len(args)+1))
		args = append(args, filter.PartyID)
	}
	if filter.Month > 0 {
		conditions = append(conditions, fmt.Sprintf("i.month = $%d", len(args)+1))
		args = append(args, filter.Month)
	}
	if filter.Year > 0 {
		conditions = append(conditions, fmt.Sprintf("i.year = $%d", len(args)+1))
		args = append(args, filter.Year)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("i.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"generated_at": "i.generated_at",
		"total_amount": "i.total_amount",
		"period":       "i.year, i.month",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "i.generated_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT i.id, i.student_id, i.teacher_id, i.month, i.year, i.total_amount,
        i.total_quantity, i.status, i.lhid, i.generated_at
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var invoices []models.Invoice
	if err := r.db.SelectContext(ctx, &invoices, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}
	return invoices, total, nil
}

// FindWithLines returns an invoice with its line items.
func (r *InvoiceRepository) FindWithLines(ctx context.Context, id string) (*models.InvoiceWithLines, error) {
	const invoiceQuery = `SELECT id, student_id, teacher_id, month, year, total_amount, total_quantity, status, lhid, generated_at
        FROM invoices WHERE id = $1`
	var invoice models.Invoice
	if err := r.db.GetContext(ctx, &invoice, invoiceQuery, id); err != nil {
		return nil, err
	}

	const linesQuery = `SELECT id, invoice_id, description, detail_text, quantity, rate, amount, is_registration_fee
        FROM invoice_lines WHERE invoice_id = $1 ORDER BY is_registration_fee, description`
	var lines []models.InvoiceLine
	if err := r.db.SelectContext(ctx, &lines, linesQuery, id); err != nil {
		return nil, fmt.Errorf("list invoice lines: %w", err)
	}
	return &models.InvoiceWithLines{Invoice: invoice, Lines: lines}, nil
}

// UpdateStatus applies a soft status change. Invoices are never deleted by
// this subsystem, DELETED is just another status.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id string, status models.InvoiceStatus) error {
	const query = `UPDATE invoices SET status = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
	}
	return nil
}

// FindOrphanedInvoiceIDs reports invoices whose source lessons still carry a
// billable status. That state can only arise from a crash between the writer
// statements replayed without a transaction, and is safe to repair.
func (r *InvoiceRepository) FindOrphanedInvoiceIDs(ctx context.Context, billingType models.BillingType) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT i.id FROM invoices i
        JOIN lessons l ON l.invoice_id = i.id
        WHERE l.status = $1 AND l.%s IS NOT NULL ORDER BY i.id`, partyColumn(billingType))

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, models.BillableLessonStatus(billingType)); err != nil {
		return nil, fmt.Errorf("find orphaned invoices: %w", err)
	}
	return ids, nil
}

// RepairLessonStatuses re-flips lessons that reference an invoice but kept
// their billable status. Idempotent: repaired lessons no longer match.
func (r *InvoiceRepository) RepairLessonStatuses(ctx context.Context, billingType models.BillingType) (int64, error) {
	query := fmt.Sprintf(`UPDATE lessons SET status = $1
        WHERE invoice_id IS NOT NULL AND status = $2 AND %s IS NOT NULL`, partyColumn(billingType))

	result, err := r.db.ExecContext(ctx, query, models.SettledLessonStatus(billingType), models.BillableLessonStatus(billingType))
	if err != nil {
		return 0, fmt.Errorf("repair lesson statuses: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("repair lesson statuses: %w", err)
	}
	return affected, nil
}
