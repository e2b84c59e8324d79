package service

import (
	"context"
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/agency-billing-api/internal/models"
	appErrors "github.com/noah-isme/agency-billing-api/pkg/errors"
)

type invoiceRepository interface {
	List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error)
	FindWithLines(ctx context.Context, id string) (*models.InvoiceWithLines, error)
	UpdateStatus(ctx context.Context, id string, status models.InvoiceStatus) error
	FindOrphanedInvoiceIDs(ctx context.Context, billingType models.BillingType) ([]string, error)
	RepairLessonStatuses(ctx context.Context, billingType models.BillingType) (int64, error)
}

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	BillingType        models.BillingType `json:"billing_type"`
	OrphanedInvoiceIDs []string           `json:"orphaned_invoice_ids,omitempty"`
	LessonsRepaired    int64              `json:"lessons_repaired"`
}

// InvoiceService serves the invoice read side and the reconciliation repair.
type InvoiceService struct {
	repo   invoiceRepository
	logger *zap.Logger
}

// NewInvoiceService constructs InvoiceService.
func NewInvoiceService(repo invoiceRepository, logger *zap.Logger) *InvoiceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceService{repo: repo, logger: logger}
}

// List returns invoices with pagination metadata.
func (s *InvoiceService) List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, *models.Pagination, error) {
	if filter.BillingType != "" && !filter.BillingType.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidBillingType, "")
	}
	invoices, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list invoices")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return invoices, pagination, nil
}

// Get returns an invoice with its lines.
func (s *InvoiceService) Get(ctx context.Context, id string) (*models.InvoiceWithLines, error) {
	invoice, err := s.repo.FindWithLines(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice")
	}
	return invoice, nil
}

// UpdateStatus applies a soft status change to an invoice.
func (s *InvoiceService) UpdateStatus(ctx context.Context, id, status string) error {
	parsed := models.InvoiceStatus(strings.ToUpper(status))
	if !parsed.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "invalid invoice status")
	}
	if err := s.repo.UpdateStatus(ctx, id, parsed); err != nil {
		if appErr := appErrors.FromError(err); appErr.Code == appErrors.ErrNotFound.Code {
			return appErr
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update invoice status")
	}
	return nil
}

// Reconcile finds invoices whose source lessons kept a billable status and
// re-flips those lessons. Safe to run repeatedly.
func (s *InvoiceService) Reconcile(ctx context.Context, billingType models.BillingType) (*ReconcileReport, error) {
	if !billingType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidBillingType, "")
	}
	orphaned, err := s.repo.FindOrphanedInvoiceIDs(ctx, billingType)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to find orphaned invoices")
	}
	repaired, err := s.repo.RepairLessonStatuses(ctx, billingType)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to repair lesson statuses")
	}
	if repaired > 0 {
		s.logger.Info("reconciliation repaired lessons",
			zap.String("billing_type", string(billingType)),
			zap.Int64("lessons_repaired", repaired),
			zap.Int("orphaned_invoices", len(orphaned)))
	}
	return &ReconcileReport{BillingType: billingType, OrphanedInvoiceIDs: orphaned, LessonsRepaired: repaired}, nil
}
