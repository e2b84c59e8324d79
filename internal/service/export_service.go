package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/agency-billing-api/internal/models"
	appErrors "github.com/noah-isme/agency-billing-api/pkg/errors"
	"github.com/noah-isme/agency-billing-api/pkg/export"
	"github.com/noah-isme/agency-billing-api/pkg/storage"
)

// exportPageSize caps how many invoices a single export fetches.
const exportPageSize = 10000

type invoiceLister interface {
	List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, int, error)
}

// ExportResult points a caller at a generated export file.
type ExportResult struct {
	FileName  string    `json:"file_name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	RowCount  int       `json:"row_count"`
}

// ExportService renders invoice listings to CSV files served through signed
// download tokens.
type ExportService struct {
	invoices invoiceLister
	csv      *export.CSVExporter
	store    *storage.ExportStore
	signer   *storage.URLSigner
	logger   *zap.Logger
}

// NewExportService constructs ExportService.
func NewExportService(invoices invoiceLister, store *storage.ExportStore, signer *storage.URLSigner, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		invoices: invoices,
		csv:      export.NewCSVExporter(),
		store:    store,
		signer:   signer,
		logger:   logger,
	}
}

// ExportInvoices writes all invoices matching the filter to a CSV file and
// returns a signed token for downloading it.
func (s *ExportService) ExportInvoices(ctx context.Context, filter models.InvoiceFilter) (*ExportResult, error) {
	if filter.BillingType != "" && !filter.BillingType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidBillingType, "")
	}
	filter.Page = 1
	filter.PageSize = exportPageSize

	invoices, _, err := s.invoices.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list invoices for export")
	}

	dataset := export.Dataset{
		Headers: []string{"id", "student_id", "teacher_id", "month", "year", "total_quantity", "total_amount", "status", "generated_at"},
	}
	for _, inv := range invoices {
		dataset.Rows = append(dataset.Rows, []string{
			inv.ID,
			deref(inv.StudentID),
			deref(inv.TeacherID),
			fmt.Sprintf("%d", inv.Month),
			fmt.Sprintf("%d", inv.Year),
			inv.TotalQuantity.String(),
			inv.TotalAmount.String(),
			string(inv.Status),
			inv.GeneratedAt.Format(time.RFC3339),
		})
	}

	data, err := s.csv.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	name := exportFileName(filter)
	if _, err := s.store.Save(name, data); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}

	token, expiresAt, err := s.signer.Generate(name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export download")
	}

	s.logger.Info("invoice export generated",
		zap.String("file", name),
		zap.Int("rows", len(invoices)))

	return &ExportResult{FileName: name, Token: token, ExpiresAt: expiresAt, RowCount: len(invoices)}, nil
}

// OpenDownload validates a signed token and opens the referenced export file.
func (s *ExportService) OpenDownload(token string) (*os.File, string, error) {
	name, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid download token")
	}
	file, err := s.store.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export no longer available")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export")
	}
	return file, name, nil
}

func exportFileName(filter models.InvoiceFilter) string {
	billingType := string(filter.BillingType)
	if billingType == "" {
		billingType = "all"
	}
	if filter.Month > 0 && filter.Year > 0 {
		return fmt.Sprintf("invoices-%s-%04d-%02d-%d.csv", billingType, filter.Year, filter.Month, time.Now().UnixNano())
	}
	return fmt.Sprintf("invoices-%s-%d.csv", billingType, time.Now().UnixNano())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
