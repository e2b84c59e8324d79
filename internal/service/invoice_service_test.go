package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/agency-billing-api/internal/models"
	appErrors "github.com/noah-isme/agency-billing-api/pkg/errors"
)

type mockInvoiceRepo struct {
	invoices map[string]*models.InvoiceWithLines
	statuses map[string]models.InvoiceStatus
	orphaned []string
	repaired int64
}

func (m *mockInvoiceRepo) List(context.Context, models.InvoiceFilter) ([]models.Invoice, int, error) {
	var list []models.Invoice
	for _, inv := range m.invoices {
		list = append(list, inv.Invoice)
	}
	return list, len(list), nil
}

func (m *mockInvoiceRepo) FindWithLines(_ context.Context, id string) (*models.InvoiceWithLines, error) {
	if inv, ok := m.invoices[id]; ok {
		return inv, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockInvoiceRepo) UpdateStatus(_ context.Context, id string, status models.InvoiceStatus) error {
	if _, ok := m.invoices[id]; !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
	}
	if m.statuses == nil {
		m.statuses = make(map[string]models.InvoiceStatus)
	}
	m.statuses[id] = status
	return nil
}

func (m *mockInvoiceRepo) FindOrphanedInvoiceIDs(context.Context, models.BillingType) ([]string, error) {
	return m.orphaned, nil
}

func (m *mockInvoiceRepo) RepairLessonStatuses(context.Context, models.BillingType) (int64, error) {
	return m.repaired, nil
}

func TestInvoiceServiceGetNotFound(t *testing.T) {
	svc := NewInvoiceService(&mockInvoiceRepo{}, nil)

	_, err := svc.Get(context.Background(), "inv-missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestInvoiceServiceUpdateStatus(t *testing.T) {
	repo := &mockInvoiceRepo{invoices: map[string]*models.InvoiceWithLines{
		"inv-1": {Invoice: models.Invoice{ID: "inv-1", Status: models.InvoiceStatusPaid}},
	}}
	svc := NewInvoiceService(repo, nil)

	require.NoError(t, svc.UpdateStatus(context.Background(), "inv-1", "suspended"))
	assert.Equal(t, models.InvoiceStatusSuspended, repo.statuses["inv-1"])
}

func TestInvoiceServiceUpdateStatusRejectsUnknown(t *testing.T) {
	svc := NewInvoiceService(&mockInvoiceRepo{}, nil)

	err := svc.UpdateStatus(context.Background(), "inv-1", "archived")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestInvoiceServiceListRejectsUnknownBillingType(t *testing.T) {
	svc := NewInvoiceService(&mockInvoiceRepo{}, nil)

	_, _, err := svc.List(context.Background(), models.InvoiceFilter{BillingType: "margins"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidBillingType.Code, appErrors.FromError(err).Code)
}

func TestInvoiceServiceReconcile(t *testing.T) {
	repo := &mockInvoiceRepo{orphaned: []string{"inv-9"}, repaired: 2}
	svc := NewInvoiceService(repo, nil)

	report, err := svc.Reconcile(context.Background(), models.BillingTypeReceivables)
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-9"}, report.OrphanedInvoiceIDs)
	assert.Equal(t, int64(2), report.LessonsRepaired)
}

func TestInvoiceServiceReconcileRejectsUnknownType(t *testing.T) {
	svc := NewInvoiceService(&mockInvoiceRepo{}, nil)

	_, err := svc.Reconcile(context.Background(), models.BillingType("margins"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidBillingType.Code, appErrors.FromError(err).Code)
}
