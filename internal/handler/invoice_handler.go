package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/agency-billing-api/internal/models"
	appErrors "github.com/noah-isme/agency-billing-api/pkg/errors"
	"github.com/noah-isme/agency-billing-api/pkg/response"
)

type invoiceReader interface {
	List(ctx context.Context, filter models.InvoiceFilter) ([]models.Invoice, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.InvoiceWithLines, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// InvoiceHandler exposes invoice read endpoints for the admin screens.
type InvoiceHandler struct {
	invoices invoiceReader
}

// NewInvoiceHandler constructs InvoiceHandler.
func NewInvoiceHandler(invoices invoiceReader) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices}
}

// parseInvoiceFilter reads the shared listing filters from query params.
func parseInvoiceFilter(c *gin.Context) models.InvoiceFilter {
	var filter models.InvoiceFilter
	filter.BillingType = models.BillingType(strings.ToLower(c.Query("type")))
	filter.PartyID = c.Query("partyId")
	if month, err := strconv.Atoi(c.DefaultQuery("month", "0")); err == nil {
		filter.Month = month
	}
	if year, err := strconv.Atoi(c.DefaultQuery("year", "0")); err == nil {
		filter.Year = year
	}
	filter.Status = models.InvoiceStatus(strings.ToUpper(c.Query("status")))
	return filter
}

// List godoc
// @Summary List invoices
// @Tags Invoices
// @Produce json
// @Param type query string false "Billing type"
// @Param partyId query string false "Filter by party"
// @Param month query int false "Filter by month"
// @Param year query int false "Filter by year"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /invoices [get]
func (h *InvoiceHandler) List(c *gin.Context) {
	filter := parseInvoiceFilter(c)
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	invoices, pagination, err := h.invoices.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoices, pagination)
}

// Get godoc
// @Summary Get an invoice with its line items
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id} [get]
func (h *InvoiceHandler) Get(c *gin.Context) {
	invoice, err := h.invoices.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoice, nil)
}

// UpdateStatusRequest describes a soft invoice status change.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus godoc
// @Summary Change invoice status
// @Tags Invoices
// @Accept json
// @Produce json
// @Param id path string true "Invoice ID"
// @Param payload body UpdateStatusRequest true "Status payload"
// @Success 204
// @Router /invoices/{id}/status [patch]
func (h *InvoiceHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.invoices.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
