package handler

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/agency-billing-api/internal/models"
	"github.com/noah-isme/agency-billing-api/internal/service"
	"github.com/noah-isme/agency-billing-api/pkg/response"
)

type invoiceExporter interface {
	ExportInvoices(ctx context.Context, filter models.InvoiceFilter) (*service.ExportResult, error)
	OpenDownload(token string) (*os.File, string, error)
}

// ExportHandler exposes CSV export generation and signed downloads.
type ExportHandler struct {
	exports invoiceExporter
}

// NewExportHandler constructs ExportHandler.
func NewExportHandler(exports invoiceExporter) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// Export godoc
// @Summary Export invoices to CSV
// @Tags Invoices
// @Produce json
// @Param type query string false "Billing type"
// @Param partyId query string false "Filter by party"
// @Param month query int false "Filter by month"
// @Param year query int false "Filter by year"
// @Param status query string false "Filter by status"
// @Success 200 {object} response.Envelope
// @Router /invoices/export [post]
func (h *ExportHandler) Export(c *gin.Context) {
	filter := parseInvoiceFilter(c)
	result, err := h.exports.ExportInvoices(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Download godoc
// @Summary Download a generated export
// @Tags Invoices
// @Produce text/csv
// @Param token path string true "Signed download token"
// @Success 200
// @Router /exports/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	file, name, err := h.exports.OpenDownload(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.DataFromReader(http.StatusOK, info.Size(), "text/csv", file, nil)
}
