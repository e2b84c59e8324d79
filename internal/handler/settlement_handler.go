package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noah-isme/agency-billing-api/internal/models"
	"github.com/noah-isme/agency-billing-api/internal/service"
	appErrors "github.com/noah-isme/agency-billing-api/pkg/errors"
	"github.com/noah-isme/agency-billing-api/pkg/jobs"
	"github.com/noah-isme/agency-billing-api/pkg/response"
)

type settlementRunner interface {
	Run(ctx context.Context, req service.RunSettlementRequest) (*models.RunReport, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, billingType models.BillingType) (*service.ReconcileReport, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// SettlementHandler exposes the settlement trigger endpoints.
type SettlementHandler struct {
	settlements settlementRunner
	invoices    reconciler
	queue       jobEnqueuer
}

// NewSettlementHandler constructs SettlementHandler. queue may be nil, in
// which case async requests run synchronously.
func NewSettlementHandler(settlements settlementRunner, invoices reconciler, queue jobEnqueuer) *SettlementHandler {
	return &SettlementHandler{settlements: settlements, invoices: invoices, queue: queue}
}

// Run godoc
// @Summary Trigger a settlement run
// @Tags Settlements
// @Accept json
// @Produce json
// @Param payload body service.RunSettlementRequest true "Run payload"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /settlements/run [post]
func (h *SettlementHandler) Run(c *gin.Context) {
	var req service.RunSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if req.Async && h.queue != nil {
		job := jobs.Job{ID: uuid.NewString(), Type: "settlement.run", Payload: req}
		if err := h.queue.Enqueue(job); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue settlement run"))
			return
		}
		response.Accepted(c, gin.H{"job_id": job.ID, "message": "settlement run enqueued"})
		return
	}

	report, err := h.settlements.Run(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Reconcile godoc
// @Summary Repair lessons left unbilled by an interrupted settlement
// @Tags Settlements
// @Accept json
// @Produce json
// @Param type query string true "Billing type"
// @Success 200 {object} response.Envelope
// @Router /settlements/reconcile [post]
func (h *SettlementHandler) Reconcile(c *gin.Context) {
	billingType := models.BillingType(strings.ToLower(c.Query("type")))
	report, err := h.invoices.Reconcile(c.Request.Context(), billingType)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
