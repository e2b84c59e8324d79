package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/agency-billing-api/internal/models"
	"github.com/noah-isme/agency-billing-api/internal/service"
	appErrors "github.com/noah-isme/agency-billing-api/pkg/errors"
	"github.com/noah-isme/agency-billing-api/pkg/jobs"
)

type fakeSettlementSrv struct {
	report  *models.RunReport
	err     error
	lastReq service.RunSettlementRequest
	calls   int
}

func (f *fakeSettlementSrv) Run(_ context.Context, req service.RunSettlementRequest) (*models.RunReport, error) {
	f.lastReq = req
	f.calls++
	return f.report, f.err
}

type fakeReconcileSrv struct {
	report   *service.ReconcileReport
	err      error
	lastType models.BillingType
}

func (f *fakeReconcileSrv) Reconcile(_ context.Context, billingType models.BillingType) (*service.ReconcileReport, error) {
	f.lastType = billingType
	return f.report, f.err
}

type fakeQueue struct {
	jobs []jobs.Job
	err  error
}

func (f *fakeQueue) Enqueue(job jobs.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func TestSettlementHandlerRunInvalidPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeSettlementSrv{}
	handler := NewSettlementHandler(srv, &fakeReconcileSrv{}, nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/settlements/run", strings.NewReader("{not json"))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Run(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, srv.calls)
}

func TestSettlementHandlerRunSync(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeSettlementSrv{report: &models.RunReport{
		BillingType:      models.BillingTypeReceivables,
		Month:            3,
		Year:             2024,
		PartiesProcessed: 2,
	}}
	handler := NewSettlementHandler(srv, &fakeReconcileSrv{}, nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	body := `{"type":"receivables","period":"current"}`
	c.Request = httptest.NewRequest(http.MethodPost, "/settlements/run", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Run(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "receivables", srv.lastReq.Type)
	assert.Equal(t, "current", srv.lastReq.Period)

	var envelope struct {
		Data models.RunReport `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, 2, envelope.Data.PartiesProcessed)
}

func TestSettlementHandlerRunAsyncEnqueues(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeSettlementSrv{}
	queue := &fakeQueue{}
	handler := NewSettlementHandler(srv, &fakeReconcileSrv{}, queue)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	body := `{"type":"payables","period":"previous","async":true}`
	c.Request = httptest.NewRequest(http.MethodPost, "/settlements/run", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Run(c)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 0, srv.calls)
	if assert.Len(t, queue.jobs, 1) {
		assert.Equal(t, "settlement.run", queue.jobs[0].Type)
		assert.NotEmpty(t, queue.jobs[0].ID)
	}
}

func TestSettlementHandlerRunAsyncWithoutQueueRunsInline(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeSettlementSrv{report: &models.RunReport{BillingType: models.BillingTypePayables}}
	handler := NewSettlementHandler(srv, &fakeReconcileSrv{}, nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	body := `{"type":"payables","period":"current","async":true}`
	c.Request = httptest.NewRequest(http.MethodPost, "/settlements/run", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Run(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, srv.calls)
}

func TestSettlementHandlerRunConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeSettlementSrv{err: appErrors.ErrRunInProgress}
	handler := NewSettlementHandler(srv, &fakeReconcileSrv{}, nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	body := `{"type":"receivables","period":"current"}`
	c.Request = httptest.NewRequest(http.MethodPost, "/settlements/run", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Run(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSettlementHandlerReconcile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeReconcileSrv{report: &service.ReconcileReport{
		BillingType:     models.BillingTypeReceivables,
		LessonsRepaired: 3,
	}}
	handler := NewSettlementHandler(&fakeSettlementSrv{}, srv, nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/settlements/reconcile?type=RECEIVABLES", nil)

	handler.Reconcile(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.BillingTypeReceivables, srv.lastType)

	var envelope struct {
		Data service.ReconcileReport `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, int64(3), envelope.Data.LessonsRepaired)
}

func TestSettlementHandlerReconcileError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := &fakeReconcileSrv{err: errors.New("db offline")}
	handler := NewSettlementHandler(&fakeSettlementSrv{}, srv, nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/settlements/reconcile?type=receivables", nil)

	handler.Reconcile(c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
