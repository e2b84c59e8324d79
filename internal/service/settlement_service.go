package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/agency-billing-api/internal/models"
	"github.com/noah-isme/agency-billing-api/pkg/cache"
	appErrors "github.com/noah-isme/agency-billing-api/pkg/errors"
)

type billablePartyLister interface {
	DistinctBillableParties(ctx context.Context, billingType models.BillingType, period models.Period) ([]string, error)
}

type partyAggregator interface {
	Aggregate(ctx context.Context, billingType models.BillingType, partyID string, period models.Period) (*models.AggregateResult, error)
}

type feePolicy interface {
	Apply(billingType models.BillingType, agg *models.AggregateResult, fee *models.FeeContext) *models.SettlementAmount
}

type registrationFeeReader interface {
	RegistrationFeeState(ctx context.Context, studentID string) (*models.FeeContext, error)
}

type settlementWriter interface {
	CreateSettlement(ctx context.Context, input models.SettlementInput) (*models.Invoice, error)
}

type runLocker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type runObserver interface {
	ObserveRun(report *models.RunReport)
}

// RunSettlementRequest triggers one settlement run.
type RunSettlementRequest struct {
	Type   string `json:"type" validate:"required"`
	Period string `json:"period" validate:"required"`
	Async  bool   `json:"async"`
}

// SettlementService drives one settlement run: resolve the period, list the
// candidate parties, then aggregate, price and persist each party in turn.
// One party's failure never aborts the others.
type SettlementService struct {
	lessons    billablePartyLister
	aggregator partyAggregator
	policy     feePolicy
	fees       registrationFeeReader
	writer     settlementWriter
	locker     runLocker
	metrics    runObserver
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewSettlementService constructs the service. locker and metrics may be nil.
func NewSettlementService(
	lessons billablePartyLister,
	aggregator partyAggregator,
	policy feePolicy,
	fees registrationFeeReader,
	writer settlementWriter,
	locker runLocker,
	metrics runObserver,
	validate *validator.Validate,
	logger *zap.Logger,
) *SettlementService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettlementService{
		lessons:    lessons,
		aggregator: aggregator,
		policy:     policy,
		fees:       fees,
		writer:     writer,
		locker:     locker,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the clock used for period resolution. Test hook.
func (s *SettlementService) WithClock(now func() time.Time) *SettlementService {
	if now != nil {
		s.now = now
	}
	return s
}

// Run executes one settlement run and returns its report. Only malformed
// input, lock contention or failure to enumerate candidates abort the run;
// per-party failures are collected in the report.
func (s *SettlementService) Run(ctx context.Context, req RunSettlementRequest) (*models.RunReport, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid settlement request")
	}
	billingType := models.BillingType(req.Type)
	if !billingType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidBillingType, "")
	}
	period, err := models.ResolvePeriod(models.BillingPeriod(req.Period), s.now().UTC())
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidPeriod, "")
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "settlement:run:"+string(billingType))
		if err != nil {
			if err == cache.ErrLockHeld {
				return nil, appErrors.Clone(appErrors.ErrRunInProgress, "")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire run lock")
		}
		defer release()
	}

	started := s.now().UTC()
	report := &models.RunReport{
		BillingType: billingType,
		Month:       period.Month,
		Year:        period.Year,
		StartedAt:   started,
	}

	parties, err := s.lessons.DistinctBillableParties(ctx, billingType, period)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enumerate billable parties")
	}

	for _, partyID := range parties {
		invoice, err := s.settleParty(ctx, billingType, partyID, period)
		if err != nil {
			report.PartiesFailed++
			report.Failures = append(report.Failures, models.RunFailure{PartyID: partyID, Reason: err.Error()})
			s.logger.Warn("party settlement failed",
				zap.String("billing_type", string(billingType)),
				zap.String("party_id", partyID),
				zap.Error(err))
			continue
		}
		report.PartiesProcessed++
		report.TotalInvoices++
		report.TotalAmount = report.TotalAmount.Add(invoice.TotalAmount)
	}

	report.Duration = s.now().UTC().Sub(started)
	if s.metrics != nil {
		s.metrics.ObserveRun(report)
	}
	s.logger.Info("settlement run finished",
		zap.String("billing_type", string(billingType)),
		zap.Int("month", period.Month),
		zap.Int("year", period.Year),
		zap.Int("parties_processed", report.PartiesProcessed),
		zap.Int("parties_failed", report.PartiesFailed),
		zap.String("total_amount", report.TotalAmount.StringFixed(2)))
	return report, nil
}

func (s *SettlementService) settleParty(ctx context.Context, billingType models.BillingType, partyID string, period models.Period) (*models.Invoice, error) {
	agg, err := s.aggregator.Aggregate(ctx, billingType, partyID, period)
	if err != nil {
		return nil, err
	}

	var fee *models.FeeContext
	if billingType == models.BillingTypeReceivables {
		fee, err = s.fees.RegistrationFeeState(ctx, partyID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration fee state")
		}
	}

	amount := s.policy.Apply(billingType, agg, fee)

	return s.writer.CreateSettlement(ctx, models.SettlementInput{
		BillingType:     billingType,
		PartyID:         partyID,
		Period:          period,
		Amount:          amount,
		SourceLessonIDs: agg.SourceLessonIDs,
	})
}
