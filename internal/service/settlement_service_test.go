package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/agency-billing-api/internal/models"
	"github.com/noah-isme/agency-billing-api/pkg/cache"
	appErrors "github.com/noah-isme/agency-billing-api/pkg/errors"
)

type mockPartyLister struct {
	parties map[string][]string // keyed by "month/year"
	err     error
}

func periodKey(p models.Period) string {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}

func (m *mockPartyLister) DistinctBillableParties(_ context.Context, _ models.BillingType, period models.Period) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.parties[periodKey(period)], nil
}

type mockAggregatorSvc struct {
	results map[string]*models.AggregateResult
	errs    map[string]error
}

func (m *mockAggregatorSvc) Aggregate(_ context.Context, _ models.BillingType, partyID string, _ models.Period) (*models.AggregateResult, error) {
	if err, ok := m.errs[partyID]; ok {
		return nil, err
	}
	if result, ok := m.results[partyID]; ok {
		return result, nil
	}
	return nil, appErrors.Clone(appErrors.ErrNoBillableLessons, "")
}

type mockFeeReader struct {
	states map[string]*models.FeeContext
	calls  int
}

func (m *mockFeeReader) RegistrationFeeState(_ context.Context, studentID string) (*models.FeeContext, error) {
	m.calls++
	if state, ok := m.states[studentID]; ok {
		return state, nil
	}
	return &models.FeeContext{}, nil
}

type mockSettlementWriter struct {
	inputs []models.SettlementInput
	errs   map[string]error
	fees   *mockFeeReader // flips the charged flag on commit, like the real writer
}

func (m *mockSettlementWriter) CreateSettlement(_ context.Context, input models.SettlementInput) (*models.Invoice, error) {
	if err, ok := m.errs[input.PartyID]; ok {
		return nil, err
	}
	m.inputs = append(m.inputs, input)
	if input.Amount.ChargeRegistrationFee && m.fees != nil {
		if state, ok := m.fees.states[input.PartyID]; ok {
			state.RegistrationFeeCharged = true
		}
	}
	return &models.Invoice{ID: "inv-" + input.PartyID, TotalAmount: input.Amount.Total, TotalQuantity: input.Amount.BilledQuantity}, nil
}

type mockRunLocker struct {
	err      error
	acquired int
	released int
}

func (m *mockRunLocker) Acquire(context.Context, string) (func(), error) {
	if m.err != nil {
		return nil, m.err
	}
	m.acquired++
	return func() { m.released++ }, nil
}

func aggregateFor(partyID, quantity, floor string) *models.AggregateResult {
	return &models.AggregateResult{
		PartyID:       partyID,
		TotalQuantity: decimal.RequireFromString(quantity),
		Groups: []models.LineGroup{
			{Subject: "Mathematics", DetailText: "Mathematics (60 min)", Quantity: decimal.RequireFromString(quantity), Rate: decimal.NewFromInt(25)},
		},
		SourceLessonIDs: []string{"les-" + partyID},
		WeeklyFloor:     decimal.RequireFromString(floor),
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var march15 = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func newRunService(lister *mockPartyLister, agg *mockAggregatorSvc, fees *mockFeeReader, writer *mockSettlementWriter, locker *mockRunLocker) *SettlementService {
	var locked runLocker
	if locker != nil {
		locked = locker
	}
	return NewSettlementService(lister, agg, NewFeePolicy(), fees, writer, locked, nil, nil, nil).WithClock(fixedClock(march15))
}

func TestSettlementServiceRunReceivables(t *testing.T) {
	lister := &mockPartyLister{parties: map[string][]string{"2024-03": {"stu-1", "stu-2"}}}
	agg := &mockAggregatorSvc{results: map[string]*models.AggregateResult{
		"stu-1": aggregateFor("stu-1", "2", "4"),
		"stu-2": aggregateFor("stu-2", "6", "4"),
	}}
	fees := &mockFeeReader{states: map[string]*models.FeeContext{
		"stu-1": {RegistrationFee: decimal.NewFromInt(50)},
		"stu-2": {RegistrationFeeCharged: true},
	}}
	writer := &mockSettlementWriter{fees: fees}
	locker := &mockRunLocker{}

	report, err := newRunService(lister, agg, fees, writer, locker).Run(context.Background(), RunSettlementRequest{Type: "receivables", Period: "current"})
	require.NoError(t, err)

	assert.Equal(t, 2, report.PartiesProcessed)
	assert.Zero(t, report.PartiesFailed)
	assert.Equal(t, 3, report.Month)
	assert.Equal(t, 2024, report.Year)
	// stu-1: floor to 4 x 25 + 50 fee = 150; stu-2: 6 x 25 = 150.
	assert.True(t, report.TotalAmount.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, 2, fees.calls)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)
}

func TestSettlementServicePartialFailureIsolation(t *testing.T) {
	lister := &mockPartyLister{parties: map[string][]string{"2024-03": {"stu-1", "stu-2", "stu-3"}}}
	agg := &mockAggregatorSvc{
		results: map[string]*models.AggregateResult{
			"stu-1": aggregateFor("stu-1", "4", "4"),
			"stu-3": aggregateFor("stu-3", "4", "4"),
		},
		errs: map[string]error{"stu-2": appErrors.Clone(appErrors.ErrNoBillableLessons, "all lessons for party reference missing contracts")},
	}
	fees := &mockFeeReader{states: map[string]*models.FeeContext{
		"stu-1": {RegistrationFeeCharged: true},
		"stu-3": {RegistrationFeeCharged: true},
	}}
	writer := &mockSettlementWriter{fees: fees}

	report, err := newRunService(lister, agg, fees, writer, nil).Run(context.Background(), RunSettlementRequest{Type: "receivables", Period: "current"})
	require.NoError(t, err, "per-party failure is not a run failure")

	assert.Equal(t, 2, report.PartiesProcessed)
	assert.Equal(t, 1, report.PartiesFailed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "stu-2", report.Failures[0].PartyID)
	assert.Len(t, writer.inputs, 2, "successes commit regardless of the failure")
}

func TestSettlementServiceWriterFailureRecorded(t *testing.T) {
	lister := &mockPartyLister{parties: map[string][]string{"2024-03": {"stu-1", "stu-2"}}}
	agg := &mockAggregatorSvc{results: map[string]*models.AggregateResult{
		"stu-1": aggregateFor("stu-1", "4", "4"),
		"stu-2": aggregateFor("stu-2", "4", "4"),
	}}
	fees := &mockFeeReader{states: map[string]*models.FeeContext{
		"stu-1": {RegistrationFeeCharged: true},
		"stu-2": {RegistrationFeeCharged: true},
	}}
	writer := &mockSettlementWriter{fees: fees, errs: map[string]error{"stu-2": errors.New("deadlock detected")}}

	report, err := newRunService(lister, agg, fees, writer, nil).Run(context.Background(), RunSettlementRequest{Type: "receivables", Period: "current"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.PartiesProcessed)
	assert.Equal(t, 1, report.PartiesFailed)
}

func TestSettlementServiceSecondRunFindsNothing(t *testing.T) {
	lister := &mockPartyLister{parties: map[string][]string{}}
	writer := &mockSettlementWriter{}

	report, err := newRunService(lister, &mockAggregatorSvc{}, &mockFeeReader{}, writer, nil).Run(context.Background(), RunSettlementRequest{Type: "receivables", Period: "current"})
	require.NoError(t, err)

	assert.Zero(t, report.PartiesProcessed)
	assert.Zero(t, report.TotalInvoices)
	assert.True(t, report.TotalAmount.IsZero())
	assert.Empty(t, writer.inputs)
}

func TestSettlementServiceRegistrationFeeChargedOnce(t *testing.T) {
	fees := &mockFeeReader{states: map[string]*models.FeeContext{
		"stu-1": {RegistrationFee: decimal.NewFromInt(50)},
	}}
	writer := &mockSettlementWriter{fees: fees}
	agg := &mockAggregatorSvc{results: map[string]*models.AggregateResult{
		"stu-1": aggregateFor("stu-1", "4", "4"),
	}}
	lister := &mockPartyLister{parties: map[string][]string{
		"2024-03": {"stu-1"},
		"2024-04": {"stu-1"},
		"2024-05": {"stu-1"},
	}}
	svc := NewSettlementService(lister, agg, NewFeePolicy(), fees, writer, nil, nil, nil, nil)

	for _, month := range []time.Month{time.March, time.April, time.May} {
		svc.WithClock(fixedClock(time.Date(2024, month, 10, 0, 0, 0, 0, time.UTC)))
		_, err := svc.Run(context.Background(), RunSettlementRequest{Type: "receivables", Period: "current"})
		require.NoError(t, err)
	}

	require.Len(t, writer.inputs, 3)
	feeLines := 0
	for _, input := range writer.inputs {
		for _, line := range input.Amount.Lines {
			if line.IsRegistrationFee {
				feeLines++
			}
		}
	}
	assert.Equal(t, 1, feeLines, "fee is charged in the first period only")
	assert.True(t, writer.inputs[0].Amount.ChargeRegistrationFee)
	assert.False(t, writer.inputs[1].Amount.ChargeRegistrationFee)
	assert.False(t, writer.inputs[2].Amount.ChargeRegistrationFee)
}

func TestSettlementServicePayablesSkipsFeeReader(t *testing.T) {
	lister := &mockPartyLister{parties: map[string][]string{"2024-02": {"tch-1"}}}
	agg := &mockAggregatorSvc{results: map[string]*models.AggregateResult{
		"tch-1": aggregateFor("tch-1", "3", "0"),
	}}
	fees := &mockFeeReader{}
	writer := &mockSettlementWriter{}

	report, err := newRunService(lister, agg, fees, writer, nil).Run(context.Background(), RunSettlementRequest{Type: "payables", Period: "previous"})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Month, "previous period of March 15 is February")
	assert.Equal(t, 1, report.PartiesProcessed)
	assert.Zero(t, fees.calls, "teacher settlement never touches registration fees")
	assert.True(t, report.TotalAmount.Equal(decimal.NewFromInt(75)))
}

func TestSettlementServiceInvalidInput(t *testing.T) {
	svc := newRunService(&mockPartyLister{}, &mockAggregatorSvc{}, &mockFeeReader{}, &mockSettlementWriter{}, nil)

	cases := []struct {
		name string
		req  RunSettlementRequest
		code string
	}{
		{"missing fields", RunSettlementRequest{}, appErrors.ErrValidation.Code},
		{"unknown type", RunSettlementRequest{Type: "margins", Period: "current"}, appErrors.ErrInvalidBillingType.Code},
		{"unknown period", RunSettlementRequest{Type: "receivables", Period: "quarterly"}, appErrors.ErrInvalidPeriod.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Run(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, appErrors.FromError(err).Code)
		})
	}
}

func TestSettlementServiceLockContention(t *testing.T) {
	locker := &mockRunLocker{err: cache.ErrLockHeld}
	svc := newRunService(&mockPartyLister{}, &mockAggregatorSvc{}, &mockFeeReader{}, &mockSettlementWriter{}, locker)

	_, err := svc.Run(context.Background(), RunSettlementRequest{Type: "receivables", Period: "current"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRunInProgress.Code, appErrors.FromError(err).Code)
}

func TestSettlementServiceCandidateQueryFailureIsFatal(t *testing.T) {
	lister := &mockPartyLister{err: errors.New("connection refused")}
	svc := newRunService(lister, &mockAggregatorSvc{}, &mockFeeReader{}, &mockSettlementWriter{}, nil)

	_, err := svc.Run(context.Background(), RunSettlementRequest{Type: "receivables", Period: "current"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}
