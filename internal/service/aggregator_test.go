package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/agency-billing-api/internal/models"
	appErrors "github.com/noah-isme/agency-billing-api/pkg/errors"
)

type mockLessonReader struct {
	lessons []models.BillableLesson
	err     error
}

func (m *mockLessonReader) ListBillableByParty(context.Context, models.BillingType, string, models.Period) ([]models.BillableLesson, error) {
	return m.lessons, m.err
}

func strPtr(s string) *string { return &s }

func billable(id, subject, duration string, quantity, rate, floor string) models.BillableLesson {
	lesson := models.BillableLesson{
		LessonRecord: models.LessonRecord{
			ID:         id,
			ContractID: "con-" + id,
			Quantity:   decimal.RequireFromString(quantity),
			Rate:       decimal.RequireFromString(rate),
			Status:     models.LessonStatusActive,
		},
	}
	if subject != "" {
		lesson.SubjectName = strPtr(subject)
		lesson.DurationLabel = strPtr(duration)
		lesson.WeeklyFloor = decimal.NewNullDecimal(decimal.RequireFromString(floor))
	}
	return lesson
}

func TestAggregatorGroupsBySubject(t *testing.T) {
	reader := &mockLessonReader{lessons: []models.BillableLesson{
		billable("les-1", "Mathematics", "60 min", "1", "25", "4"),
		billable("les-2", "Mathematics", "60 min", "1", "25", "4"),
		billable("les-3", "Physics", "90 min", "1.5", "30", "4"),
	}}
	agg := NewAggregator(reader, nil)

	result, err := agg.Aggregate(context.Background(), models.BillingTypeReceivables, "stu-1", models.Period{Month: 3, Year: 2024})
	require.NoError(t, err)

	require.Len(t, result.Groups, 2, "repeated lessons of a subject collapse into one line group")
	assert.Equal(t, "Mathematics", result.Groups[0].Subject)
	assert.Equal(t, "Mathematics (60 min)", result.Groups[0].DetailText)
	assert.True(t, result.Groups[0].Quantity.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, "Physics (90 min)", result.Groups[1].DetailText)
	assert.True(t, result.TotalQuantity.Equal(decimal.RequireFromString("3.5")))
	assert.Equal(t, []string{"les-1", "les-2", "les-3"}, result.SourceLessonIDs)
}

func TestAggregatorSkipsUnresolvedContracts(t *testing.T) {
	reader := &mockLessonReader{lessons: []models.BillableLesson{
		billable("les-1", "Mathematics", "60 min", "1", "25", "4"),
		billable("les-2", "", "", "1", "25", ""),
	}}
	agg := NewAggregator(reader, nil)

	result, err := agg.Aggregate(context.Background(), models.BillingTypeReceivables, "stu-1", models.Period{Month: 3, Year: 2024})
	require.NoError(t, err)

	assert.Equal(t, 1, result.SkippedLessons)
	assert.Equal(t, []string{"les-1"}, result.SourceLessonIDs, "skipped lessons stay billable for a later run")
	assert.True(t, result.TotalQuantity.Equal(decimal.NewFromInt(1)))
}

func TestAggregatorAllLessonsUnresolved(t *testing.T) {
	reader := &mockLessonReader{lessons: []models.BillableLesson{
		billable("les-1", "", "", "1", "25", ""),
	}}
	agg := NewAggregator(reader, nil)

	_, err := agg.Aggregate(context.Background(), models.BillingTypeReceivables, "stu-1", models.Period{Month: 3, Year: 2024})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoBillableLessons.Code, appErrors.FromError(err).Code)
}

func TestAggregatorNoLessons(t *testing.T) {
	agg := NewAggregator(&mockLessonReader{}, nil)

	_, err := agg.Aggregate(context.Background(), models.BillingTypePayables, "tch-1", models.Period{Month: 3, Year: 2024})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoBillableLessons.Code, appErrors.FromError(err).Code)
}

func TestAggregatorReaderError(t *testing.T) {
	agg := NewAggregator(&mockLessonReader{err: errors.New("connection reset")}, nil)

	_, err := agg.Aggregate(context.Background(), models.BillingTypeReceivables, "stu-1", models.Period{Month: 3, Year: 2024})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestAggregatorFloorLastWriteWins(t *testing.T) {
	first := billable("les-1", "Mathematics", "60 min", "1", "25", "2")
	second := billable("les-2", "Physics", "60 min", "1", "30", "6")
	reader := &mockLessonReader{lessons: []models.BillableLesson{first, second}}
	agg := NewAggregator(reader, nil)

	result, err := agg.Aggregate(context.Background(), models.BillingTypeReceivables, "stu-1", models.Period{Month: 3, Year: 2024})
	require.NoError(t, err)
	assert.True(t, result.WeeklyFloor.Equal(decimal.NewFromInt(6)))
}
