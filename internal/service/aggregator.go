package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/agency-billing-api/internal/models"
	appErrors "github.com/noah-isme/agency-billing-api/pkg/errors"
)

type billableLessonReader interface {
	ListBillableByParty(ctx context.Context, billingType models.BillingType, partyID string, period models.Period) ([]models.BillableLesson, error)
}

// Aggregator groups a party's billable lessons for a period into invoice
// line groups, one per subject.
type Aggregator struct {
	lessons billableLessonReader
	logger  *zap.Logger
}

// NewAggregator constructs the aggregator.
func NewAggregator(lessons billableLessonReader, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{lessons: lessons, logger: logger}
}

// Aggregate sums a party's billable quantity and builds one line group per
// subject. Lessons whose contract cannot be resolved are skipped with a
// warning and excluded from the source lesson set, so they stay billable
// for a later run once the contract is fixed.
func (a *Aggregator) Aggregate(ctx context.Context, billingType models.BillingType, partyID string, period models.Period) (*models.AggregateResult, error) {
	lessons, err := a.lessons.ListBillableByParty(ctx, billingType, partyID, period)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load billable lessons")
	}
	if len(lessons) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNoBillableLessons, "")
	}

	result := &models.AggregateResult{PartyID: partyID}
	groupIndex := make(map[string]int)

	for _, lesson := range lessons {
		if lesson.SubjectName == nil {
			a.logger.Warn("skipping lesson with unresolved contract",
				zap.String("lesson_id", lesson.ID),
				zap.String("contract_id", lesson.ContractID),
				zap.String("party_id", partyID))
			result.SkippedLessons++
			continue
		}

		subject := *lesson.SubjectName
		idx, ok := groupIndex[subject]
		if !ok {
			idx = len(result.Groups)
			groupIndex[subject] = idx
			result.Groups = append(result.Groups, models.LineGroup{
				Subject:    subject,
				DetailText: detailText(subject, lesson.DurationLabel),
				Rate:       lesson.Rate,
			})
		}
		result.Groups[idx].Quantity = result.Groups[idx].Quantity.Add(lesson.Quantity)
		result.TotalQuantity = result.TotalQuantity.Add(lesson.Quantity)
		result.SourceLessonIDs = append(result.SourceLessonIDs, lesson.ID)

		// Last lesson's contract wins; the floor is a per-party constant
		// in current usage so any lesson's value is the party's value.
		if lesson.WeeklyFloor.Valid {
			result.WeeklyFloor = lesson.WeeklyFloor.Decimal
		}
	}

	if len(result.Groups) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNoBillableLessons, "all lessons for party reference missing contracts")
	}
	return result, nil
}

// detailText renders the billing text shown on an invoice line.
func detailText(subject string, durationLabel *string) string {
	if durationLabel == nil || *durationLabel == "" {
		return subject
	}
	return fmt.Sprintf("%s (%s)", subject, *durationLabel)
}
