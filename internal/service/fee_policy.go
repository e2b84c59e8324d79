package service

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/agency-billing-api/internal/models"
)

const registrationFeeDescription = "Registration fee"

// FeePolicy turns an aggregate into the amounts actually billed, applying
// the minimum-hours floor and the one-time registration fee. All arithmetic
// is fixed-point decimal; amounts round to 2 places at line level.
type FeePolicy struct{}

// NewFeePolicy constructs the policy.
func NewFeePolicy() *FeePolicy {
	return &FeePolicy{}
}

// Apply computes the settlement amount for one party. Teacher payouts are a
// straight sum of quantity times rate; student invoices additionally get the
// floor and registration-fee rules. fee may be nil for payables.
func (p *FeePolicy) Apply(billingType models.BillingType, agg *models.AggregateResult, fee *models.FeeContext) *models.SettlementAmount {
	amount := &models.SettlementAmount{BilledQuantity: agg.TotalQuantity}

	groups := make([]models.LineGroup, len(agg.Groups))
	copy(groups, agg.Groups)

	if billingType == models.BillingTypeReceivables && fee != nil {
		// The floor applies only while the registration fee is still
		// uncharged. The two rules being coupled through one flag is the
		// observed business behavior, kept as-is rather than split into an
		// independent "floor applicable" flag.
		if !fee.RegistrationFeeCharged && agg.TotalQuantity.LessThan(agg.WeeklyFloor) {
			shortfall := agg.WeeklyFloor.Sub(agg.TotalQuantity)
			groups[0].Quantity = groups[0].Quantity.Add(shortfall)
			amount.BilledQuantity = agg.WeeklyFloor
		}
	}

	for _, group := range groups {
		line := models.SettlementLine{
			Description: group.Subject,
			DetailText:  group.DetailText,
			Quantity:    group.Quantity,
			Rate:        group.Rate,
			Amount:      group.Quantity.Mul(group.Rate).Round(2),
		}
		amount.Lines = append(amount.Lines, line)
		amount.Total = amount.Total.Add(line.Amount)
	}

	if billingType == models.BillingTypeReceivables && fee != nil && !fee.RegistrationFeeCharged {
		// Charged exactly once per student, ever. The flag flips on commit
		// even when the configured fee is zero, so the floor rule above
		// stops applying after the first settled period either way.
		amount.ChargeRegistrationFee = true
		if fee.RegistrationFee.IsPositive() {
			line := models.SettlementLine{
				Description:       registrationFeeDescription,
				DetailText:        registrationFeeDescription,
				Quantity:          decimal.NewFromInt(1),
				Rate:              fee.RegistrationFee,
				Amount:            fee.RegistrationFee.Round(2),
				IsRegistrationFee: true,
			}
			amount.Lines = append(amount.Lines, line)
			amount.Total = amount.Total.Add(line.Amount)
		}
	}

	return amount
}
