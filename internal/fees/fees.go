package fees

import (
	"github.com/shopspring/decimal"
)

// Model describes a processor's pricing: a percentage of the gross amount
// plus a fixed component, both in the payment currency.
type Model struct {
	PercentRate decimal.Decimal
	Fixed       decimal.Decimal
}

// CardRail matches common card-processor pricing: 2.9% + 0.30.
var CardRail = Model{
	PercentRate: decimal.NewFromFloat(0.029),
	Fixed:       decimal.NewFromFloat(0.30),
}

// CryptoInvoice charges a flat 1% with no fixed component.
var CryptoInvoice = Model{
	PercentRate: decimal.NewFromFloat(0.01),
	Fixed:       decimal.Zero,
}

// Compute returns the processor fee for a gross amount. The percentage
// component is rounded to 2 decimal places before the fixed component is
// added, so repeated computations never accumulate rounding drift.
func Compute(gross decimal.Decimal, m Model) decimal.Decimal {
	return gross.Mul(m.PercentRate).Round(2).Add(m.Fixed)
}

// Net returns the amount left after the model's fee is deducted.
func Net(gross decimal.Decimal, m Model) decimal.Decimal {
	return gross.Sub(Compute(gross, m))
}

// networkFees is a fixed per-network lookup in settlement-asset units.
// Withdrawal fees are set by the venue per network, not computed.
var networkFees = map[string]decimal.Decimal{
	"TRC20":   decimal.NewFromFloat(1.0),
	"BEP20":   decimal.NewFromFloat(0.5),
	"ERC20":   decimal.NewFromFloat(15.0),
	"POLYGON": decimal.NewFromFloat(0.1),
}

var defaultNetworkFee = decimal.NewFromFloat(1.0)

func NetworkFee(network string) decimal.Decimal {
	if fee, ok := networkFees[network]; ok {
		return fee
	}
	return defaultNetworkFee
}
