package risk

import "github.com/shopspring/decimal"

// Thresholds configures the amount-based rules.
type Thresholds struct {
	Large    decimal.Decimal // CTR threshold
	Moderate decimal.Decimal
}

// DefaultThresholds returns the 10000/5000 amount bands.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Large:    decimal.NewFromInt(10000),
		Moderate: decimal.NewFromInt(5000),
	}
}

// LargeTransactionRule fires above the large threshold.
func LargeTransactionRule(large decimal.Decimal) Rule {
	return RuleFunc(func(in Input) (int, Factor, bool) {
		return 30, LargeTransaction, in.Candidate.Amount.GreaterThan(large)
	})
}

// ModerateAmountRule fires above the moderate threshold up to and including
// the large one. The bands do not stack.
func ModerateAmountRule(moderate, large decimal.Decimal) Rule {
	return RuleFunc(func(in Input) (int, Factor, bool) {
		amt := in.Candidate.Amount
		return 15, ModerateAmount, amt.GreaterThan(moderate) && amt.LessThanOrEqual(large)
	})
}

// RoundAmountRule fires on whole amounts, a common structuring pattern.
func RoundAmountRule() Rule {
	return RuleFunc(func(in Input) (int, Factor, bool) {
		return 10, RoundAmount, in.Candidate.Amount.IsInteger()
	})
}

// DefaultRules is the production rule set.
func DefaultRules(t Thresholds) []Rule {
	return []Rule{
		LargeTransactionRule(t.Large),
		ModerateAmountRule(t.Moderate, t.Large),
		RoundAmountRule(),
	}
}
