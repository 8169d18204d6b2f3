// Package risk scores candidate transfers for anti-money-laundering review.
//
// Screening is a pure computation: an Engine sums the points of every Rule
// that fires and derives a level from the total. Rules see the candidate and
// both account snapshots and nothing else, so the same input always yields
// the same Assessment.
package risk

import (
	"fmt"
	"strings"

	"github.com/Dan9191/bank-transfer-core/internal/models"
	"github.com/shopspring/decimal"
)

// Factor names a condition that contributed to a risk score.
type Factor string

const (
	LargeTransaction  Factor = "LargeTransaction"
	ModerateAmount    Factor = "ModerateAmount"
	RoundAmount       Factor = "RoundAmount"
	RapidTransactions Factor = "RapidTransactions"
	HighRiskCountry   Factor = "HighRiskCountry"
	PEPInvolved       Factor = "PEPInvolved"
)

const (
	ActionEscalate = "Escalate to compliance officer"
	ActionNone     = "None"
)

// Level thresholds on the total score.
const (
	HighScore   = 30
	MediumScore = 15
)

// Candidate is the transfer being screened.
type Candidate struct {
	FromAccountID int64
	ToAccountID   int64
	Amount        decimal.Decimal
}

// Input is everything a rule may look at.
type Input struct {
	Candidate Candidate
	From      models.Account
	To        models.Account
}

// Rule contributes points when its condition holds.
type Rule interface {
	Evaluate(in Input) (points int, factor Factor, hit bool)
}

// RuleFunc adapts a plain function to Rule.
type RuleFunc func(in Input) (int, Factor, bool)

func (f RuleFunc) Evaluate(in Input) (int, Factor, bool) { return f(in) }

// Assessment is the outcome of screening one candidate.
type Assessment struct {
	RiskLevel      models.RiskLevel `json:"riskLevel"`
	RiskFactors    []Factor         `json:"riskFactors"`
	RiskScore      int              `json:"riskScore"`
	IsSuspicious   bool             `json:"isSuspicious"`
	RequiredAction string           `json:"requiredAction"`
}

// Summary renders the assessment as the screening-result text stored on a
// ledger record.
func (a Assessment) Summary() string {
	factors := make([]string, len(a.RiskFactors))
	for i, f := range a.RiskFactors {
		factors[i] = string(f)
	}
	if len(factors) == 0 {
		factors = []string{"none"}
	}
	return fmt.Sprintf("level=%s score=%d factors=%s action=%s",
		a.RiskLevel, a.RiskScore, strings.Join(factors, ","), a.RequiredAction)
}

// Engine evaluates an ordered set of rules.
type Engine struct {
	rules []Rule
}

// NewEngine builds an engine over the given rules, evaluated in order.
func NewEngine(rules ...Rule) *Engine {
	return &Engine{rules: append([]Rule(nil), rules...)}
}

// Screen scores the candidate. It performs no I/O.
func (e *Engine) Screen(c Candidate, from, to models.Account) Assessment {
	in := Input{Candidate: c, From: from, To: to}

	a := Assessment{RiskFactors: []Factor{}}
	for _, r := range e.rules {
		points, factor, hit := r.Evaluate(in)
		if !hit {
			continue
		}
		a.RiskScore += points
		a.RiskFactors = append(a.RiskFactors, factor)
	}

	switch {
	case a.RiskScore >= HighScore:
		a.RiskLevel = models.RiskHigh
	case a.RiskScore >= MediumScore:
		a.RiskLevel = models.RiskMedium
	default:
		a.RiskLevel = models.RiskLow
	}

	a.IsSuspicious = a.RiskLevel == models.RiskHigh
	a.RequiredAction = ActionNone
	if a.IsSuspicious {
		a.RequiredAction = ActionEscalate
	}
	return a
}
