package classifier

import (
	"math"
	"time"

	"medtrack-compliance/internal/models"
)

// Fallback rule policy. The ±30 minute window and the fixed 0.8 confidence
// are product constants, not tunables (see DESIGN.md).
const (
	FallbackWindow     = 30 * time.Minute
	FallbackConfidence = 0.8
)

// Outcome one classification result, from either the external classifier
// or the fallback rule.
type Outcome struct {
	Verdict      string  `json:"verdict"`
	Confidence   float64 `json:"confidence"`
	Method       string  `json:"method"`
	DelayMinutes int     `json:"delay_minutes"`
}

// FallbackClassify applies the deterministic rule. Total: every valid
// (scheduled, actual, action) triple yields a verdict.
//
// Rejected intake is non-compliant at full confidence. Otherwise the intake
// is compliant when taken within ±30 minutes of schedule.
func FallbackClassify(scheduled, actual time.Time, action string) Outcome {
	delay := actual.Sub(scheduled)
	delayMinutes := int(math.Round(delay.Minutes()))

	if action == models.ActionRejected {
		return Outcome{
			Verdict:      models.VerdictNonCompliant,
			Confidence:   1.0,
			Method:       models.MethodFallbackRule,
			DelayMinutes: delayMinutes,
		}
	}

	verdict := models.VerdictNonCompliant
	if delay >= -FallbackWindow && delay <= FallbackWindow {
		verdict = models.VerdictCompliant
	}

	return Outcome{
		Verdict:      verdict,
		Confidence:   FallbackConfidence,
		Method:       models.MethodFallbackRule,
		DelayMinutes: delayMinutes,
	}
}
