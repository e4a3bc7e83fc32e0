package rules

import (
	"strings"

	"github.com/Asout3/audit-agent/internal/model"
)

// decimalMismatch flags arithmetic that mixes token decimal bases without
// an evident scaling step (the 6-vs-18 class of bug).
type decimalMismatch struct{}

func (r *decimalMismatch) Meta() Meta {
	return Meta{
		ID:          "RULE-DECIMAL-MISMATCH",
		Title:       "Mixed token decimals without scaling",
		Type:        "decimal_mismatch",
		Severity:    model.SeverityHigh,
		Score:       75,
		Remediation: "Normalize all amounts to a common decimal base before arithmetic.",
	}
}

func (r *decimalMismatch) Check(fn model.Function) *model.Finding {
	lower := strings.ToLower(fn.Body)
	if !strings.Contains(lower, "decimals") {
		return nil
	}
	mixed := (strings.Contains(lower, "1e6") && strings.Contains(lower, "1e18")) ||
		(strings.Contains(lower, "usdc") && strings.Contains(lower, "e18"))
	if !mixed {
		return nil
	}
	if strings.Contains(lower, "scale") || strings.Contains(lower, "normalize") {
		return nil
	}
	return newFinding(r.Meta(), fn, strings.Index(lower, "decimals"), "")
}
