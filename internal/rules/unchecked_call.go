package rules

import (
	"regexp"
	"strings"

	"github.com/Asout3/audit-agent/internal/model"
)

// uncheckedLowLevelCall flags low-level calls whose success value is never
// inspected.
type uncheckedLowLevelCall struct{}

var reLowLevelCall = regexp.MustCompile(`\.\s*call\s*(\{[^}]*\})?\s*\(`)

func (r *uncheckedLowLevelCall) Meta() Meta {
	return Meta{
		ID:          "RULE-UNCHECKED-CALL",
		Title:       "Low-level call without success check",
		Type:        "unchecked_low_level_call",
		Severity:    model.SeverityHigh,
		Score:       85,
		Remediation: "Capture the success flag and require it, or use a checked transfer helper.",
	}
}

func (r *uncheckedLowLevelCall) Check(fn model.Function) *model.Finding {
	for _, loc := range reLowLevelCall.FindAllStringIndex(fn.Body, -1) {
		ctx := contextWindow(fn.Body, loc[0], 200, 200)
		checked := false
		for _, marker := range []string{"require(", "if (", "if(", "success", "return"} {
			if strings.Contains(ctx, marker) {
				checked = true
				break
			}
		}
		if !checked {
			return newFinding(r.Meta(), fn, loc[0], "")
		}
	}
	return nil
}
