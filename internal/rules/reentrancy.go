package rules

import (
	"regexp"
	"strings"

	"github.com/Asout3/audit-agent/internal/model"
)

// sameFunctionReentrancy flags an external call followed by a state write
// within a bounded trailing window, with no guard in sight.
type sameFunctionReentrancy struct{}

const trailingWindow = 500

var (
	reExternalValueCall = regexp.MustCompile(`\w+\s*\.\s*(call|transfer|send|mint|burn)\s*[({]`)
	reTrailingWrite     = regexp.MustCompile(`\b\w+(\[[^\]]*\])?\s*(=[^=]|\+=|-=|\+\+|--)`)
)

func (r *sameFunctionReentrancy) Meta() Meta {
	return Meta{
		ID:          "RULE-REENTRANCY-ORDER",
		Title:       "External call followed by state write",
		Type:        "reentrancy_no_guard",
		Severity:    model.SeverityHigh,
		Score:       85,
		Remediation: "Apply checks-effects-interactions: update state before the external call, or add a reentrancy guard.",
	}
}

func (r *sameFunctionReentrancy) Check(fn model.Function) *model.Finding {
	if fn.Guarded {
		return nil
	}
	lower := strings.ToLower(fn.Body)
	if strings.Contains(lower, "nonreentrant") || strings.Contains(lower, "reentrancyguard") {
		return nil
	}
	for _, loc := range reExternalValueCall.FindAllStringIndex(fn.Body, -1) {
		end := min(len(fn.Body), loc[1]+trailingWindow)
		if reTrailingWrite.MatchString(fn.Body[loc[1]:end]) {
			return newFinding(r.Meta(), fn, loc[0], "")
		}
	}
	return nil
}
