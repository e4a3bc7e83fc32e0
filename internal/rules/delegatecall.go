package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Asout3/audit-agent/internal/model"
)

// delegatecallTarget flags delegatecalls whose target may be attacker
// supplied. Standard proxy idioms are suppressed.
type delegatecallTarget struct{}

var reDelegatecallExpr = regexp.MustCompile(`(\w+)\s*\.\s*delegatecall\s*[({]`)

var safeProxyIdioms = []string{
	"erc1967", "transparent", "upgradeable", "implementation", "eip1167",
	"proxy", "clones.clone", "minimal proxy",
}

func (r *delegatecallTarget) Meta() Meta {
	return Meta{
		ID:          "RULE-DELEGATECALL-TARGET",
		Title:       "Delegatecall to potentially attacker-supplied target",
		Type:        "arbitrary_delegatecall",
		Severity:    model.SeverityCritical,
		Score:       95,
		Remediation: "Restrict delegatecall targets to immutable, audited implementation addresses.",
	}
}

func (r *delegatecallTarget) Check(fn model.Function) *model.Finding {
	m := reDelegatecallExpr.FindStringSubmatchIndex(fn.Body)
	if m == nil {
		return nil
	}
	target := fn.Body[m[2]:m[3]]
	before := strings.ToLower(contextWindow(fn.Body, m[0], 500, 0))
	for _, idiom := range safeProxyIdioms {
		if strings.Contains(before, idiom) {
			return nil
		}
	}
	if strings.Contains(before, "calldata") || strings.Contains(before, "msg.data") ||
		strings.Contains(before, "storage") || strings.Contains(before, "sload") {
		return newFinding(r.Meta(), fn, m[0],
			fmt.Sprintf("Delegatecall to potentially controllable target %q", target))
	}
	weak := r.Meta()
	weak.Type = "delegatecall_no_validation"
	weak.Severity = model.SeverityMedium
	weak.Score = 60
	return newFinding(weak, fn, m[0], "Delegatecall present; target validation not evident")
}
