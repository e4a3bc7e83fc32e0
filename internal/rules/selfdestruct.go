package rules

import (
	"strings"

	"github.com/Asout3/audit-agent/internal/model"
)

// unguardedSelfdestruct flags selfdestruct reachable without obvious access
// control.
type unguardedSelfdestruct struct{}

func (r *unguardedSelfdestruct) Meta() Meta {
	return Meta{
		ID:          "RULE-SELFDESTRUCT",
		Title:       "Self-destruct without access control",
		Type:        "unprotected_selfdestruct",
		Severity:    model.SeverityCritical,
		Score:       90,
		Remediation: "Gate selfdestruct behind owner-only access control, or remove it entirely.",
	}
}

func (r *unguardedSelfdestruct) Check(fn model.Function) *model.Finding {
	lower := strings.ToLower(fn.Body)
	idx := strings.Index(lower, "selfdestruct")
	if idx < 0 {
		idx = strings.Index(lower, "suicide(")
	}
	if idx < 0 {
		return nil
	}
	header := strings.SplitN(fn.Body, "\n", 2)[0]
	if strings.Contains(header, "onlyOwner") || strings.Contains(header, "onlyAdmin") {
		return nil
	}
	if strings.Contains(fn.Body, "require(msg.sender") || strings.Contains(fn.Body, "msg.sender ==") {
		return nil
	}
	return newFinding(r.Meta(), fn, idx, "")
}
