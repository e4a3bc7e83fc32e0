package rules

import (
	"strings"

	"github.com/Asout3/audit-agent/internal/model"
)

// txOriginAuth flags tx.origin used inside authorization-shaped conditions.
type txOriginAuth struct{}

func (r *txOriginAuth) Meta() Meta {
	return Meta{
		ID:          "RULE-TX-ORIGIN",
		Title:       "tx.origin used for authorization",
		Type:        "tx_origin_auth",
		Severity:    model.SeverityMedium,
		Score:       60,
		Remediation: "Authorize on msg.sender; tx.origin is phishable through intermediary contracts.",
	}
}

func (r *txOriginAuth) Check(fn model.Function) *model.Finding {
	idx := strings.Index(strings.ToLower(fn.Body), "tx.origin")
	if idx < 0 {
		return nil
	}
	for _, line := range strings.Split(fn.Body, "\n") {
		low := strings.ToLower(line)
		if !strings.Contains(low, "tx.origin") {
			continue
		}
		if strings.Contains(low, "require(") || strings.Contains(low, "assert(") ||
			strings.Contains(low, "if (") || strings.Contains(low, "if(") {
			return newFinding(r.Meta(), fn, idx, "")
		}
	}
	return nil
}
