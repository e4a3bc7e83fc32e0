package rules

import (
	"strings"

	"github.com/Asout3/audit-agent/internal/model"
)

// staleOracleRead flags price-feed consumption with no freshness or round
// validation.
type staleOracleRead struct{}

func (r *staleOracleRead) Meta() Meta {
	return Meta{
		ID:          "RULE-STALE-ORACLE",
		Title:       "Oracle read without freshness check",
		Type:        "stale_oracle",
		Severity:    model.SeverityMedium,
		Score:       65,
		Remediation: "Validate updatedAt and answeredInRound against acceptable staleness bounds.",
	}
}

func (r *staleOracleRead) Check(fn model.Function) *model.Finding {
	lower := strings.ToLower(fn.Body)
	oracle := false
	for _, kw := range []string{"oracle", "latestanswer", "latestrounddata", "getprice", "pricefeed"} {
		if strings.Contains(lower, kw) {
			oracle = true
			break
		}
	}
	if !oracle || strings.Contains(fn.Body, "updatedAt") {
		return nil
	}
	for _, kw := range []string{"timestamp", "answeredinround", "roundid", "staleness", "timeout"} {
		if strings.Contains(lower, kw) {
			return nil
		}
	}
	idx := strings.Index(lower, "oracle")
	if idx < 0 {
		idx = strings.Index(lower, "price")
	}
	return newFinding(r.Meta(), fn, idx, "")
}
