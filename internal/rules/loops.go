package rules

import (
	"regexp"
	"strings"

	"github.com/Asout3/audit-agent/internal/model"
)

// unboundedIteration flags loops over externally-sized collections, a gas
// exhaustion surface.
type unboundedIteration struct{}

var reLoopOverLength = regexp.MustCompile(`for\s*\([^;]*;\s*\w+\s*<\s*(\w+)\s*\.\s*length`)

func (r *unboundedIteration) Meta() Meta {
	return Meta{
		ID:          "RULE-UNBOUNDED-LOOP",
		Title:       "Unbounded iteration over externally-sized collection",
		Type:        "unbounded_loop",
		Severity:    model.SeverityMedium,
		Score:       55,
		Remediation: "Bound the iteration count or process the collection in pages.",
	}
}

func (r *unboundedIteration) Check(fn model.Function) *model.Finding {
	m := reLoopOverLength.FindStringSubmatchIndex(fn.Body)
	if m == nil {
		return nil
	}
	ctx := strings.ToLower(contextWindow(fn.Body, m[0], 0, 300))
	if strings.Contains(ctx, "maxlength") || strings.Contains(ctx, "limit") || strings.Contains(ctx, "cap") {
		return nil
	}
	return newFinding(r.Meta(), fn, m[0], "")
}
