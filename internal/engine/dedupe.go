package engine

import (
	"github.com/Asout3/audit-agent/internal/model"
)

// Dedupe collapses findings sharing (location, type). The kept finding
// takes the max score boosted by the corroboration multiplier, capped at
// 100, with source tags unioned: independent analyzers agreeing raises
// confidence.
func Dedupe(findings []model.Finding, boost float64) []model.Finding {
	type slot struct {
		idx   int
		count int
	}
	index := map[string]*slot{}
	var out []model.Finding
	for _, f := range findings {
		key := f.Location() + "|" + f.Type
		s, ok := index[key]
		if !ok {
			out = append(out, f)
			index[key] = &slot{idx: len(out) - 1, count: 1}
			continue
		}
		kept := &out[s.idx]
		s.count++
		if f.Score > kept.Score {
			kept.Score = f.Score
		}
		if model.SeverityGTE(f.Severity, kept.Severity) {
			kept.Severity = f.Severity
		}
		kept.Sources = unionSources(kept.Sources, f.Sources)
		if f.AttackPath != "" && kept.AttackPath == "" {
			kept.AttackPath = f.AttackPath
		}
		// boost once per extra corroborating source
		kept.Score = min(kept.Score*boost, 100)
		kept.Confidence = model.ScoreConfidence(kept.Score)
	}
	return out
}

func unionSources(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(a, b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
