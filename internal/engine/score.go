package engine

import (
	"fmt"
	"strings"

	"github.com/Asout3/audit-agent/internal/model"
	"github.com/Asout3/audit-agent/internal/util"
)

const (
	overlapBonus       = 0.10
	corroborationBoost = 1.15
)

// semanticFinding converts a pattern match into a finding with a composite
// score: weighted similarity plus rarity, quality, and class-overlap
// bonuses, scaled to 0-100.
func (e *Engine) semanticFinding(fn model.Function, match model.SearchResult, ruleFindings []model.Finding) model.Finding {
	p := match.Pattern
	composite := match.Similarity*e.cfg.Analysis.SimilarityWeight +
		rarityBonus(p.FindersCount) + qualityBonus(p.QualityScore)
	if classOverlap(p.VulnClass, fn, ruleFindings) {
		composite += overlapBonus
	}
	score := min(composite*100, 100)
	return model.Finding{
		Type:        "pattern_match",
		Severity:    p.Severity,
		Confidence:  model.ScoreConfidence(score),
		File:        fn.File,
		Contract:    fn.Contract,
		Function:    fn.Name,
		StartLine:   fn.StartLine,
		Description: fmt.Sprintf("Matches historical pattern [%s]: %s", p.VulnClass, p.Invariant),
		Score:       score,
		Sources:     []string{"semantic"},
		Fingerprint: util.Fingerprint("pattern_match", fn.File, fn.StartLine, fn.StartLine, p.ID),
	}
}

func hypothesisFinding(fn model.Function, h model.Hypothesis) model.Finding {
	return model.Finding{
		Type:        "deep_hypothesis",
		Severity:    model.SeverityHigh,
		Confidence:  model.ConfidenceHigh,
		File:        fn.File,
		Contract:    fn.Contract,
		Function:    fn.Name,
		StartLine:   fn.StartLine,
		Description: h.Hypothesis,
		AttackPath:  h.AttackVector,
		Score:       85,
		Sources:     []string{"hypothesis"},
		Fingerprint: util.Fingerprint("deep_hypothesis", fn.File, fn.StartLine, fn.StartLine, h.Hypothesis),
	}
}

// classOverlap reports whether a rule finding on the same function agrees
// with the pattern's vulnerability class.
func classOverlap(vulnClass string, fn model.Function, ruleFindings []model.Finding) bool {
	class := strings.ToLower(vulnClass)
	if class == "" || class == "unknown" {
		return false
	}
	for _, rf := range ruleFindings {
		if rf.Function != fn.Name || rf.File != fn.File {
			continue
		}
		t := strings.ToLower(rf.Type)
		for _, word := range []string{"reentran", "oracle", "delegatecall", "decimal", "random", "origin", "selfdestruct", "signature", "storage", "loop", "access"} {
			if strings.Contains(class, word) && strings.Contains(t, word) {
				return true
			}
		}
	}
	return false
}

// Bonus step functions mirror the store's search ranking so a composite
// score and a rank boost agree on what "rare" and "high quality" mean.

func rarityBonus(finders int) float64 {
	switch {
	case finders <= 2:
		return 0.15
	case finders <= 5:
		return 0.08
	default:
		return 0
	}
}

func qualityBonus(quality float64) float64 {
	return quality / 5 * 0.1
}
