package rules

import (
	"strings"

	"github.com/Asout3/audit-agent/internal/model"
)

// blockMetadataRandomness flags randomness derived from block metadata,
// which validators and same-block callers can bias.
type blockMetadataRandomness struct{}

func (r *blockMetadataRandomness) Meta() Meta {
	return Meta{
		ID:          "RULE-WEAK-RANDOMNESS",
		Title:       "Randomness derived from block metadata",
		Type:        "weak_randomness",
		Severity:    model.SeverityMedium,
		Score:       65,
		Remediation: "Use a commit-reveal scheme or a VRF oracle for randomness.",
	}
}

func (r *blockMetadataRandomness) Check(fn model.Function) *model.Finding {
	lower := strings.ToLower(fn.Body)
	source := -1
	for _, kw := range []string{"block.timestamp", "blockhash", "block.prevrandao", "block.difficulty", "block.number"} {
		if i := strings.Index(lower, kw); i >= 0 {
			source = i
			break
		}
	}
	if source < 0 {
		return nil
	}
	random := false
	for _, kw := range []string{"random", "lottery", "winner", "seed", "raffle"} {
		if strings.Contains(lower, kw) {
			random = true
			break
		}
	}
	if !random && !strings.Contains(lower, "keccak256(abi.encodepacked(block") {
		return nil
	}
	return newFinding(r.Meta(), fn, source, "")
}
