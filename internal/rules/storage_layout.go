package rules

import (
	"regexp"
	"strings"

	"github.com/Asout3/audit-agent/internal/model"
)

// storageLayoutCollision flags upgrade-pattern code that touches raw storage
// slots, where a layout mismatch between proxy and implementation corrupts
// state.
type storageLayoutCollision struct{}

var reRawSlot = regexp.MustCompile(`\bs(store|load)\s*\(`)

func (r *storageLayoutCollision) Meta() Meta {
	return Meta{
		ID:          "RULE-STORAGE-LAYOUT",
		Title:       "Storage layout collision risk in upgradeable contract",
		Type:        "storage_collision",
		Severity:    model.SeverityMedium,
		Score:       60,
		Remediation: "Use ERC-1967 slots or append-only layouts with reserved gaps.",
	}
}

func (r *storageLayoutCollision) Check(fn model.Function) *model.Finding {
	lower := strings.ToLower(fn.Body)
	upgradeable := strings.Contains(lower, "delegatecall") || strings.Contains(lower, "upgrade") ||
		strings.Contains(lower, "initializer") || hasTag(fn, "proxy")
	if !upgradeable {
		return nil
	}
	m := reRawSlot.FindStringIndex(fn.Body)
	if m == nil {
		return nil
	}
	if strings.Contains(lower, "erc1967") || strings.Contains(lower, "eip1967") {
		return nil
	}
	return newFinding(r.Meta(), fn, m[0], "")
}

func hasTag(fn model.Function, tag string) bool {
	for _, t := range fn.ArchTags {
		if t == tag {
			return true
		}
	}
	return false
}
