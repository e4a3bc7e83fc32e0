package report

import (
	"fmt"
	"strings"

	"github.com/Asout3/audit-agent/internal/model"
)

// ToMarkdown renders an audit report as a human-reviewable document,
// findings grouped in score order with attack paths and remediations inline.
func ToMarkdown(r *model.AuditReport) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Audit Report\n\n")
	fmt.Fprintf(&b, "- Run: `%s`\n- Target: `%s`\n- Findings: %d\n- Elapsed: %s\n", r.RunID, r.Target, len(r.Findings), r.Elapsed)
	if len(r.Degraded) > 0 {
		fmt.Fprintf(&b, "- Degraded coverage: %s\n", strings.Join(r.Degraded, ", "))
	}
	b.WriteString("\n")

	for i, f := range r.Findings {
		fmt.Fprintf(&b, "## %d. %s [%s]\n\n", i+1, f.Type, f.Severity)
		fmt.Fprintf(&b, "**Location:** `%s` lines %d-%d", f.File, f.StartLine, f.EndLine)
		if f.Function != "" {
			fmt.Fprintf(&b, " (`%s`)", f.Function)
		}
		fmt.Fprintf(&b, "  \n**Score:** %.0f/100 (%s confidence)  \n**Sources:** %s\n\n",
			f.Score, f.Confidence, strings.Join(f.Sources, ", "))
		fmt.Fprintf(&b, "%s\n\n", f.Description)
		if f.AttackPath != "" {
			fmt.Fprintf(&b, "**Attack path:** `%s`\n\n", f.AttackPath)
		}
		if f.Snippet != "" {
			fmt.Fprintf(&b, "```solidity\n%s\n```\n\n", f.Snippet)
		}
		if f.Remediation != "" {
			fmt.Fprintf(&b, "**Remediation:** %s\n\n", f.Remediation)
		}
	}
	if len(r.Findings) == 0 {
		b.WriteString("No findings above the reporting threshold.\n")
	}
	return []byte(b.String())
}
