package rules

import (
	"strings"

	"github.com/Asout3/audit-agent/internal/model"
)

// signatureDomainBinding flags ecrecover-based verification with no chain or
// domain binding, replayable across chains and contracts.
type signatureDomainBinding struct{}

func (r *signatureDomainBinding) Meta() Meta {
	return Meta{
		ID:          "RULE-SIG-DOMAIN",
		Title:       "Signature verification without chain/domain binding",
		Type:        "sig_missing_domain",
		Severity:    model.SeverityHigh,
		Score:       70,
		Remediation: "Include chainid and a domain separator (EIP-712) in the signed digest.",
	}
}

func (r *signatureDomainBinding) Check(fn model.Function) *model.Finding {
	lower := strings.ToLower(fn.Body)
	idx := strings.Index(lower, "ecrecover")
	if idx < 0 {
		return nil
	}
	for _, kw := range []string{"chainid", "domain_separator", "domainseparator", "eip712", "_hashtypeddata"} {
		if strings.Contains(lower, kw) {
			return nil
		}
	}
	return newFinding(r.Meta(), fn, idx, "")
}
