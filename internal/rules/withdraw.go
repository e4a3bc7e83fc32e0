package rules

import (
	"strings"

	"github.com/Asout3/audit-agent/internal/model"
)

// payableNoWithdraw flags a contract that accepts ether but has no function
// that sends value back out: funds in, no path out.
type payableNoWithdraw struct{}

func (r *payableNoWithdraw) Meta() Meta {
	return Meta{
		ID:          "RULE-NO-WITHDRAW",
		Title:       "Payable contract with no withdrawal path",
		Type:        "no_withdrawal_path",
		Severity:    model.SeverityMedium,
		Score:       55,
		Remediation: "Add an access-controlled withdrawal function for received ether.",
	}
}

func (r *payableNoWithdraw) CheckContract(fns []model.Function) []model.Finding {
	var payable *model.Function
	for i := range fns {
		fn := &fns[i]
		if fn.Payable {
			if payable == nil {
				payable = fn
			}
			continue
		}
	}
	if payable == nil {
		return nil
	}
	for _, fn := range fns {
		low := strings.ToLower(fn.Body)
		if strings.Contains(low, "withdraw") || strings.Contains(low, ".transfer(") ||
			strings.Contains(low, "call{value") || strings.Contains(low, ".send(") {
			return nil
		}
	}
	f := newFinding(r.Meta(), *payable, 0, "")
	return []model.Finding{*f}
}
