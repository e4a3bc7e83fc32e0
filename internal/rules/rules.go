package rules

import (
	"context"
	"strings"
	"sync"

	"github.com/Asout3/audit-agent/internal/model"
	"github.com/Asout3/audit-agent/internal/util"
)

// Meta describes one check: finding type, fixed score, severity.
type Meta struct {
	ID          string
	Title       string
	Type        string
	Severity    model.Severity
	Score       float64
	Remediation string
}

// Rule is a stateless check over a single function's source. It yields zero
// or one finding and must tolerate no match.
type Rule interface {
	Meta() Meta
	Check(fn model.Function) *model.Finding
}

// ContractRule checks all functions of one contract together, for the few
// properties that only exist at contract granularity.
type ContractRule interface {
	Meta() Meta
	CheckContract(fns []model.Function) []model.Finding
}

type Registry struct {
	rules    []Rule
	contract []ContractRule
	disabled map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{disabled: map[string]bool{}}
}

func (r *Registry) Register(rule Rule)                 { r.rules = append(r.rules, rule) }
func (r *Registry) RegisterContract(rule ContractRule) { r.contract = append(r.contract, rule) }
func (r *Registry) Disable(id string)                  { r.disabled[id] = true }

func (r *Registry) RegisterBuiltin() {
	r.Register(&uncheckedLowLevelCall{})
	r.Register(&delegatecallTarget{})
	r.Register(&staleOracleRead{})
	r.Register(&decimalMismatch{})
	r.Register(&sameFunctionReentrancy{})
	r.Register(&txOriginAuth{})
	r.Register(&unguardedSelfdestruct{})
	r.Register(&blockMetadataRandomness{})
	r.Register(&signatureDomainBinding{})
	r.Register(&storageLayoutCollision{})
	r.Register(&unboundedIteration{})
	r.RegisterContract(&payableNoWithdraw{})
}

// Rules returns registered per-function rules, for listing.
func (r *Registry) Rules() []Rule { return r.rules }

// Run evaluates every function against every enabled rule across a bounded
// worker pool. Checks share no mutable state, so functions are independent.
func (r *Registry) Run(ctx context.Context, fns []model.Function, workers int) []model.Finding {
	if workers < 1 {
		workers = 2
	}
	ch := make(chan []model.Finding, len(fns))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := range fns {
		fn := fns[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if ctx.Err() != nil {
				ch <- nil
				return
			}
			ch <- r.RunFunction(fn)
		}()
	}
	wg.Wait()
	close(ch)
	var out []model.Finding
	for fs := range ch {
		out = append(out, fs...)
	}
	out = append(out, r.runContract(fns)...)
	return out
}

// RunFunction evaluates all enabled per-function rules on one function.
func (r *Registry) RunFunction(fn model.Function) []model.Finding {
	var out []model.Finding
	for _, rule := range r.rules {
		if r.disabled[rule.Meta().ID] {
			continue
		}
		if f := rule.Check(fn); f != nil {
			out = append(out, *f)
		}
	}
	return out
}

func (r *Registry) runContract(fns []model.Function) []model.Finding {
	groups := map[string][]model.Function{}
	var order []string
	for _, fn := range fns {
		k := fn.File + "|" + fn.Contract
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], fn)
	}
	var out []model.Finding
	for _, k := range order {
		for _, rule := range r.contract {
			if r.disabled[rule.Meta().ID] {
				continue
			}
			out = append(out, rule.CheckContract(groups[k])...)
		}
	}
	return out
}

// newFinding builds a finding from a rule's meta at the match offset within
// the function body.
func newFinding(m Meta, fn model.Function, matchIdx int, description string) *model.Finding {
	line := fn.StartLine
	if matchIdx > 0 && matchIdx <= len(fn.Body) {
		line += strings.Count(fn.Body[:matchIdx], "\n")
	}
	if description == "" {
		description = m.Title
	}
	return &model.Finding{
		Type:        m.Type,
		Severity:    m.Severity,
		Confidence:  model.ScoreConfidence(m.Score),
		File:        fn.File,
		Contract:    fn.Contract,
		Function:    fn.Name,
		StartLine:   line,
		EndLine:     line,
		Description: description,
		Score:       m.Score,
		Sources:     []string{"rules"},
		Remediation: m.Remediation,
		Snippet:     util.ExtractSnippet(fn.Body, line-fn.StartLine+1, line-fn.StartLine+1, 6),
		Fingerprint: util.Fingerprint(m.Type, fn.File, line, line, fn.Name),
	}
}

func contextWindow(body string, idx, before, after int) string {
	start := max(0, idx-before)
	end := min(len(body), idx+after)
	return body[start:end]
}
