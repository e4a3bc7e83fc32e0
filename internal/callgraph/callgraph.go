package callgraph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Asout3/audit-agent/internal/model"
	"github.com/Asout3/audit-agent/internal/util"
)

// Node is one (contract, function) vertex with its call edges and state
// access sets. Edges are caller to callee.
type Node struct {
	Contract      string
	Name          string
	Fn            model.Function
	InternalCalls []string // resolved node keys
	ExternalCalls []string
	StateReads    map[string]bool
	StateWrites   map[string]bool
}

func key(contract, name string) string { return contract + "." + name }

// Graph is the per-project function call graph. Built once per audit,
// ephemeral. Call-edge resolution is name-based: collisions across contracts
// and shadowing are an accepted recall/precision tradeoff.
type Graph struct {
	nodes map[string]*Node
	order []string
	built bool
}

func New() *Graph {
	return &Graph{nodes: map[string]*Node{}}
}

var (
	reCallExpr  = regexp.MustCompile(`\b([a-zA-Z_]\w*)\s*\(`)
	reExtCall   = regexp.MustCompile(`\.\s*(call|delegatecall|staticcall|transfer|send)\s*[({]`)
	reDelegate  = regexp.MustCompile(`(\w+)\s*\.\s*delegatecall\s*[({]`)
	reAssign    = regexp.MustCompile(`\b([a-zA-Z_]\w*)(?:\[[^\]]*\])?\s*(?:=[^=]|\+=|-=|\*=|/=|\+\+|--)`)
	reCondIdent = regexp.MustCompile(`\b([a-zA-Z_]\w*)(?:\[[^\]]*\])?\s*(?:==|!=|<=|>=|<|>)`)
	reDeclLine  = regexp.MustCompile(`^\s*(uint\d*|int\d*|bool|address|bytes\d*|string|mapping)\b`)
)

var reservedIdents = map[string]bool{
	"require": true, "assert": true, "revert": true, "if": true, "for": true,
	"while": true, "return": true, "returns": true, "function": true, "emit": true,
	"new": true, "keccak256": true, "abi": true, "msg": true, "block": true,
	"tx": true, "address": true, "payable": true, "uint256": true, "uint": true,
	"bytes": true, "type": true, "unchecked": true,
}

// Build registers every function and derives call edges and state access
// sets from the bodies. It returns false when there is nothing to analyze;
// detectors on an unbuilt graph return empty sets, so callers treat "no
// graph" as "no cross-function findings".
func (g *Graph) Build(funcs []model.Function) bool {
	if len(funcs) == 0 {
		g.built = false
		return false
	}
	for i := range funcs {
		fn := funcs[i]
		k := key(fn.Contract, fn.Name)
		g.nodes[k] = &Node{
			Contract:    fn.Contract,
			Name:        fn.Name,
			Fn:          fn,
			StateReads:  map[string]bool{},
			StateWrites: map[string]bool{},
		}
		g.order = append(g.order, k)
	}
	for _, k := range g.order {
		n := g.nodes[k]
		g.annotate(n)
	}
	g.built = true
	return true
}

func (g *Graph) annotate(n *Node) {
	lines := strings.Split(n.Fn.Body, "\n")
	for i, line := range lines {
		if i == 0 {
			// skip the function's own header
			continue
		}
		if m := reExtCall.FindString(line); m != "" {
			n.ExternalCalls = append(n.ExternalCalls, strings.TrimSpace(line))
		}
		for _, m := range reCallExpr.FindAllStringSubmatch(line, -1) {
			callee := m[1]
			if reservedIdents[callee] {
				continue
			}
			if target := g.resolve(n.Contract, callee); target != "" && target != key(n.Contract, n.Name) {
				n.InternalCalls = append(n.InternalCalls, target)
			}
		}
		isDecl := reDeclLine.MatchString(line)
		for _, m := range reAssign.FindAllStringSubmatch(line, -1) {
			if id := m[1]; !reservedIdents[id] && !isDecl {
				n.StateWrites[id] = true
			}
		}
		if strings.Contains(line, "require(") || strings.Contains(line, "if (") ||
			strings.Contains(line, "if(") || strings.Contains(line, "while") {
			for _, m := range reCondIdent.FindAllStringSubmatch(line, -1) {
				if id := m[1]; !reservedIdents[id] {
					n.StateReads[id] = true
				}
			}
		}
	}
}

// resolve maps a callee name to a node key, preferring the caller's own
// contract.
func (g *Graph) resolve(contract, name string) string {
	if k := key(contract, name); g.nodes[k] != nil {
		return k
	}
	for _, k := range g.order {
		if g.nodes[k].Name == name {
			return k
		}
	}
	return ""
}

// callers returns the node keys with an internal edge into target.
func (g *Graph) callers(target string) []string {
	var out []string
	for _, k := range g.order {
		for _, callee := range g.nodes[k].InternalCalls {
			if callee == target && k != target {
				out = append(out, k)
				break
			}
		}
	}
	return out
}

// FindCrossFunctionReentrancy looks for an externally-visible A that reads
// state which a callee B writes, where B also performs an external call:
// the check lives in A, the effect in B.
func (g *Graph) FindCrossFunctionReentrancy() []model.Finding {
	if !g.built {
		return nil
	}
	var findings []model.Finding
	seen := map[string]bool{}
	for _, ka := range g.order {
		a := g.nodes[ka]
		if !a.Fn.IsEntryPoint() {
			continue
		}
		for _, kb := range a.InternalCalls {
			b := g.nodes[kb]
			if b == nil || len(b.ExternalCalls) == 0 {
				continue
			}
			var shared []string
			for read := range a.StateReads {
				if b.StateWrites[read] {
					shared = append(shared, read)
				}
			}
			if len(shared) == 0 {
				continue
			}
			sort.Strings(shared)
			pairKey := ka + "->" + kb
			if seen[pairKey] {
				continue
			}
			seen[pairKey] = true
			findings = append(findings, model.Finding{
				Type:        "cross_function_reentrancy",
				Severity:    model.SeverityCritical,
				File:        a.Fn.File,
				Contract:    a.Contract,
				Function:    a.Name,
				StartLine:   a.Fn.StartLine,
				Description: fmt.Sprintf("%s reads state (%s) that %s modifies after an external call", a.Name, strings.Join(shared, ", "), b.Name),
				Score:       90,
				Sources:     []string{"callgraph"},
				AttackPath:  fmt.Sprintf("%s -> %s -> external_call -> state_write", a.Name, b.Name),
				Fingerprint: util.Fingerprint("cross_function_reentrancy", a.Fn.File, a.Fn.StartLine, a.Fn.StartLine, pairKey),
			})
		}
	}
	return findings
}

// FindDelegatecallInjection flags delegatecalls whose target expression is a
// variable, inside functions that also consume raw call data.
func (g *Graph) FindDelegatecallInjection() []model.Finding {
	if !g.built {
		return nil
	}
	var findings []model.Finding
	for _, k := range g.order {
		n := g.nodes[k]
		m := reDelegate.FindStringSubmatch(n.Fn.Body)
		if m == nil {
			continue
		}
		lower := strings.ToLower(n.Fn.Body)
		if !strings.Contains(lower, "msg.data") && !strings.Contains(lower, "calldata") {
			continue
		}
		rel, _ := util.FindLineRange(n.Fn.Body, m[0])
		line := n.Fn.StartLine + rel - 1
		findings = append(findings, model.Finding{
			Type:        "delegatecall_injection",
			Severity:    model.SeverityCritical,
			File:        n.Fn.File,
			Contract:    n.Contract,
			Function:    n.Name,
			StartLine:   line,
			Description: fmt.Sprintf("Delegatecall to variable target %q reachable with externally-controlled call data", m[1]),
			Score:       95,
			Sources:     []string{"callgraph"},
			Fingerprint: util.Fingerprint("delegatecall_injection", n.Fn.File, line, line, k),
		})
	}
	return findings
}

// FindFlashLoanCallbacks flags functions with an external call that are also
// reachable from other functions, a callback surface for flash-loan style
// attacks.
func (g *Graph) FindFlashLoanCallbacks() []model.Finding {
	if !g.built {
		return nil
	}
	var findings []model.Finding
	for _, k := range g.order {
		n := g.nodes[k]
		if len(n.ExternalCalls) == 0 {
			continue
		}
		callers := g.callers(k)
		if len(callers) == 0 {
			continue
		}
		var names []string
		for _, c := range callers {
			names = append(names, g.nodes[c].Name)
		}
		findings = append(findings, model.Finding{
			Type:        "flash_loan_callback",
			Severity:    model.SeverityHigh,
			File:        n.Fn.File,
			Contract:    n.Contract,
			Function:    n.Name,
			StartLine:   n.Fn.StartLine,
			Description: fmt.Sprintf("External-call function reachable from %s; callback re-entry risk", strings.Join(names, ", ")),
			Score:       75,
			Sources:     []string{"callgraph"},
			Fingerprint: util.Fingerprint("flash_loan_callback", n.Fn.File, n.Fn.StartLine, n.Fn.StartLine, k),
		})
	}
	return findings
}
