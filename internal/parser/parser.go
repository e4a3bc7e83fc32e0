package parser

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Asout3/audit-agent/internal/config"
	"github.com/Asout3/audit-agent/internal/model"
)

// Parser is the regex-based source collaborator: it extracts per-function
// metadata from Solidity files. Precision is deliberately heuristic; a
// compiler front end could supply the same metadata.
type Parser struct {
	weights config.RiskWeights
}

func New(weights config.RiskWeights) *Parser {
	return &Parser{weights: weights}
}

var (
	reContract = regexp.MustCompile(`^\s*(?:abstract\s+)?(?:contract|library|interface)\s+(\w+)`)
	reFunction = regexp.MustCompile(`^\s*function\s+(\w+)\s*\(`)
	reFallback = regexp.MustCompile(`^\s*(fallback|receive)\s*\(`)
	reCall     = regexp.MustCompile(`\b(\w+)\s*\.\s*(call|delegatecall|staticcall|transfer|send|flashLoan|swap|mint|burn)\b`)
	reWrite    = regexp.MustCompile(`(^|[^=!<>])\b[_a-zA-Z]\w*(\[[^\]]*\])?\s*(=[^=]|\+=|-=|\*=|/=|\+\+|--)`)
)

// ParseProject walks root for .sol files and returns all functions found.
func (p *Parser) ParseProject(root string) ([]model.Function, error) {
	var out []model.Function
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(d.Name()) != ".sol" {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		out = append(out, p.ParseSource(filepath.ToSlash(rel), string(b))...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ParseSource extracts functions from one file's content. Function bodies
// run until the next function or contract header, matching how the
// detectors consume them.
func (p *Parser) ParseSource(file, content string) []model.Function {
	lines := strings.Split(content, "\n")
	tags := archTags(content)

	type header struct {
		line     int
		name     string
		contract string
	}
	var headers []header
	contract := ""
	for i, l := range lines {
		if m := reContract.FindStringSubmatch(l); m != nil {
			contract = m[1]
			continue
		}
		if m := reFunction.FindStringSubmatch(l); m != nil {
			headers = append(headers, header{line: i, name: m[1], contract: contract})
		} else if m := reFallback.FindStringSubmatch(l); m != nil {
			headers = append(headers, header{line: i, name: m[1], contract: contract})
		}
	}

	var funcs []model.Function
	for hi, h := range headers {
		end := len(lines)
		if hi+1 < len(headers) {
			end = headers[hi+1].line
		}
		body := strings.Join(lines[h.line:end], "\n")
		headerLine := lines[h.line]
		fn := model.Function{
			File:       file,
			Contract:   h.contract,
			Name:       h.name,
			Visibility: visibility(headerLine),
			Payable:    strings.Contains(headerLine, "payable"),
			Guarded:    strings.Contains(headerLine, "nonReentrant"),
			Body:       body,
			StartLine:  h.line + 1,
			ArchTags:   tags,
		}
		fn.ExternalCalls = externalCallNames(body)
		fn.RiskScore = p.riskScore(fn)
		funcs = append(funcs, fn)
	}
	return funcs
}

func visibility(header string) string {
	for _, v := range []string{"external", "public", "internal", "private"} {
		if strings.Contains(header, " "+v) {
			return v
		}
	}
	return ""
}

func externalCallNames(body string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range reCall.FindAllStringSubmatch(body, -1) {
		target, method := m[1], m[2]
		if target == "abi" || target == "this" {
			continue
		}
		name := target + "." + method
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func archTags(content string) []string {
	lower := strings.ToLower(content)
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(lower, strings.ToLower(s)) {
				return true
			}
		}
		return false
	}
	var tags []string
	if has("oracle", "price", "feed", "chainlink") {
		tags = append(tags, "oracle")
	}
	if has("borrow", "lend", "collateral", "liquidat") {
		tags = append(tags, "lending")
	}
	if has("swap", "pair", "getamount", "liquidity") {
		tags = append(tags, "amm")
	}
	if has("bridge", "layerzero", "axelar") {
		tags = append(tags, "cross_chain")
	}
	if has("vote", "proposal", "governor", "timelock", "quorum") {
		tags = append(tags, "governance")
	}
	if has("erc20", "transferfrom") {
		tags = append(tags, "erc20")
	}
	if has("erc721", "ownerof") {
		tags = append(tags, "erc721")
	}
	if has("delegatecall", "upgradeable", "proxy") {
		tags = append(tags, "proxy")
	}
	if has("flashloan", "flash loan") {
		tags = append(tags, "flash_loan")
	}
	if has("multisig", "threshold") {
		tags = append(tags, "multisig")
	}
	return tags
}

// riskScore ranks a function for deep-analysis selection using the
// configured weights.
func (p *Parser) riskScore(fn model.Function) int {
	score := 0
	body := fn.Body
	lower := strings.ToLower(body)
	if fn.IsEntryPoint() {
		score += p.weights.EntryPoint
	}
	hasExternal := strings.Contains(body, ".call(") || strings.Contains(body, ".call{") ||
		strings.Contains(lower, ".transfer(") || strings.Contains(lower, ".send(")
	if hasExternal {
		score += p.weights.ExternalCall
	}
	if strings.Contains(lower, "delegatecall") {
		score += p.weights.Delegatecall
	}
	if hasExternal && !fn.Guarded && writesStateAfterCall(body) {
		score += p.weights.Reentrancy
	}
	if strings.Contains(lower, "assembly") {
		score += p.weights.Assembly
	}
	if strings.Contains(lower, "block.timestamp") {
		score += p.weights.Timestamp
	}
	return score
}

func writesStateAfterCall(body string) bool {
	idx := strings.Index(body, ".call")
	if idx < 0 {
		idx = strings.Index(strings.ToLower(body), ".transfer(")
	}
	if idx < 0 {
		return false
	}
	return reWrite.MatchString(body[idx:])
}
