package engine

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Asout3/audit-agent/internal/cache"
	"github.com/Asout3/audit-agent/internal/callgraph"
	"github.com/Asout3/audit-agent/internal/config"
	"github.com/Asout3/audit-agent/internal/llm"
	"github.com/Asout3/audit-agent/internal/model"
	"github.com/Asout3/audit-agent/internal/parser"
	"github.com/Asout3/audit-agent/internal/rules"
	"github.com/Asout3/audit-agent/internal/store"
)

// Engine aggregates findings from the rule battery, the call-graph
// detectors, the pattern store, and the hypothesis collaborator into one
// ranked, deduplicated list. All dependencies are injected; any one source
// failing degrades coverage instead of aborting the run.
type Engine struct {
	cfg       config.Config
	store     *store.Store
	cache     *cache.Cache
	extractor *llm.Extractor
	parser    *parser.Parser
	registry  *rules.Registry
}

func New(cfg config.Config, st *store.Store, c *cache.Cache, extractor *llm.Extractor) *Engine {
	reg := rules.NewRegistry()
	reg.RegisterBuiltin()
	return &Engine{
		cfg:       cfg,
		store:     st,
		cache:     c,
		extractor: extractor,
		parser:    parser.New(cfg.Analysis.Risk),
		registry:  reg,
	}
}

// Registry exposes the rule registry, for listing and for disabling checks.
func (e *Engine) Registry() *rules.Registry { return e.registry }

// Audit runs the full pipeline against one project directory.
func (e *Engine) Audit(ctx context.Context, target string) (*model.AuditReport, error) {
	start := time.Now()
	report := &model.AuditReport{RunID: uuid.NewString(), Target: target}

	funcs, err := e.parser.ParseProject(target)
	if err != nil {
		return nil, fmt.Errorf("scan target: %w", err)
	}
	if len(funcs) == 0 {
		report.Elapsed = time.Since(start)
		return report, nil
	}

	var all []model.Finding

	graph := callgraph.New()
	if graph.Build(funcs) {
		all = append(all, graph.FindCrossFunctionReentrancy()...)
		all = append(all, graph.FindDelegatecallInjection()...)
		all = append(all, graph.FindFlashLoanCallbacks()...)
	} else {
		report.Degraded = append(report.Degraded, "callgraph")
	}

	ruleFindings := e.runRules(ctx, target, funcs)
	all = append(all, ruleFindings...)

	semantic, degraded := e.semanticPass(ctx, report.RunID, target, funcs, ruleFindings)
	all = append(all, semantic...)
	report.Degraded = append(report.Degraded, degraded...)
	if ctx.Err() != nil {
		report.Degraded = append(report.Degraded, "cancelled")
	}

	all = Dedupe(all, corroborationBoost)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if e.cfg.Analysis.Strict {
		var kept []model.Finding
		for _, f := range all {
			if f.Score >= e.cfg.Analysis.MinReportScore {
				kept = append(kept, f)
			}
		}
		all = kept
	}

	report.Findings = all
	report.Elapsed = time.Since(start)
	if ctx.Err() == nil {
		clearCheckpoint(e.checkpointPath())
	}
	if e.cache != nil {
		if err := e.cache.EnforceLimit(); err != nil {
			log.Printf("engine: cache eviction failed: %v", err)
		}
	}
	return report, nil
}

// runRules evaluates the rule battery, caching results per source file so an
// unchanged file skips re-analysis.
func (e *Engine) runRules(ctx context.Context, target string, funcs []model.Function) []model.Finding {
	byFile := map[string][]model.Function{}
	var fileOrder []string
	for _, fn := range funcs {
		if _, ok := byFile[fn.File]; !ok {
			fileOrder = append(fileOrder, fn.File)
		}
		byFile[fn.File] = append(byFile[fn.File], fn)
	}

	var out []model.Finding
	for _, file := range fileOrder {
		abs := filepath.Join(target, filepath.FromSlash(file))
		var cached []model.Finding
		if e.cache != nil && e.cache.GetFileResult(abs, &cached) {
			out = append(out, cached...)
			continue
		}
		fs := e.registry.Run(ctx, byFile[file], e.cfg.Analysis.Workers)
		if fs == nil {
			fs = []model.Finding{}
		}
		if e.cache != nil {
			if err := e.cache.PutFileResult(abs, fs, e.cfg.Cache.TTLHours); err != nil {
				log.Printf("engine: rule cache write failed for %s: %v", file, err)
			}
		}
		out = append(out, fs...)
	}
	return out
}

// semanticPass searches the pattern store for each high-risk function and,
// on a strong match, asks the hypothesis collaborator for attack
// hypotheses. Processing checkpoints after each function so a resumed run
// skips committed work.
func (e *Engine) semanticPass(ctx context.Context, runID, target string, funcs []model.Function, ruleFindings []model.Finding) ([]model.Finding, []string) {
	var degraded []string
	highRisk := e.selectHighRisk(funcs)
	if len(highRisk) == 0 {
		return nil, nil
	}

	cp := loadCheckpoint(e.checkpointPath(), target)
	if cp == nil {
		cp = &Checkpoint{RunID: runID, Target: target, Processed: map[string]bool{}}
	} else if len(cp.Processed) > 0 {
		log.Printf("engine: resuming semantic pass, %d functions already processed", len(cp.Processed))
	}

	storeFailed := false
	for _, fn := range highRisk {
		if ctx.Err() != nil {
			break
		}
		loc := fn.Location()
		if cp.Processed[loc] {
			continue
		}
		query := searchQuery(fn)
		matches, err := e.store.Search(ctx, query, e.cfg.Analysis.SearchTopK, e.cfg.Analysis.MinSimilarity, store.Filter{})
		if err != nil {
			if !storeFailed {
				log.Printf("engine: pattern search failed: %v", err)
				degraded = append(degraded, "patternstore")
				storeFailed = true
			}
			// Left unprocessed so a resumed run retries once the store recovers.
			continue
		}
		if len(matches) > 0 {
			cp.Findings = append(cp.Findings, e.semanticFinding(fn, matches[0], ruleFindings))
			if matches[0].Similarity > e.cfg.Analysis.HypothesisThreshold && e.extractor != nil {
				for _, h := range e.extractor.GenerateHypotheses(ctx, fn.Body, matches, fn.Name) {
					if h.Confidence != "High" {
						continue
					}
					cp.Findings = append(cp.Findings, hypothesisFinding(fn, h))
				}
			}
		}
		cp.Processed[loc] = true
		saveCheckpoint(e.checkpointPath(), cp)
	}
	return cp.Findings, degraded
}

func (e *Engine) selectHighRisk(funcs []model.Function) []model.Function {
	var out []model.Function
	for _, fn := range funcs {
		if fn.RiskScore > e.cfg.Analysis.RiskThreshold {
			out = append(out, fn)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RiskScore > out[j].RiskScore })
	if e.cfg.Analysis.MaxHighRisk > 0 && len(out) > e.cfg.Analysis.MaxHighRisk {
		out = out[:e.cfg.Analysis.MaxHighRisk]
	}
	return out
}

// searchQuery builds the semantic search key from function identity,
// detected external calls, and architecture tags.
func searchQuery(fn model.Function) string {
	parts := []string{fn.Name}
	parts = append(parts, fn.ExternalCalls...)
	parts = append(parts, fn.ArchTags...)
	return strings.Join(parts, " ")
}

func (e *Engine) checkpointPath() string {
	return filepath.Join(e.cfg.DataDir, "audit_checkpoint.json")
}
