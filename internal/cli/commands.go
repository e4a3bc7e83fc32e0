package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Asout3/audit-agent/internal/cache"
	"github.com/Asout3/audit-agent/internal/config"
	"github.com/Asout3/audit-agent/internal/embed"
	"github.com/Asout3/audit-agent/internal/engine"
	"github.com/Asout3/audit-agent/internal/llm"
	"github.com/Asout3/audit-agent/internal/model"
	"github.com/Asout3/audit-agent/internal/report"
	"github.com/Asout3/audit-agent/internal/store"
	"github.com/Asout3/audit-agent/internal/tui"
)

func AddCommands(root *cobra.Command) {
	root.AddCommand(newAuditCmd())
	root.AddCommand(newIngestCmd())
	root.AddCommand(newPatternsCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newRulesCmd())
	root.AddCommand(newInitCmd())
}

// runtime bundles everything a command needs past config parsing.
type runtime struct {
	cfg       config.Config
	cache     *cache.Cache
	store     *store.Store
	extractor *llm.Extractor
	eng       *engine.Engine
}

func (r *runtime) Close() {
	if r.store != nil {
		r.store.Close()
	}
}

func bootstrap() (*runtime, error) {
	cfg, _, err := config.Load(".")
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	c, err := cache.New(cfg.Cache.Dir, cfg.Cache.MaxSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	embedder := embed.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.EmbeddingModel, cfg.LLM.BaseURL)
	st, err := store.Open(cfg.Store.DBPath, embedder, c, cfg.Store.DedupThreshold)
	if err != nil {
		return nil, fmt.Errorf("open pattern store: %w", err)
	}

	var extractor *llm.Extractor
	if cfg.LLM.APIKey != "" {
		client := llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)
		policy := llm.DefaultPolicy()
		if cfg.LLM.MaxRetries > 0 {
			policy.Attempts = cfg.LLM.MaxRetries
		}
		extractor = llm.NewExtractor(client, c, policy, cfg.Cache.LLMTTLHours)
	}

	return &runtime{
		cfg:       cfg,
		cache:     c,
		store:     st,
		extractor: extractor,
		eng:       engine.New(cfg, st, c, extractor),
	}, nil
}

func newAuditCmd() *cobra.Command {
	var (
		format string
		out    string
		useTUI bool
		strict bool
		failOn string
	)
	cmd := &cobra.Command{
		Use:   "audit [path]",
		Short: "Audit a Solidity project for vulnerabilities",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) > 0 {
				target = args[0]
			}
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()
			if strict {
				cfg := rt.cfg
				cfg.Analysis.Strict = true
				rt.eng = engine.New(cfg, rt.store, rt.cache, rt.extractor)
			}

			result, err := rt.eng.Audit(cmd.Context(), target)
			if err != nil {
				return err
			}

			if useTUI {
				return tui.Run(result.Findings)
			}
			var data []byte
			switch format {
			case "json":
				data, _ = json.MarshalIndent(result, "", "  ")
			case "sarif":
				data, err = report.ToSARIF(result.Findings)
				if err != nil {
					return err
				}
			case "markdown":
				data = report.ToMarkdown(result)
			default:
				printTable(cmd, result)
			}
			if data != nil {
				if out != "" {
					if err := os.WriteFile(out, data, 0o644); err != nil {
						return err
					}
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), string(data))
				}
			}

			if failOn != "" {
				threshold := model.ParseSeverity(failOn)
				for _, f := range result.Findings {
					if model.SeverityGTE(f.Severity, threshold) {
						return fmt.Errorf("fail-on threshold met: %s", f.Severity)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table|json|sarif|markdown")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write report to file instead of stdout")
	cmd.Flags().BoolVar(&useTUI, "tui", false, "Browse findings interactively")
	cmd.Flags().BoolVar(&strict, "strict", false, "Report only findings at or above the minimum score")
	cmd.Flags().StringVar(&failOn, "fail-on", "", "Exit nonzero on a finding of this severity or higher")
	return cmd
}

func printTable(cmd *cobra.Command, result *model.AuditReport) {
	fmt.Fprintf(cmd.OutOrStdout(), "Findings: %d (elapsed %s)\n", len(result.Findings), result.Elapsed)
	for _, d := range result.Degraded {
		fmt.Fprintf(cmd.OutOrStdout(), "! degraded: %s\n", d)
	}
	for _, f := range result.Findings {
		fmt.Fprintf(cmd.OutOrStdout(), "- %s [%s] %s:%d-%d score=%.0f (%s)\n",
			f.Type, f.Severity, f.File, f.StartLine, f.EndLine, f.Score, f.Confidence)
	}
}
