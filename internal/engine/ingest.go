package engine

import (
	"context"
	"log"
	"strings"

	"github.com/Asout3/audit-agent/internal/llm"
	"github.com/Asout3/audit-agent/internal/model"
)

// IngestResult summarizes one corpus ingestion run.
type IngestResult struct {
	Added     int
	Skipped   int
	Fallbacks int
}

// Ingest converts raw corpus records into patterns and inserts them.
// Malformed records are skipped, extraction failures fall back to keyword
// classification, and duplicate patterns count as skipped; none of these
// abort the run.
func (e *Engine) Ingest(ctx context.Context, records []model.CorpusRecord) (IngestResult, error) {
	var res IngestResult
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if strings.TrimSpace(rec.Content) == "" && strings.TrimSpace(rec.Title) == "" {
			res.Skipped++
			continue
		}
		var ex model.Extraction
		if e.extractor != nil {
			ex = e.extractor.ExtractInvariant(ctx, rec.Content, rec.Title)
		} else {
			ex = llm.FallbackExtraction(rec.Content, rec.Title)
		}
		if ex.Fallback {
			res.Fallbacks++
		}
		sev := ex.Severity
		if rec.Severity != "" {
			sev = model.ParseSeverity(rec.Severity)
		}
		inserted, err := e.store.Insert(ctx, model.Pattern{
			VulnClass:      ex.VulnClass,
			Invariant:      ex.Invariant,
			BreakCondition: ex.BreakCondition,
			Preconditions:  ex.Preconditions,
			CodeIndicators: ex.CodeIndicators,
			Severity:       sev,
			QualityScore:   rec.QualityScore,
			FindersCount:   rec.FindersCount,
			Protocol:       rec.Protocol,
			SourceTitle:    rec.Title,
			SourceLink:     rec.SourceLink,
		})
		if err != nil {
			log.Printf("ingest: record %d (%q) failed: %v", i, rec.Title, err)
			res.Skipped++
			continue
		}
		if inserted {
			res.Added++
		} else {
			res.Skipped++
		}
	}
	if err := e.store.Reload(ctx); err != nil {
		log.Printf("ingest: index reload failed: %v", err)
	}
	return res, nil
}
