package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/Asout3/audit-agent/internal/cache"
	"github.com/Asout3/audit-agent/internal/model"
)

const maxContentChars = 7000

// Extractor turns raw corpus findings into validated patterns and generates
// attack hypotheses for matched functions. Responses are cached by prompt
// hash; failures degrade to a heuristic fallback, never an abort.
type Extractor struct {
	LLM      Client
	Cache    *cache.Cache
	Policy   Policy
	TTLHours int
}

func NewExtractor(client Client, c *cache.Cache, policy Policy, ttlHours int) *Extractor {
	if ttlHours <= 0 {
		ttlHours = 168
	}
	return &Extractor{LLM: client, Cache: c, Policy: policy, TTLHours: ttlHours}
}

const extractPromptFmt = `Analyze this vulnerability and extract the invariant violation.

Title: %s
Content: %s

You MUST return valid JSON with exactly these fields:
{
    "vuln_class": "Short category name",
    "assumed_invariant": "What developers assumed was true (2-3 sentences)",
    "break_condition": "Specific attack that broke it (2-3 sentences)",
    "preconditions": ["condition1", "condition2"],
    "code_indicators": ["functionName", "variablePattern"],
    "severity": "High" or "Medium" or "Low"
}

Return ONLY the JSON object, no markdown, no explanation.`

// ExtractInvariant validates the collaborator's JSON strictly; unusable
// structures after all retries fall back to keyword classification.
func (e *Extractor) ExtractInvariant(ctx context.Context, content, title string) model.Extraction {
	if len(content) > maxContentChars {
		content = content[:maxContentChars]
	}
	prompt := fmt.Sprintf(extractPromptFmt, title, content)
	key := cache.Key(prompt)

	var out model.Extraction
	if e.Cache != nil && e.Cache.Get(cache.KindLLM, key, &out, 0) {
		return out
	}

	var parsed model.Extraction
	err := e.Policy.Do(ctx, func() error {
		text, err := e.LLM.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		parsed, err = parseExtraction(text)
		return err
	})
	if err != nil {
		log.Printf("llm: extraction failed (%v), using keyword fallback for %q", err, title)
		return FallbackExtraction(content, title)
	}
	if e.Cache != nil {
		if err := e.Cache.Put(cache.KindLLM, key, parsed, e.TTLHours, 0); err != nil {
			log.Printf("llm: response cache write failed: %v", err)
		}
	}
	return parsed
}

func parseExtraction(text string) (model.Extraction, error) {
	var raw struct {
		VulnClass      string `json:"vuln_class"`
		Invariant      string `json:"assumed_invariant"`
		BreakCondition string `json:"break_condition"`
		Preconditions  any    `json:"preconditions"`
		CodeIndicators any    `json:"code_indicators"`
		Severity       string `json:"severity"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(text, '{', '}')), &raw); err != nil {
		return model.Extraction{}, fmt.Errorf("unmarshal extraction: %w", err)
	}
	for name, v := range map[string]string{
		"vuln_class": raw.VulnClass, "assumed_invariant": raw.Invariant, "break_condition": raw.BreakCondition,
	} {
		if len(strings.TrimSpace(v)) < 5 {
			return model.Extraction{}, fmt.Errorf("missing or invalid %s", name)
		}
	}
	sev := model.ParseSeverity(raw.Severity)
	if raw.Severity == "" {
		sev = model.SeverityMedium
	}
	return model.Extraction{
		VulnClass:      strings.TrimSpace(raw.VulnClass),
		Invariant:      strings.TrimSpace(raw.Invariant),
		BreakCondition: strings.TrimSpace(raw.BreakCondition),
		Preconditions:  coerceStrings(raw.Preconditions),
		CodeIndicators: coerceStrings(raw.CodeIndicators),
		Severity:       sev,
	}, nil
}

// FallbackExtraction infers what it can from the title and first paragraph.
// It is the degraded path when no collaborator is configured or every
// attempt produced unusable output.
func FallbackExtraction(content, title string) model.Extraction {
	firstPara := title
	if content != "" {
		firstPara = strings.SplitN(content, "\n", 2)[0]
	}
	if len(firstPara) > 100 {
		firstPara = firstPara[:100]
	}
	lower := strings.ToLower(title)
	class := "Unknown"
	switch {
	case strings.Contains(lower, "reentran"):
		class = "Reentrancy"
	case strings.Contains(lower, "oracle"), strings.Contains(lower, "price"):
		class = "OracleManipulation"
	case strings.Contains(lower, "access"), strings.Contains(lower, "auth"), strings.Contains(lower, "permission"):
		class = "AccessControl"
	case strings.Contains(lower, "overflow"), strings.Contains(lower, "underflow"):
		class = "Arithmetic"
	}
	return model.Extraction{
		VulnClass:      class,
		Invariant:      "Developers assumed " + firstPara,
		BreakCondition: "Invariant violated due to unexpected interaction",
		Severity:       model.SeverityMedium,
		Fallback:       true,
	}
}

const hypothesisPromptFmt = `Analyze function '%s' for invariant violations.

Function Code:
%s

Historical patterns:
%s

Return a JSON array with at most 2 hypotheses:
[{"hypothesis": "...", "attack_vector": "...", "confidence": "High/Medium/Low"}]`

// GenerateHypotheses asks the collaborator for attack hypotheses against a
// function given its matched historical patterns. Malformed payloads yield
// an empty slice.
func (e *Extractor) GenerateHypotheses(ctx context.Context, code string, matches []model.SearchResult, funcName string) []model.Hypothesis {
	if len(matches) == 0 {
		return nil
	}
	var lines []string
	for i, m := range matches {
		if i >= 2 {
			break
		}
		bc := m.Pattern.BreakCondition
		if len(bc) > 100 {
			bc = bc[:100]
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", m.Pattern.Invariant, bc))
	}
	prompt := fmt.Sprintf(hypothesisPromptFmt, funcName, code, strings.Join(lines, "\n"))
	key := cache.Key(prompt)

	var cached []model.Hypothesis
	if e.Cache != nil && e.Cache.Get(cache.KindLLM, key, &cached, 0) {
		return cached
	}

	text, err := e.LLM.Generate(ctx, prompt)
	if err != nil {
		log.Printf("llm: hypothesis generation failed for %s: %v", funcName, err)
		return nil
	}
	var out []model.Hypothesis
	if err := json.Unmarshal([]byte(cleanJSON(text, '[', ']')), &out); err != nil {
		log.Printf("llm: malformed hypothesis payload for %s, dropping", funcName)
		return nil
	}
	if e.Cache != nil {
		_ = e.Cache.Put(cache.KindLLM, key, out, e.TTLHours, 0)
	}
	return out
}

// cleanJSON strips markdown fences and anything outside the outermost
// open..close pair.
func cleanJSON(s string, open, close byte) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+7:]
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[:i]
	}
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}

func coerceStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []string{strings.TrimSpace(t)}
	default:
		return nil
	}
}
