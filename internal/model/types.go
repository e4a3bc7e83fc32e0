package model

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func ParseSeverity(s string) Severity {
	switch s {
	case string(SeverityCritical), "Critical":
		return SeverityCritical
	case string(SeverityHigh), "High":
		return SeverityHigh
	case string(SeverityMedium), "Medium":
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func SeverityGTE(a, b Severity) bool {
	order := map[Severity]int{SeverityLow: 1, SeverityMedium: 2, SeverityHigh: 3, SeverityCritical: 4}
	return order[a] >= order[b]
}

// Confidence is the human-facing label attached to an aggregated finding.
type Confidence string

const (
	ConfidenceLow      Confidence = "Low"
	ConfidenceMedium   Confidence = "Medium"
	ConfidenceHigh     Confidence = "High"
	ConfidenceCritical Confidence = "Critical"
)

// ScoreConfidence maps a 0-100 score to a confidence label.
func ScoreConfidence(score float64) Confidence {
	switch {
	case score >= 85:
		return ConfidenceCritical
	case score >= 70:
		return ConfidenceHigh
	case score >= 50:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Pattern is a structured summary of a historical vulnerability, keyed by a
// content hash of its invariant text. Immutable once stored; re-ingestion of
// the same source finding upserts the same row.
type Pattern struct {
	ID             string   `json:"id"`
	VulnClass      string   `json:"vulnClass"`
	Invariant      string   `json:"invariant"`
	BreakCondition string   `json:"breakCondition"`
	Preconditions  []string `json:"preconditions"`
	CodeIndicators []string `json:"codeIndicators"`
	Severity       Severity `json:"severity"`
	QualityScore   float64  `json:"qualityScore"`
	FindersCount   int      `json:"findersCount"`
	Protocol       string   `json:"protocol"`
	SourceTitle    string   `json:"sourceTitle"`
	SourceLink     string   `json:"sourceLink"`
}

// EmbedText is the text the store encodes for this pattern.
func (p Pattern) EmbedText() string {
	return p.Invariant + " " + p.BreakCondition
}

// SearchResult pairs a pattern with its similarity to the query and the final
// rank boost used for ordering.
type SearchResult struct {
	Pattern    Pattern `json:"pattern"`
	Similarity float64 `json:"similarity"`
	RankBoost  float64 `json:"rankBoost"`
}

// Function is the per-function metadata supplied by the source collaborator.
type Function struct {
	File          string   `json:"file"`
	Contract      string   `json:"contract"`
	Name          string   `json:"name"`
	Visibility    string   `json:"visibility"`
	Payable       bool     `json:"payable"`
	Guarded       bool     `json:"guarded"`
	Body          string   `json:"body"`
	StartLine     int      `json:"startLine"`
	ExternalCalls []string `json:"externalCalls"`
	ArchTags      []string `json:"archTags"`
	RiskScore     int      `json:"riskScore"`
}

func (f Function) Location() string { return f.File + "::" + f.Name }

func (f Function) IsEntryPoint() bool {
	return f.Visibility == "external" || f.Visibility == "public" || f.Visibility == ""
}

// Finding is one suspected vulnerability at a location. Dedup key across
// sources is (Location(), Type).
type Finding struct {
	Type        string     `json:"type"`
	Severity    Severity   `json:"severity"`
	Confidence  Confidence `json:"confidence"`
	File        string     `json:"file"`
	Contract    string     `json:"contract"`
	Function    string     `json:"function"`
	StartLine   int        `json:"startLine"`
	EndLine     int        `json:"endLine"`
	Description string     `json:"description"`
	Score       float64    `json:"score"`
	Sources     []string   `json:"sources"`
	AttackPath  string     `json:"attackPath,omitempty"`
	Remediation string     `json:"remediation,omitempty"`
	Snippet     string     `json:"snippet,omitempty"`
	Fingerprint string     `json:"fingerprint"`
	Validated   string     `json:"validated,omitempty"`
}

func (f Finding) Location() string {
	if f.Function != "" {
		return f.File + "::" + f.Function
	}
	return f.File
}

// CorpusRecord is one raw finding from the corpus-fetch collaborator.
type CorpusRecord struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Content      string  `json:"content"`
	Severity     string  `json:"severity"`
	FindersCount int     `json:"finders_count"`
	QualityScore float64 `json:"quality_score"`
	Protocol     string  `json:"protocol"`
	SourceLink   string  `json:"source_link"`
}

// Extraction is the validated result of invariant extraction. Fallback marks
// results produced by the heuristic path after the collaborator failed.
type Extraction struct {
	VulnClass      string   `json:"vuln_class"`
	Invariant      string   `json:"assumed_invariant"`
	BreakCondition string   `json:"break_condition"`
	Preconditions  []string `json:"preconditions"`
	CodeIndicators []string `json:"code_indicators"`
	Severity       Severity `json:"severity"`
	Fallback       bool     `json:"-"`
}

// Hypothesis is one AI-generated attack hypothesis for a function.
type Hypothesis struct {
	Hypothesis   string `json:"hypothesis"`
	AttackVector string `json:"attack_vector"`
	Confidence   string `json:"confidence"`
	Location     string `json:"location,omitempty"`
}

// AuditReport is the terminal output of one audit run.
type AuditReport struct {
	RunID    string        `json:"runId"`
	Target   string        `json:"target"`
	Findings []Finding     `json:"findings"`
	Degraded []string      `json:"degraded,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}
