package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Asout3/audit-agent/internal/cache"
	"github.com/Asout3/audit-agent/internal/config"
	"github.com/Asout3/audit-agent/internal/llm"
	"github.com/Asout3/audit-agent/internal/model"
	"github.com/Asout3/audit-agent/internal/store"
)

// scriptedEmbedder maps exact texts to vectors; unknown texts get a default
// orthogonal vector so they never match anything scripted.
type scriptedEmbedder struct {
	vectors map[string][]float32
	fail    bool
	calls   int
}

func (s *scriptedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls++
	if s.fail {
		return nil, errors.New("embedding backend down")
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 1}, nil
}

type scriptedLLM struct {
	response string
	calls    int
}

func (s *scriptedLLM) Generate(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.response, nil
}

const vulnerableVault = `contract Vault {
    mapping(address => uint) balances;

    function withdraw(uint amount) external {
        (bool ok, ) = msg.sender.call{value: amount}("");
        balances[msg.sender] -= amount;
    }
}
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.DataDir = dir
	cfg.Store.DBPath = filepath.Join(dir, "patterns.db")
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	return cfg
}

func writeTarget(t *testing.T, source string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Vault.sol"), []byte(source), 0o644))
	return dir
}

// reentrancyPattern pairs with the scripted embedder below: the stored
// pattern embeds close to the withdraw function's search query.
func reentrancyPattern() model.Pattern {
	return model.Pattern{
		VulnClass:      "Reentrancy",
		Invariant:      "Balances settle before any external transfer",
		BreakCondition: "fallback re-enters withdraw ahead of the balance write",
		Severity:       model.SeverityHigh,
		QualityScore:   4.0,
		FindersCount:   2,
	}
}

func matchingEmbedder() *scriptedEmbedder {
	p := reentrancyPattern()
	return &scriptedEmbedder{vectors: map[string][]float32{
		"withdraw sender.call": {1, 0, 0, 0},
		p.EmbedText():          {0.8, 0.6, 0, 0},
	}}
}

func TestAuditEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	c, err := cache.New(cfg.Cache.Dir, cfg.Cache.MaxSizeBytes)
	require.NoError(t, err)
	emb := matchingEmbedder()
	st, err := store.Open(cfg.Store.DBPath, emb, c, cfg.Store.DedupThreshold)
	require.NoError(t, err)
	defer st.Close()

	ok, err := st.Insert(context.Background(), reentrancyPattern())
	require.NoError(t, err)
	require.True(t, ok)

	hypJSON := `[{"hypothesis": "fallback re-enters withdraw before the balance write", "attack_vector": "recursive withdraw", "confidence": "High"}]`
	extractor := llm.NewExtractor(&scriptedLLM{response: hypJSON}, nil, llm.Policy{Attempts: 1}, 0)

	eng := New(cfg, st, c, extractor)
	target := writeTarget(t, vulnerableVault)
	report, err := eng.Audit(context.Background(), target)
	require.NoError(t, err)
	require.NotEmpty(t, report.RunID)
	assert.Empty(t, report.Degraded)

	byType := map[string]model.Finding{}
	for _, f := range report.Findings {
		byType[f.Type] = f
	}

	rule, ok := byType["reentrancy_no_guard"]
	require.True(t, ok, "static rule must fire on call-then-write")
	assert.EqualValues(t, 85, rule.Score)

	sem, ok := byType["pattern_match"]
	require.True(t, ok, "semantic match above the similarity floor must surface")
	// 0.8*0.6 + 0.15 rarity + 0.08 quality + 0.10 class overlap = 0.81
	assert.InDelta(t, 81, sem.Score, 0.5)
	assert.Equal(t, model.ConfidenceHigh, sem.Confidence)
	assert.Contains(t, sem.Description, "Reentrancy")

	hyp, ok := byType["deep_hypothesis"]
	require.True(t, ok, "similarity above the hypothesis threshold triggers generation")
	assert.EqualValues(t, 85, hyp.Score)
	assert.Equal(t, "recursive withdraw", hyp.AttackPath)

	for i := 1; i < len(report.Findings); i++ {
		assert.GreaterOrEqual(t, report.Findings[i-1].Score, report.Findings[i].Score, "findings ordered by score")
	}

	_, err = os.Stat(filepath.Join(cfg.DataDir, "audit_checkpoint.json"))
	assert.True(t, os.IsNotExist(err), "checkpoint cleared after a completed run")
}

func TestAuditEmptyTarget(t *testing.T) {
	cfg := testConfig(t)
	eng := New(cfg, nil, nil, nil)
	report, err := eng.Audit(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, report.Findings)
	assert.NotEmpty(t, report.RunID)
}

func TestAuditDegradesOnStoreFailure(t *testing.T) {
	cfg := testConfig(t)
	emb := matchingEmbedder()
	st, err := store.Open(cfg.Store.DBPath, emb, nil, cfg.Store.DedupThreshold)
	require.NoError(t, err)
	defer st.Close()
	_, err = st.Insert(context.Background(), reentrancyPattern())
	require.NoError(t, err)
	emb.fail = true

	eng := New(cfg, st, nil, nil)
	report, err := eng.Audit(context.Background(), writeTarget(t, vulnerableVault))
	require.NoError(t, err, "a failing pattern store degrades coverage, not the run")
	assert.Contains(t, report.Degraded, "patternstore")

	var types []string
	for _, f := range report.Findings {
		types = append(types, f.Type)
	}
	assert.Contains(t, types, "reentrancy_no_guard", "static findings survive the degraded pass")
}

func TestAuditStrictFiltersLowScores(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analysis.Strict = true
	cfg.Analysis.MinReportScore = 90

	eng := New(cfg, nil, nil, nil)
	// tx.origin scores 60, below the strict floor; selfdestruct scores 90.
	target := writeTarget(t, `contract Admin {
    function destroy() external {
        selfdestruct(payable(msg.sender));
    }

    function configure() external {
        require(tx.origin == owner);
        owner = msg.sender;
    }
}
`)
	report, err := eng.Audit(context.Background(), target)
	require.NoError(t, err)
	require.NotEmpty(t, report.Findings)
	for _, f := range report.Findings {
		assert.GreaterOrEqual(t, f.Score, 90.0)
	}
}

func TestAuditResumesFromCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	emb := matchingEmbedder()
	st, err := store.Open(cfg.Store.DBPath, emb, nil, cfg.Store.DedupThreshold)
	require.NoError(t, err)
	defer st.Close()
	_, err = st.Insert(context.Background(), reentrancyPattern())
	require.NoError(t, err)

	target := writeTarget(t, vulnerableVault)
	canned := model.Finding{
		Type: "pattern_match", Severity: model.SeverityHigh, File: "Vault.sol",
		Function: "withdraw", Score: 77, Sources: []string{"semantic"},
	}
	cp := Checkpoint{
		RunID:     "prior-run",
		Target:    target,
		Processed: map[string]bool{"Vault.sol::withdraw": true},
		Findings:  []model.Finding{canned},
	}
	b, err := json.Marshal(cp)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir, "audit_checkpoint.json"), b, 0o644))

	insertCalls := emb.calls
	eng := New(cfg, st, nil, nil)
	report, err := eng.Audit(context.Background(), target)
	require.NoError(t, err)

	assert.Equal(t, insertCalls, emb.calls, "a processed function is not re-searched")
	found := false
	for _, f := range report.Findings {
		if f.Type == "pattern_match" && f.Score == 77 {
			found = true
		}
	}
	assert.True(t, found, "checkpointed findings carry into the resumed report")
}

// cancelAfterEmbedder cancels its context once a fixed number of embeddings
// have been served, simulating a user interrupt mid semantic pass.
type cancelAfterEmbedder struct {
	scriptedEmbedder
	cancelAt int
	cancel   context.CancelFunc
}

func (c *cancelAfterEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := c.scriptedEmbedder.Embed(ctx, text)
	if c.calls == c.cancelAt {
		c.cancel()
	}
	return v, err
}

const twoWithdrawVault = `contract Vault {
    mapping(address => uint) balances;
    mapping(address => uint) shares;

    function withdrawAll() external {
        (bool ok, ) = msg.sender.call{value: balances[msg.sender]}("");
        balances[msg.sender] = 0;
    }

    function withdrawShares(uint amount) external {
        (bool ok, ) = msg.sender.call{value: amount}("");
        shares[msg.sender] -= amount;
    }
}
`

func TestAuditCancelKeepsCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Insert is the first embedding; the next one is the first function's
	// search, after which the run is interrupted.
	emb := &cancelAfterEmbedder{cancelAt: 2, cancel: cancel}
	emb.vectors = map[string][]float32{reentrancyPattern().EmbedText(): {0.8, 0.6, 0, 0}}
	st, err := store.Open(cfg.Store.DBPath, emb, nil, cfg.Store.DedupThreshold)
	require.NoError(t, err)
	defer st.Close()
	_, err = st.Insert(context.Background(), reentrancyPattern())
	require.NoError(t, err)

	target := writeTarget(t, twoWithdrawVault)
	eng := New(cfg, st, nil, nil)
	report, err := eng.Audit(ctx, target)
	require.NoError(t, err)
	assert.Contains(t, report.Degraded, "cancelled", "a cut-short run is marked partial")

	cp := loadCheckpoint(eng.checkpointPath(), target)
	require.NotNil(t, cp, "an interrupted run keeps its checkpoint for resume")
	assert.Len(t, cp.Processed, 1, "only the function searched before the interrupt is recorded")

	// A fresh run picks up the checkpoint, searches only the remaining
	// function and clears the checkpoint on completion.
	calls := emb.calls
	report, err = eng.Audit(context.Background(), target)
	require.NoError(t, err)
	assert.Empty(t, report.Degraded)
	assert.Equal(t, calls+1, emb.calls, "the already-processed function is not re-searched")
	_, err = os.Stat(eng.checkpointPath())
	assert.True(t, os.IsNotExist(err))
}

func TestSemanticPassRetriesFailedSearchOnResume(t *testing.T) {
	cfg := testConfig(t)
	emb := matchingEmbedder()
	st, err := store.Open(cfg.Store.DBPath, emb, nil, cfg.Store.DedupThreshold)
	require.NoError(t, err)
	defer st.Close()
	_, err = st.Insert(context.Background(), reentrancyPattern())
	require.NoError(t, err)

	eng := New(cfg, st, nil, nil)
	target := writeTarget(t, vulnerableVault)
	funcs, err := eng.parser.ParseProject(target)
	require.NoError(t, err)

	emb.fail = true
	findings, degraded := eng.semanticPass(context.Background(), "run-1", target, funcs, nil)
	assert.Empty(t, findings)
	assert.Contains(t, degraded, "patternstore")
	if cp := loadCheckpoint(eng.checkpointPath(), target); cp != nil {
		assert.Empty(t, cp.Processed, "a failed search leaves the function unprocessed")
	}

	// Once the store recovers, a later pass searches the function instead of
	// treating it as done.
	emb.fail = false
	findings, degraded = eng.semanticPass(context.Background(), "run-2", target, funcs, nil)
	assert.Empty(t, degraded)
	require.NotEmpty(t, findings, "the recovered store serves the match the failed run missed")
	assert.Equal(t, "pattern_match", findings[0].Type)
}

func TestDedupeCorroboration(t *testing.T) {
	a := model.Finding{
		Type: "reentrancy_no_guard", File: "V.sol", Function: "withdraw",
		Severity: model.SeverityHigh, Score: 80, Sources: []string{"rules"},
	}
	b := model.Finding{
		Type: "reentrancy_no_guard", File: "V.sol", Function: "withdraw",
		Severity: model.SeverityCritical, Score: 90, Sources: []string{"callgraph"},
		AttackPath: "withdraw -> _pay -> external_call -> state_write",
	}
	out := Dedupe([]model.Finding{a, b}, corroborationBoost)
	require.Len(t, out, 1)
	f := out[0]
	assert.InDelta(t, 100, f.Score, 1e-9, "90 * 1.15 caps at 100")
	assert.Equal(t, model.SeverityCritical, f.Severity)
	assert.ElementsMatch(t, []string{"rules", "callgraph"}, f.Sources)
	assert.Equal(t, b.AttackPath, f.AttackPath)
	assert.Equal(t, model.ConfidenceCritical, f.Confidence)
}

func TestDedupeKeepsDistinctTypes(t *testing.T) {
	a := model.Finding{Type: "reentrancy_no_guard", File: "V.sol", Function: "w", Score: 80}
	b := model.Finding{Type: "unchecked_low_level_call", File: "V.sol", Function: "w", Score: 85}
	out := Dedupe([]model.Finding{a, b}, corroborationBoost)
	assert.Len(t, out, 2, "different finding types at one location stay separate")
}

func TestIngest(t *testing.T) {
	cfg := testConfig(t)
	emb := &scriptedEmbedder{vectors: map[string][]float32{}}
	st, err := store.Open(cfg.Store.DBPath, emb, nil, 0)
	require.NoError(t, err)
	defer st.Close()

	eng := New(cfg, st, nil, nil)
	records := []model.CorpusRecord{
		{Title: "Reentrancy in vault withdraw", Content: "The withdraw function calls out before updating balances", Severity: "High", FindersCount: 2, QualityScore: 4.5},
		{Title: "", Content: ""},
	}
	res, err := eng.Ingest(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Fallbacks, "no extractor means every record uses the keyword fallback")

	stats, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByClass["Reentrancy"])
}

func TestSearchQuery(t *testing.T) {
	fn := model.Function{
		Name:          "withdraw",
		ExternalCalls: []string{"sender.call"},
		ArchTags:      []string{"lending"},
	}
	assert.Equal(t, "withdraw sender.call lending", searchQuery(fn))
}
