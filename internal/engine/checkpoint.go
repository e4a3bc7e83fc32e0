package engine

import (
	"encoding/json"
	"log"
	"os"

	"github.com/Asout3/audit-agent/internal/model"
)

// Checkpoint records the semantic pass's committed progress. Findings
// already produced stay valid on resume; processing continues with the
// remaining functions.
type Checkpoint struct {
	RunID     string          `json:"runId"`
	Target    string          `json:"target"`
	Processed map[string]bool `json:"processed"`
	Findings  []model.Finding `json:"findings"`
}

func loadCheckpoint(path, target string) *Checkpoint {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil || cp.Target != target {
		return nil
	}
	if cp.Processed == nil {
		cp.Processed = map[string]bool{}
	}
	return &cp
}

func saveCheckpoint(path string, cp *Checkpoint) {
	b, err := json.Marshal(cp)
	if err != nil {
		return
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		log.Printf("engine: checkpoint write failed: %v", err)
	}
}

func clearCheckpoint(path string) {
	_ = os.Remove(path)
}
