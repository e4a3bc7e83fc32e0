package store

import (
	"math"
	"sort"
	"strings"

	"github.com/Asout3/audit-agent/internal/model"
)

// Index is the in-memory view of the pattern store used for similarity
// search. It is read-only between loads and safe for concurrent readers.
type Index struct {
	IDs     []string        `json:"ids"`
	Vectors [][]float32     `json:"vectors"`
	Meta    []model.Pattern `json:"meta"`
}

func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.IDs)
}

func (ix *Index) add(id string, vec []float32, meta model.Pattern) {
	ix.IDs = append(ix.IDs, id)
	ix.Vectors = append(ix.Vectors, vec)
	ix.Meta = append(ix.Meta, meta)
}

// Cosine computes cosine similarity between two vectors. Zero-norm or
// mismatched vectors score 0, never NaN.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rarityBonus rewards patterns few independent auditors found; rare
// historical bugs are higher-signal.
func rarityBonus(finders int) float64 {
	switch {
	case finders <= 2:
		return 0.15
	case finders <= 5:
		return 0.08
	default:
		return 0
	}
}

func qualityBonus(quality float64) float64 {
	return quality / 5 * 0.1
}

// Filter narrows search results. VulnClass is a hard substring filter;
// Protocol is a hint that adds a rank bonus on match.
type Filter struct {
	VulnClass string
	Protocol  string
}

// Search ranks patterns against the query vector. Results below minScore are
// dropped; the rest are ordered by rank boost, descending.
func (ix *Index) Search(query []float32, topK int, minScore float64, f Filter) []model.SearchResult {
	if ix.Len() == 0 || topK <= 0 {
		return nil
	}
	var results []model.SearchResult
	for i, vec := range ix.Vectors {
		sim := Cosine(query, vec)
		if sim < minScore {
			continue
		}
		meta := ix.Meta[i]
		if f.VulnClass != "" && !strings.Contains(strings.ToLower(meta.VulnClass), strings.ToLower(f.VulnClass)) {
			continue
		}
		boost := sim + rarityBonus(meta.FindersCount) + qualityBonus(meta.QualityScore)
		if f.Protocol != "" && strings.Contains(strings.ToLower(meta.Protocol), strings.ToLower(f.Protocol)) {
			boost += 0.12
		}
		results = append(results, model.SearchResult{Pattern: meta, Similarity: sim, RankBoost: boost})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RankBoost > results[j].RankBoost })
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// maxSimilarity returns the highest similarity of vec against the index,
// excluding the row with skipID. Used by insert-time dedup.
func (ix *Index) maxSimilarity(vec []float32, skipID string) float64 {
	best := 0.0
	for i, v := range ix.Vectors {
		if ix.IDs[i] == skipID {
			continue
		}
		if sim := Cosine(vec, v); sim > best {
			best = sim
		}
	}
	return best
}
