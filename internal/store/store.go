package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Asout3/audit-agent/internal/embed"
	"github.com/Asout3/audit-agent/internal/model"
	"github.com/Asout3/audit-agent/internal/util"
)

const snapshotName = "embedding_index"

// BlobCache persists the embedding index snapshot. A snapshot is a
// point-in-time copy with no automatic invalidation; callers decide when to
// refresh via Reload.
type BlobCache interface {
	SaveBlob(name string, v any) error
	LoadBlob(name string, out any) bool
}

// Store is the persistent, embedding-indexed pattern repository. Single
// writer; the in-memory index is read-only between loads.
type Store struct {
	mu       sync.RWMutex
	conn     *sqlite.Conn
	embedder embed.Client
	snap     BlobCache
	dedup    float64
	idx      *Index
}

func Open(path string, embedder embed.Client, snap BlobCache, dedupThreshold float64) (*Store, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenCreate, sqlite.OpenReadWrite, sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("open pattern store: %w", err)
	}
	s := &Store{conn: conn, embedder: embedder, snap: snap, dedup: dedupThreshold}
	if err := s.initSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if err := sqlitex.ExecuteTransient(s.conn, "PRAGMA synchronous = NORMAL", nil); err != nil {
		return err
	}
	if err := sqlitex.ExecuteTransient(s.conn, `CREATE TABLE IF NOT EXISTS patterns (
		id TEXT PRIMARY KEY,
		vuln_class TEXT,
		invariant TEXT,
		break_condition TEXT,
		preconditions TEXT,
		code_indicators TEXT,
		embedding BLOB,
		severity TEXT,
		quality_score REAL,
		finders_count INTEGER,
		protocol TEXT,
		raw_title TEXT,
		source_link TEXT
	)`, nil); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return sqlitex.ExecuteTransient(s.conn, "CREATE INDEX IF NOT EXISTS idx_class ON patterns(vuln_class)", nil)
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// Insert encodes and persists a pattern. It returns false without error when
// the pattern duplicates an existing one, either by exact invariant text
// (content-hash id collision) or by embedding similarity at or above the
// dedup threshold.
func (s *Store) Insert(ctx context.Context, p model.Pattern) (bool, error) {
	p.ID = util.ContentHash(p.Invariant, p.BreakCondition)

	vec, err := s.embedder.Embed(ctx, p.EmbedText())
	if err != nil {
		return false, fmt.Errorf("encode pattern: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureIndexLocked(); err != nil {
		return false, err
	}
	for _, id := range s.idx.IDs {
		if id == p.ID {
			return false, nil
		}
	}
	if s.dedup > 0 && s.idx.maxSimilarity(vec, p.ID) >= s.dedup {
		return false, nil
	}

	pre, _ := json.Marshal(p.Preconditions)
	ind, _ := json.Marshal(p.CodeIndicators)
	err = sqlitex.Execute(s.conn, `INSERT OR REPLACE INTO patterns
		(id, vuln_class, invariant, break_condition, preconditions, code_indicators,
		 embedding, severity, quality_score, finders_count, protocol, raw_title, source_link)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			p.ID, p.VulnClass, p.Invariant, p.BreakCondition, string(pre), string(ind),
			encodeVector(vec), string(p.Severity), p.QualityScore, p.FindersCount,
			p.Protocol, p.SourceTitle, p.SourceLink,
		},
	})
	if err != nil {
		return false, fmt.Errorf("persist pattern: %w", err)
	}
	s.idx.add(p.ID, vec, p)
	return true, nil
}

// Search encodes the query and ranks all stored patterns against it.
// An empty store yields an empty result, not an error.
func (s *Store) Search(ctx context.Context, query string, topK int, minScore float64, f Filter) ([]model.SearchResult, error) {
	s.mu.Lock()
	if err := s.ensureIndexLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	idx := s.idx
	s.mu.Unlock()

	if idx.Len() == 0 {
		return nil, nil
	}
	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	return idx.Search(qv, topK, minScore, f), nil
}

// Reload rebuilds the in-memory index from the persisted rows and refreshes
// the snapshot. An empty store loads as an empty index.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked()
}

func (s *Store) reloadLocked() error {
	idx := &Index{}
	err := sqlitex.Execute(s.conn, `SELECT id, vuln_class, invariant, break_condition,
		preconditions, code_indicators, embedding, severity, quality_score,
		finders_count, protocol, raw_title, source_link FROM patterns`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			p := model.Pattern{
				ID:             stmt.ColumnText(0),
				VulnClass:      stmt.ColumnText(1),
				Invariant:      stmt.ColumnText(2),
				BreakCondition: stmt.ColumnText(3),
				Severity:       model.Severity(stmt.ColumnText(7)),
				QualityScore:   stmt.ColumnFloat(8),
				FindersCount:   int(stmt.ColumnInt64(9)),
				Protocol:       stmt.ColumnText(10),
				SourceTitle:    stmt.ColumnText(11),
				SourceLink:     stmt.ColumnText(12),
			}
			_ = json.Unmarshal([]byte(stmt.ColumnText(4)), &p.Preconditions)
			_ = json.Unmarshal([]byte(stmt.ColumnText(5)), &p.CodeIndicators)
			buf := make([]byte, stmt.ColumnLen(6))
			stmt.ColumnBytes(6, buf)
			vec := decodeVector(buf)
			if len(vec) == 0 {
				return nil
			}
			idx.add(p.ID, vec, p)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("reload index: %w", err)
	}
	s.idx = idx
	if s.snap != nil {
		if err := s.snap.SaveBlob(snapshotName, idx); err != nil {
			log.Printf("store: snapshot save failed: %v", err)
		}
	}
	return nil
}

// ensureIndexLocked lazily builds the index, preferring the snapshot over a
// full sqlite scan.
func (s *Store) ensureIndexLocked() error {
	if s.idx != nil {
		return nil
	}
	if s.snap != nil {
		var idx Index
		if s.snap.LoadBlob(snapshotName, &idx) && len(idx.IDs) == len(idx.Vectors) && len(idx.IDs) == len(idx.Meta) {
			s.idx = &idx
			return nil
		}
	}
	return s.reloadLocked()
}

type Stats struct {
	Total      int            `json:"total"`
	AvgFinders float64        `json:"avgFinders"`
	AvgQuality float64        `json:"avgQuality"`
	ByClass    map[string]int `json:"byClass"`
}

func (s *Store) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{ByClass: map[string]int{}}
	var sumFinders int64
	var sumQuality float64
	err := sqlitex.Execute(s.conn,
		"SELECT vuln_class, COUNT(*), SUM(finders_count), SUM(quality_score) FROM patterns GROUP BY vuln_class",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n := int(stmt.ColumnInt64(1))
				st.ByClass[stmt.ColumnText(0)] = n
				st.Total += n
				sumFinders += stmt.ColumnInt64(2)
				sumQuality += stmt.ColumnFloat(3)
				return nil
			},
		})
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	if st.Total > 0 {
		st.AvgFinders = float64(sumFinders) / float64(st.Total)
		st.AvgQuality = sumQuality / float64(st.Total)
	}
	return st, nil
}

// Embedding vectors persist as little-endian float32 bytes.

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
