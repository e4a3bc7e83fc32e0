package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Asout3/audit-agent/internal/config"
	"github.com/Asout3/audit-agent/internal/model"
)

// Client pulls historical finding records from the remote corpus. Fetches
// are rate limited and checkpointed so an interrupted run resumes instead
// of refetching.
type Client struct {
	http           *http.Client
	baseURL        string
	apiKey         string
	delay          time.Duration
	batchSize      int
	maxDuplicates  int
	checkpointPath string
	lastRequest    time.Time
}

func New(cfg config.CorpusConfig, checkpointPath string) *Client {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Client{
		http:           &http.Client{Timeout: 30 * time.Second},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		delay:          time.Duration(cfg.RateLimitDelay * float64(time.Second)),
		batchSize:      batch,
		maxDuplicates:  cfg.MaxDuplicates,
		checkpointPath: checkpointPath,
	}
}

// saveEvery bounds how many accepted records can be lost to a crash
// between checkpoint writes.
const saveEvery = 50

type checkpoint struct {
	Findings []model.CorpusRecord `json:"findings"`
	Offset   int                  `json:"offset"`
	Complete bool                 `json:"complete"`
}

func (c *Client) loadCheckpoint() checkpoint {
	var cp checkpoint
	b, err := os.ReadFile(c.checkpointPath)
	if err != nil {
		return cp
	}
	if err := json.Unmarshal(b, &cp); err != nil {
		return checkpoint{}
	}
	return cp
}

func (c *Client) saveCheckpoint(cp checkpoint) {
	b, err := json.Marshal(cp)
	if err != nil {
		return
	}
	if err := os.WriteFile(c.checkpointPath, b, 0o644); err != nil {
		log.Printf("fetch: checkpoint write failed: %v", err)
	}
}

// Validate probes the API before a long fetch.
func (c *Client) Validate(ctx context.Context) error {
	c.respectRateLimit(ctx)
	req, err := c.newRequest(ctx, url.Values{"limit": {"1"}})
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("corpus unreachable: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return fmt.Errorf("corpus API key rejected")
	default:
		return fmt.Errorf("corpus API error: %s", resp.Status)
	}
}

// FetchFindings pages through the corpus until limit records pass the
// duplicate filter. Network errors checkpoint and retry; a completed fetch
// is served from the checkpoint.
func (c *Client) FetchFindings(ctx context.Context, severity []string, protocol string, limit int) ([]model.CorpusRecord, error) {
	cp := c.loadCheckpoint()
	if cp.Complete && len(cp.Findings) >= limit {
		log.Printf("fetch: using %d checkpointed findings", len(cp.Findings))
		return cp.Findings[:limit], nil
	}
	findings := cp.Findings
	offset := cp.Offset
	lastSave := len(findings)
	if len(findings) > 0 {
		log.Printf("fetch: resuming from checkpoint with %d findings", len(findings))
	}

	for len(findings) < limit {
		if err := ctx.Err(); err != nil {
			c.saveCheckpoint(checkpoint{Findings: findings, Offset: offset})
			return findings, err
		}
		c.respectRateLimit(ctx)

		params := url.Values{
			"limit":  {fmt.Sprint(min(c.batchSize, limit-len(findings)))},
			"offset": {fmt.Sprint(offset)},
		}
		if len(severity) > 0 {
			params.Set("severity", strings.Join(severity, ","))
		}
		if protocol != "" {
			params.Set("protocol_type", protocol)
		}

		batch, err := c.fetchPage(ctx, params)
		if err != nil {
			log.Printf("fetch: %v, checkpointing and backing off", err)
			c.saveCheckpoint(checkpoint{Findings: findings, Offset: offset})
			if !sleepCtx(ctx, 10*time.Second) {
				return findings, ctx.Err()
			}
			continue
		}
		if len(batch) == 0 {
			break
		}
		for _, rec := range batch {
			if c.maxDuplicates > 0 && rec.FindersCount > c.maxDuplicates {
				continue
			}
			findings = append(findings, rec)
			if len(findings) >= limit {
				break
			}
		}
		offset += len(batch)
		if len(findings)-lastSave >= saveEvery {
			c.saveCheckpoint(checkpoint{Findings: findings, Offset: offset})
			lastSave = len(findings)
		}
	}

	c.saveCheckpoint(checkpoint{Findings: findings, Offset: offset, Complete: true})
	return findings, nil
}

func (c *Client) fetchPage(ctx context.Context, params url.Values) ([]model.CorpusRecord, error) {
	req, err := c.newRequest(ctx, params)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("page request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		sleepCtx(ctx, time.Minute)
		return nil, fmt.Errorf("rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page request: %s", resp.Status)
	}
	var body struct {
		Data []model.CorpusRecord `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return body.Data, nil
}

func (c *Client) newRequest(ctx context.Context, params url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/findings?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) respectRateLimit(ctx context.Context) {
	if elapsed := time.Since(c.lastRequest); elapsed < c.delay {
		sleepCtx(ctx, c.delay-elapsed)
	}
	c.lastRequest = time.Now()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
