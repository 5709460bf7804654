// Package report sends anonymised unmatched-rule reports to the blocklist
// maintainers. Reports are queued and delivered by background workers so
// the patch pipeline never blocks on the network.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"

	"adgobye.dev/internal/blocklist"
	"adgobye.dev/internal/content"
	"adgobye.dev/internal/metrics"
)

const keyContext = "adgobye.dev 2024 unmatched report v1"

// Payload is the wire body. Identifiers are keyed hashes, never raw ids.
type Payload struct {
	Version          uint32   `json:"version"`
	WorldID          []byte   `json:"world_id"`
	UnmatchedObjects [][]byte `json:"unmatched_objects"`
}

type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	EnqueuedTotal       uint64
	QueueSaturatedTotal uint64
	DroppedTotal        uint64
	SentTotal           uint64
	FailTotal           uint64
	LastSuccessUnix     int64
	LastErrorUnix       int64
}

type Config struct {
	URL           string
	Salt          string
	Workers       int
	QueueCapacity int
	EnqueueWait   time.Duration
	Client        *http.Client
	UserAgent     string
}

type job struct {
	payload Payload
	world   string
}

// Reporter delivers payloads with bounded retries. A nil *Reporter accepts
// and discards everything.
type Reporter struct {
	url       string
	key       [32]byte
	client    *http.Client
	userAgent string
	log       *slog.Logger
	metrics   *metrics.Metrics

	jobs        chan job
	enqueueWait time.Duration
	wg          sync.WaitGroup
	closeOnce   sync.Once

	backoff func(attempt int) time.Duration

	enqueuedTotal       atomic.Uint64
	queueSaturatedTotal atomic.Uint64
	droppedTotal        atomic.Uint64
	sentTotal           atomic.Uint64
	failTotal           atomic.Uint64
	lastSuccessUnix     atomic.Int64
	lastErrorUnix       atomic.Int64
}

func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Reporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = 25 * time.Millisecond
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = blocklist.DefaultUserAgent
	}
	r := &Reporter{
		url:         cfg.URL,
		client:      cfg.Client,
		userAgent:   cfg.UserAgent,
		log:         logger.With("component", "report"),
		metrics:     m,
		jobs:        make(chan job, cfg.QueueCapacity),
		enqueueWait: cfg.EnqueueWait,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * 200 * time.Millisecond
		},
	}
	blake3.DeriveKey(keyContext, []byte(cfg.Salt), r.key[:])
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for j := range r.jobs {
				r.sendOne(j)
			}
		}()
	}
	return r
}

// Build hashes c's id and every rule's canonical encoding under the
// configured salt.
func (r *Reporter) Build(c *content.Content, unmatched []blocklist.ObjectRule) Payload {
	p := Payload{
		Version:          c.VersionMeta.Version,
		WorldID:          r.hash([]byte(c.ID)),
		UnmatchedObjects: make([][]byte, 0, len(unmatched)),
	}
	for _, rule := range unmatched {
		p.UnmatchedObjects = append(p.UnmatchedObjects, r.hash([]byte(rule.Key())))
	}
	return p
}

func (r *Reporter) hash(b []byte) []byte {
	h, err := blake3.NewKeyed(r.key[:])
	if err != nil {
		panic("report: keyed hash init: " + err.Error())
	}
	_, _ = h.Write(b)
	return h.Sum(nil)
}

// Report queues a report for c. It never blocks longer than the enqueue
// wait; reports that do not fit are dropped.
func (r *Reporter) Report(c *content.Content, unmatched []blocklist.ObjectRule) {
	if r == nil || r.url == "" || len(unmatched) == 0 {
		return
	}
	j := job{payload: r.Build(c, unmatched), world: c.ID}
	r.enqueuedTotal.Add(1)

	select {
	case r.jobs <- j:
		return
	default:
	}

	r.queueSaturatedTotal.Add(1)
	timer := time.NewTimer(r.enqueueWait)
	defer timer.Stop()
	select {
	case r.jobs <- j:
	case <-timer.C:
		dropped := r.droppedTotal.Add(1)
		r.metrics.ReportResult("dropped")
		r.log.Warn("report dropped", "reason", "queue_saturated", "dropped_total", dropped)
	}
}

// Close drains the queue and waits for in-flight deliveries.
func (r *Reporter) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() { close(r.jobs) })
	r.wg.Wait()
}

func (r *Reporter) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(r.jobs),
		QueueCapacity:       cap(r.jobs),
		EnqueuedTotal:       r.enqueuedTotal.Load(),
		QueueSaturatedTotal: r.queueSaturatedTotal.Load(),
		DroppedTotal:        r.droppedTotal.Load(),
		SentTotal:           r.sentTotal.Load(),
		FailTotal:           r.failTotal.Load(),
		LastSuccessUnix:     r.lastSuccessUnix.Load(),
		LastErrorUnix:       r.lastErrorUnix.Load(),
	}
}

func (r *Reporter) sendOne(j job) {
	if err := r.sendWithRetry(j.payload); err != nil {
		r.failTotal.Add(1)
		r.lastErrorUnix.Store(time.Now().UTC().Unix())
		r.metrics.ReportResult("failed")
		r.log.Warn("unmatched report failed", "world", j.world, "err", err)
		return
	}
	r.sentTotal.Add(1)
	r.lastSuccessUnix.Store(time.Now().UTC().Unix())
	r.metrics.ReportResult("sent")
	r.log.Debug("unmatched report sent", "world", j.world, "objects", len(j.payload.UnmatchedObjects))
}

func (r *Reporter) sendWithRetry(p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := r.post(ctx, body)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(r.backoff(attempt))
		}
	}
	return lastErr
}

func (r *Reporter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
