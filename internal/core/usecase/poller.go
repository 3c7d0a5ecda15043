package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/complyte/tradeconfirm/internal/core/domain"
	"github.com/complyte/tradeconfirm/internal/core/ports"
)

// PollerConfig carries the intake loop tunables. Zero values fall back to
// workable defaults at construction.
type PollerConfig struct {
	PollInterval        time.Duration
	BatchSize           int
	Concurrency         int
	ProcessTimeout      time.Duration
	OrphanTimeout       time.Duration
	OrphanSweepInterval time.Duration
	MaxDocumentRetries  int
}

func (c PollerConfig) normalized() PollerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 5 * time.Minute
	}
	if c.OrphanTimeout <= 0 {
		c.OrphanTimeout = 15 * time.Minute
	}
	if c.OrphanSweepInterval <= 0 {
		c.OrphanSweepInterval = time.Minute
	}
	if c.MaxDocumentRetries <= 0 {
		c.MaxDocumentRetries = 3
	}
	return c
}

// IntakePoller drives the document state machine: it discovers unclaimed
// blobs, wins or loses the claim race, and hands claimed documents to the
// pipeline under a bounded worker pool. A second timer loop sweeps claims
// whose worker died, returning them to pending or retiring poison documents.
type IntakePoller struct {
	blobs     ports.BlobStore
	docs      ports.DocumentStore
	processor ports.DocumentProcessor
	metrics   IntakeMetrics
	logger    *slog.Logger
	cfg       PollerConfig
	now       func() time.Time

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainCh    chan context.Context // carries the drain context for the final poll
}

func NewIntakePoller(
	blobs ports.BlobStore,
	docs ports.DocumentStore,
	processor ports.DocumentProcessor,
	metrics IntakeMetrics,
	logger *slog.Logger,
	cfg PollerConfig,
) *IntakePoller {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &IntakePoller{
		blobs:     blobs,
		docs:      docs,
		processor: processor,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg.normalized(),
		now:       time.Now,
		done:      make(chan struct{}),
		drainCh:   make(chan context.Context, 1),
	}
}

// Start launches the poll and sweep loops. Safe to call only once; subsequent
// calls are no-ops and log a warning.
func (p *IntakePoller) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		p.logger.Warn("intake_poller_start_ignored")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancelLoop = cancel

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.pollLoop(loopCtx)
	}()
	go func() {
		defer wg.Done()
		p.sweepLoop(loopCtx)
	}()
	go func() {
		wg.Wait()
		p.once.Do(func() { close(p.done) })
	}()
}

// Drain stops both loops, runs one final poll under the caller's deadline so
// work that arrived since the last tick is not stranded, and blocks until the
// loops exit or the context expires.
func (p *IntakePoller) Drain(ctx context.Context) {
	// The drain context must be in flight before the loops are canceled so
	// pollLoop can pick it up on ctx.Done.
	select {
	case p.drainCh <- ctx:
	default:
	}
	if p.cancelLoop != nil {
		p.cancelLoop()
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		p.logger.Warn("intake_poller_drain_timed_out")
	}
}

func (p *IntakePoller) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			var drainCtx context.Context
			select {
			case drainCtx = <-p.drainCh:
			default:
			}
			if drainCtx != nil && drainCtx.Err() == nil {
				p.pollOnce(drainCtx)
			}
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *IntakePoller) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.OrphanSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepOnce(ctx)
		}
	}
}

// pollOnce claims up to one batch and runs each claimed document through the
// pipeline. It returns after every in-flight document finished, so a drain
// never abandons work it started within the deadline.
func (p *IntakePoller) pollOnce(ctx context.Context) {
	items, err := p.blobs.ListPending(ctx, p.cfg.BatchSize)
	if err != nil {
		p.logger.Error("list_pending_failed", "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Concurrency)
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		doc, ok := p.claimItem(ctx, item)
		if !ok {
			continue
		}
		g.Go(func() error {
			p.processOne(ctx, doc, item)
			return nil
		})
	}
	_ = g.Wait()
}

// claimItem registers the blob and tries to win it. Losing either leg of the
// claim is ingestion noise, not a fault: someone else owns the document.
func (p *IntakePoller) claimItem(ctx context.Context, item domain.BlobItem) (domain.Document, bool) {
	doc, _, err := p.docs.Register(ctx, domain.Document{
		ID:            uuid.NewString(),
		StorageName:   item.Name,
		Generation:    item.Generation,
		OriginAddress: item.OriginAddress,
		ReceivedAt:    item.ReceivedAt,
	})
	if err != nil {
		p.logger.Error("register_document_failed", "name", item.Name, "error", err)
		return domain.Document{}, false
	}
	if doc.Status != domain.StatusPending {
		return domain.Document{}, false
	}

	if err := p.blobs.Claim(ctx, item); err != nil {
		if domain.IsKind(err, domain.ErrAlreadyClaimed) {
			p.metrics.ClaimLost()
			return domain.Document{}, false
		}
		p.logger.Error("claim_blob_failed", "name", item.Name, "error", err)
		return domain.Document{}, false
	}

	ok, err := p.docs.MarkClaimed(ctx, doc.ID)
	if err != nil || !ok {
		// Won the blob but lost the row: hand the file back before walking
		// away.
		if relErr := p.blobs.Release(ctx, item); relErr != nil {
			p.logger.Error("release_after_lost_claim_failed", "name", item.Name, "error", relErr)
		}
		if err != nil {
			p.logger.Error("mark_claimed_failed", "document_id", doc.ID, "error", err)
		} else {
			p.metrics.ClaimLost()
		}
		return domain.Document{}, false
	}

	p.metrics.ClaimWon()
	p.metrics.ObserveIntakeLag(p.now().Sub(item.ReceivedAt).Seconds())
	return doc, true
}

func (p *IntakePoller) processOne(ctx context.Context, doc domain.Document, item domain.BlobItem) {
	procCtx, cancel := context.WithTimeout(ctx, p.cfg.ProcessTimeout)
	defer cancel()

	if _, err := p.processor.Process(procCtx, doc, item); err != nil {
		// The claim stays where it is; the sweep retries or retires it.
		p.logger.Error("document_processing_failed",
			"document_id", doc.ID,
			"name", item.Name,
			"error", err,
		)
	}
}

// sweepOnce recovers claims older than the orphan cutoff: poison documents
// are retired to quarantine, the rest go back to pending for another attempt.
func (p *IntakePoller) sweepOnce(ctx context.Context) {
	cutoff := p.now().UTC().Add(-p.cfg.OrphanTimeout)
	orphans, err := p.docs.ListOrphans(ctx, cutoff, p.cfg.BatchSize)
	if err != nil {
		p.logger.Error("orphan_sweep_failed", "error", err)
		return
	}
	for _, doc := range orphans {
		if ctx.Err() != nil {
			return
		}
		p.recoverOrphan(ctx, doc)
	}
}

func (p *IntakePoller) recoverOrphan(ctx context.Context, doc domain.Document) {
	item := doc.BlobRef()

	if doc.RetryCount >= p.cfg.MaxDocumentRetries {
		reason := fmt.Sprintf("abandoned claim: retry limit %d reached", p.cfg.MaxDocumentRetries)
		ok, err := p.docs.FailOrphan(ctx, doc.ID, reason)
		if err != nil {
			p.logger.Error("orphan_retire_failed", "document_id", doc.ID, "error", err)
			return
		}
		if !ok {
			return
		}
		if err := p.blobs.Quarantine(ctx, item, reason); err != nil {
			p.logger.Error("orphan_quarantine_failed", "name", item.Name, "error", err)
		}
		p.metrics.OrphanQuarantined()
		p.logger.Warn("orphan_retired",
			"document_id", doc.ID,
			"name", item.Name,
			"retry_count", doc.RetryCount,
		)
		return
	}

	if err := p.blobs.Release(ctx, item); err != nil {
		// The claimed copy cannot go home, usually because a fresh upload
		// took its name. Quarantine it so nothing is silently lost.
		p.logger.Error("orphan_release_failed", "document_id", doc.ID, "name", item.Name, "error", err)
		ok, failErr := p.docs.FailOrphan(ctx, doc.ID, "blob release failed: "+err.Error())
		if failErr != nil {
			p.logger.Error("orphan_retire_failed", "document_id", doc.ID, "error", failErr)
			return
		}
		if ok {
			if qErr := p.blobs.Quarantine(ctx, item, "orphaned claim could not be released"); qErr != nil {
				p.logger.Error("orphan_quarantine_failed", "name", item.Name, "error", qErr)
			}
			p.metrics.OrphanQuarantined()
		}
		return
	}

	ok, err := p.docs.ResetToPending(ctx, doc.ID, "claim expired")
	if err != nil {
		p.logger.Error("orphan_reset_failed", "document_id", doc.ID, "error", err)
		return
	}
	if ok {
		p.metrics.OrphanRecovered()
		p.logger.Info("orphan_recovered",
			"document_id", doc.ID,
			"name", item.Name,
			"retry_count", doc.RetryCount+1,
		)
	}
}
