package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/complyte/tradeconfirm/internal/core/domain"
)

type processorFake struct {
	mu        sync.Mutex
	processed []string
	err       error
	signal    chan string
}

func (f *processorFake) Process(_ context.Context, doc domain.Document, _ domain.BlobItem) (domain.ProcessingOutcome, error) {
	f.mu.Lock()
	f.processed = append(f.processed, doc.ID)
	f.mu.Unlock()
	if f.signal != nil {
		f.signal <- doc.ID
	}
	if f.err != nil {
		return domain.ProcessingOutcome{}, f.err
	}
	return domain.ProcessingOutcome{DocumentID: doc.ID}, nil
}

func (f *processorFake) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.processed)
}

type pollerFixture struct {
	blobs   *blobStoreFake
	docs    *documentStoreFake
	proc    *processorFake
	metrics *metricsFake
	poller  *IntakePoller
}

func newPollerFixture(cfg PollerConfig) *pollerFixture {
	f := &pollerFixture{
		blobs:   &blobStoreFake{data: map[string][]byte{}},
		docs:    &documentStoreFake{},
		proc:    &processorFake{},
		metrics: &metricsFake{},
	}
	f.poller = NewIntakePoller(f.blobs, f.docs, f.proc, f.metrics, discardLogger(), cfg)
	return f
}

func pendingBlob(name string, receivedAt time.Time) domain.BlobItem {
	return domain.BlobItem{
		Name:          name,
		Generation:    "gen-" + name,
		Size:          256,
		OriginAddress: "jane.doe@complyte.io",
		ReceivedAt:    receivedAt,
	}
}

// seedClaimed plants a document mid-claim, as a crashed worker would leave it.
func seedClaimed(docs *documentStoreFake, id string, claimedAt time.Time, retryCount int) {
	docs.mu.Lock()
	defer docs.mu.Unlock()
	if docs.docs == nil {
		docs.docs = map[string]domain.Document{}
	}
	at := claimedAt
	docs.docs[id] = domain.Document{
		ID:          id,
		StorageName: id + ".pdf",
		Generation:  "gen-" + id,
		Status:      domain.StatusClaimed,
		ClaimedAt:   &at,
		RetryCount:  retryCount,
	}
}

func TestPollerClaimsAndProcessesBatch(t *testing.T) {
	f := newPollerFixture(PollerConfig{BatchSize: 10, Concurrency: 2})
	received := time.Now().UTC().Add(-30 * time.Second)
	f.blobs.pending = []domain.BlobItem{
		pendingBlob("a.pdf", received),
		pendingBlob("b.pdf", received),
		pendingBlob("c.pdf", received),
	}

	f.poller.pollOnce(context.Background())

	if got := f.proc.calls(); got != 3 {
		t.Fatalf("processed %d documents, want 3", got)
	}
	if f.metrics.claimWon != 3 {
		t.Fatalf("claimWon = %d, want 3", f.metrics.claimWon)
	}
	if len(f.metrics.lags) != 3 {
		t.Fatalf("recorded %d intake lags, want 3", len(f.metrics.lags))
	}
	for _, lag := range f.metrics.lags {
		if lag < 25 || lag > 60 {
			t.Fatalf("intake lag %.1fs outside expected window", lag)
		}
	}
	for _, d := range f.docs.docs {
		if d.Status != domain.StatusClaimed {
			t.Fatalf("document %s status = %s, want claimed", d.ID, d.Status)
		}
	}
}

func TestPollerHonorsBatchLimit(t *testing.T) {
	f := newPollerFixture(PollerConfig{BatchSize: 2})
	received := time.Now().UTC()
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf", "e.pdf"} {
		f.blobs.pending = append(f.blobs.pending, pendingBlob(name, received))
	}

	f.poller.pollOnce(context.Background())

	if got := f.proc.calls(); got != 2 {
		t.Fatalf("processed %d documents in one poll, want 2", got)
	}
}

func TestPollerSkipsBlobLostToClaimRace(t *testing.T) {
	f := newPollerFixture(PollerConfig{BatchSize: 10})
	item := pendingBlob("contested.pdf", time.Now().UTC())
	f.blobs.pending = []domain.BlobItem{item}
	f.blobs.claimed = map[string]bool{item.Generation: true}

	f.poller.pollOnce(context.Background())

	if got := f.proc.calls(); got != 0 {
		t.Fatalf("processed %d documents, want 0", got)
	}
	if f.metrics.claimLost != 1 {
		t.Fatalf("claimLost = %d, want 1", f.metrics.claimLost)
	}
	if f.metrics.claimWon != 0 {
		t.Fatalf("claimWon = %d, want 0", f.metrics.claimWon)
	}
}

func TestPollerSkipsDocumentsAnotherWorkerOwns(t *testing.T) {
	f := newPollerFixture(PollerConfig{BatchSize: 10})
	item := pendingBlob("owned.pdf", time.Now().UTC())
	f.blobs.pending = []domain.BlobItem{item}
	claimedAt := time.Now().UTC()
	f.docs.docs = map[string]domain.Document{
		"owned": {
			ID:          "owned",
			StorageName: item.Name,
			Generation:  item.Generation,
			Status:      domain.StatusClaimed,
			ClaimedAt:   &claimedAt,
		},
	}

	f.poller.pollOnce(context.Background())

	if got := f.proc.calls(); got != 0 {
		t.Fatalf("processed %d documents, want 0", got)
	}
	if len(f.blobs.claimed) != 0 {
		t.Fatal("blob was claimed even though the row belongs to another worker")
	}
}

func TestPollerReleasesBlobWhenRowClaimLost(t *testing.T) {
	f := newPollerFixture(PollerConfig{BatchSize: 10})
	item := pendingBlob("racy.pdf", time.Now().UTC())
	f.blobs.pending = []domain.BlobItem{item}
	f.docs.deny = map[string]bool{"claimed": true}

	f.poller.pollOnce(context.Background())

	if got := f.proc.calls(); got != 0 {
		t.Fatalf("processed %d documents, want 0", got)
	}
	if len(f.blobs.released) != 1 || f.blobs.released[0] != "racy.pdf" {
		t.Fatalf("released = %v, want the contested blob handed back", f.blobs.released)
	}
	if f.metrics.claimLost != 1 {
		t.Fatalf("claimLost = %d, want 1", f.metrics.claimLost)
	}
}

func TestSweepRecoversExpiredClaim(t *testing.T) {
	f := newPollerFixture(PollerConfig{OrphanTimeout: 15 * time.Minute, MaxDocumentRetries: 3})
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	f.poller.now = func() time.Time { return now }
	seedClaimed(f.docs, "stale", now.Add(-20*time.Minute), 1)

	f.poller.sweepOnce(context.Background())

	doc := f.docs.get("stale")
	if doc.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", doc.Status)
	}
	if doc.RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", doc.RetryCount)
	}
	if doc.LastError != "claim expired" {
		t.Fatalf("last error = %q", doc.LastError)
	}
	if len(f.blobs.released) != 1 || f.blobs.released[0] != "stale.pdf" {
		t.Fatalf("released = %v, want the orphaned blob", f.blobs.released)
	}
	if f.metrics.orphanRecovered != 1 {
		t.Fatalf("orphanRecovered = %d, want 1", f.metrics.orphanRecovered)
	}
}

func TestSweepIgnoresFreshClaims(t *testing.T) {
	f := newPollerFixture(PollerConfig{OrphanTimeout: 15 * time.Minute})
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	f.poller.now = func() time.Time { return now }
	seedClaimed(f.docs, "fresh", now.Add(-5*time.Minute), 0)

	f.poller.sweepOnce(context.Background())

	doc := f.docs.get("fresh")
	if doc.Status != domain.StatusClaimed {
		t.Fatalf("status = %s, want claimed", doc.Status)
	}
	if len(f.blobs.released) != 0 {
		t.Fatalf("released = %v, want none", f.blobs.released)
	}
	if f.metrics.orphanRecovered != 0 {
		t.Fatalf("orphanRecovered = %d, want 0", f.metrics.orphanRecovered)
	}
}

func TestSweepRetiresExhaustedDocument(t *testing.T) {
	f := newPollerFixture(PollerConfig{OrphanTimeout: 15 * time.Minute, MaxDocumentRetries: 3})
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	f.poller.now = func() time.Time { return now }
	seedClaimed(f.docs, "poison", now.Add(-time.Hour), 3)

	f.poller.sweepOnce(context.Background())

	doc := f.docs.get("poison")
	if doc.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", doc.Status)
	}
	if doc.FinalStatus != domain.FinalManualReviewRequired {
		t.Fatalf("final status = %s", doc.FinalStatus)
	}
	reason, ok := f.blobs.quarantined["poison.pdf"]
	if !ok {
		t.Fatal("blob was not quarantined")
	}
	if !strings.Contains(reason, "retry limit 3") {
		t.Fatalf("quarantine reason = %q", reason)
	}
	if len(f.blobs.released) != 0 {
		t.Fatalf("released = %v, want none", f.blobs.released)
	}
	if f.metrics.orphanQuarantined != 1 {
		t.Fatalf("orphanQuarantined = %d, want 1", f.metrics.orphanQuarantined)
	}
}

func TestSweepQuarantinesWhenReleaseRefused(t *testing.T) {
	f := newPollerFixture(PollerConfig{OrphanTimeout: 15 * time.Minute, MaxDocumentRetries: 3})
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	f.poller.now = func() time.Time { return now }
	f.blobs.releaseErr = errors.New("incoming name is taken by a newer upload")
	seedClaimed(f.docs, "stuck", now.Add(-time.Hour), 0)

	f.poller.sweepOnce(context.Background())

	doc := f.docs.get("stuck")
	if doc.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", doc.Status)
	}
	if !strings.Contains(doc.LastError, "blob release failed") {
		t.Fatalf("last error = %q", doc.LastError)
	}
	if _, ok := f.blobs.quarantined["stuck.pdf"]; !ok {
		t.Fatal("blob was not quarantined after the refused release")
	}
	if f.metrics.orphanQuarantined != 1 {
		t.Fatalf("orphanQuarantined = %d, want 1", f.metrics.orphanQuarantined)
	}
	if f.metrics.orphanRecovered != 0 {
		t.Fatalf("orphanRecovered = %d, want 0", f.metrics.orphanRecovered)
	}
}

func TestPollerLifecycle(t *testing.T) {
	f := newPollerFixture(PollerConfig{
		PollInterval:        5 * time.Millisecond,
		OrphanSweepInterval: time.Hour,
		BatchSize:           10,
	})
	f.proc.signal = make(chan string, 1)
	f.blobs.pending = []domain.BlobItem{pendingBlob("live.pdf", time.Now().UTC())}

	f.poller.Start(context.Background())
	f.poller.Start(context.Background()) // second start is a no-op

	select {
	case <-f.proc.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop never picked up the pending blob")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f.poller.Drain(drainCtx)

	select {
	case <-f.poller.done:
	default:
		t.Fatal("loops still running after drain")
	}
}

func TestDrainRunsFinalPoll(t *testing.T) {
	f := newPollerFixture(PollerConfig{
		PollInterval:        time.Hour,
		OrphanSweepInterval: time.Hour,
		BatchSize:           10,
	})
	f.blobs.pending = []domain.BlobItem{pendingBlob("late.pdf", time.Now().UTC())}

	f.poller.Start(context.Background())

	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f.poller.Drain(drainCtx)

	if got := f.proc.calls(); got != 1 {
		t.Fatalf("final drain poll processed %d documents, want 1", got)
	}
}
