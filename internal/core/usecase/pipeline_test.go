package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/complyte/tradeconfirm/internal/core/domain"
)

type pipelineFixture struct {
	blobs    *blobStoreFake
	docs     *documentStoreFake
	requests *requestStoreFake
	reviews  *reviewStoreFake
	pub      *publisherFake
	text     *textExtractorFake
	trades   *tradeExtractorFake
	dir      *fakeDirectory
	metrics  *metricsFake
	pipeline *DocumentPipeline
}

// newPipelineFixture wires a pipeline whose defaults run a clean in-domain
// confirmation end to end: Jane Doe's contract note, BUY 100 AAPL at 150
// against her awaiting request estimated at 15000.
func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		blobs: &blobStoreFake{data: map[string][]byte{"note.pdf": []byte("%PDF-1.7 ...")}},
		docs:  &documentStoreFake{},
		requests: &requestStoreFake{
			candidates: []domain.Candidate{
				candidate("emp-1", "req-1", "Jane", "Doe", "AAPL", domain.DirectionBuy, 100),
			},
		},
		reviews: &reviewStoreFake{},
		pub:     &publisherFake{},
		text:    &textExtractorFake{text: "CONTRACT NOTE\nBought 100 AAPL @ 150.00 for Jane Doe"},
		trades: &tradeExtractorFake{
			class: domain.DocumentClass{Type: domain.DocTypeContractNote, Confidence: 0.92},
			extraction: domain.TradeExtraction{
				Fields: domain.TradeFields{
					AccountHolder: "Jane Doe",
					SecurityIDs:   []string{"AAPL"},
					Direction:     "buy",
					Quantity:      100,
					Price:         150,
					Proceeds:      15000,
					Currency:      "USD",
				},
				Confidence: 0.94,
				Attempts:   1,
			},
		},
		dir:     &fakeDirectory{byAddress: map[string]string{"jane@complyte.io": "emp-1"}},
		metrics: &metricsFake{},
	}
	f.requests.withRequests(map[string]float64{"req-1": 15000})
	f.pipeline = NewDocumentPipeline(
		f.blobs, f.docs, f.requests, f.dir, f.text, f.trades, f.reviews, f.pub,
		f.metrics, discardLogger(),
		PipelineConfig{
			OrgDomain:      "complyte.io",
			FuzzyThreshold: 0.95,
			QuantityPct:    0.10,
			PricePct:       0.05,
			ProceedsPct:    0.05,
		},
	)
	return f
}

// claim registers the document and walks it to claimed, mirroring what the
// poller does before handing it to the pipeline.
func (f *pipelineFixture) claim(t *testing.T, origin string) (domain.Document, domain.BlobItem) {
	t.Helper()
	item := domain.BlobItem{
		Name:          "note.pdf",
		Generation:    "gen-1",
		OriginAddress: origin,
		ReceivedAt:    time.Now().Add(-time.Minute).UTC(),
	}
	doc := domain.Document{
		ID:            "doc-1",
		StorageName:   item.Name,
		Generation:    item.Generation,
		OriginAddress: item.OriginAddress,
		ReceivedAt:    item.ReceivedAt,
	}
	registered, created, err := f.docs.Register(context.Background(), doc)
	if err != nil || !created {
		t.Fatalf("register: created=%v err=%v", created, err)
	}
	if ok, err := f.docs.MarkClaimed(context.Background(), registered.ID); !ok || err != nil {
		t.Fatalf("mark claimed: ok=%v err=%v", ok, err)
	}
	return registered, item
}

func TestPipelineVerifiedViaEmail(t *testing.T) {
	f := newPipelineFixture()
	doc, item := f.claim(t, "jane@complyte.io")

	outcome, err := f.pipeline.Process(context.Background(), doc, item)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if outcome.FinalStatus != domain.FinalVerified {
		t.Fatalf("final status = %s, want verified", outcome.FinalStatus)
	}
	if outcome.Match.Method != domain.MatchByEmail || outcome.Match.RequestID != "req-1" {
		t.Fatalf("match = %+v", outcome.Match)
	}
	if !outcome.Validation.Ran || !outcome.Validation.Verified {
		t.Fatalf("validation = %+v", outcome.Validation)
	}
	if outcome.Routing.Action != domain.ActionAutoApprove {
		t.Fatalf("routing = %+v", outcome.Routing)
	}

	if got := f.docs.get("doc-1"); got.Status != domain.StatusArchived || got.FinalStatus != domain.FinalVerified {
		t.Fatalf("document = %+v", got)
	}
	if len(f.pub.outcomes) != 1 || f.pub.outcomes[0].DocumentID != "doc-1" {
		t.Fatalf("published outcomes = %+v", f.pub.outcomes)
	}
	if len(f.blobs.archived) != 1 || f.blobs.archived[0] != "note.pdf" {
		t.Fatalf("archived blobs = %v", f.blobs.archived)
	}
	if len(f.reviews.created) != 0 {
		t.Fatalf("review entries created for a verified document: %+v", f.reviews.created)
	}
	if f.metrics.started != 1 || f.metrics.finished[string(domain.FinalVerified)] != 1 {
		t.Errorf("metrics = started %d finished %v", f.metrics.started, f.metrics.finished)
	}
	if len(f.metrics.attempts) != 1 || f.metrics.attempts[0] != 1 {
		t.Errorf("extraction attempts = %v", f.metrics.attempts)
	}
}

func TestPipelineDisambiguatesTwoSmiths(t *testing.T) {
	f := newPipelineFixture()
	f.requests.candidates = []domain.Candidate{
		candidate("emp-1", "req-1", "Bob", "Smith", "AAPL", domain.DirectionBuy, 100),
		candidate("emp-2", "req-2", "Bill", "Smith", "TSLA", domain.DirectionSell, 50),
	}
	f.requests.withRequests(map[string]float64{"req-1": 15000, "req-2": 10000})
	f.trades.extraction.Fields = domain.TradeFields{
		AccountHolder: "Mr B Smith",
		SecurityIDs:   []string{"TSLA"},
		Direction:     "sell",
		Quantity:      50,
		Price:         200,
		Proceeds:      10000,
		Currency:      "USD",
	}
	doc, item := f.claim(t, "confirms@brokerage.example")

	outcome, err := f.pipeline.Process(context.Background(), doc, item)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.Match.Method != domain.MatchDisambiguated || outcome.Match.EmployeeID != "emp-2" {
		t.Fatalf("match = %+v", outcome.Match)
	}
	if outcome.FinalStatus != domain.FinalVerified {
		t.Fatalf("final status = %s, want verified", outcome.FinalStatus)
	}
}

func TestPipelineExtractionFailureQuarantines(t *testing.T) {
	f := newPipelineFixture()
	f.trades.classifyErr = domain.WrapError(domain.ErrSchemaValidation, "classify document",
		errors.New("3 attempts produced invalid payloads"))
	doc, item := f.claim(t, "jane@complyte.io")

	outcome, err := f.pipeline.Process(context.Background(), doc, item)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.FinalStatus != domain.FinalManualReviewRequired {
		t.Fatalf("final status = %s", outcome.FinalStatus)
	}
	if !outcome.Extraction.Failed {
		t.Fatal("extraction not marked failed")
	}

	if got := f.docs.get("doc-1"); got.Status != domain.StatusFailed || got.RetryCount != 1 {
		t.Fatalf("document = status %s retries %d, want failed with retry counted", got.Status, got.RetryCount)
	}
	if len(f.reviews.created) != 1 {
		t.Fatalf("review entries = %d, want 1", len(f.reviews.created))
	}
	if reason := f.reviews.created[0].Reason; !strings.Contains(reason, "extraction failed") {
		t.Errorf("review reason = %q", reason)
	}
	if _, ok := f.blobs.quarantined["note.pdf"]; !ok {
		t.Fatalf("blob not quarantined: %v", f.blobs.quarantined)
	}
	if len(f.blobs.archived) != 0 {
		t.Errorf("failed document archived: %v", f.blobs.archived)
	}
	if len(f.pub.outcomes) != 1 {
		t.Errorf("outcomes published = %d, want 1", len(f.pub.outcomes))
	}
}

func TestPipelineTemporaryFaultLeavesClaimForRecovery(t *testing.T) {
	f := newPipelineFixture()
	f.trades.extractErr = domain.WrapError(domain.ErrTemporary, "generate",
		errors.New("connection refused"))
	doc, item := f.claim(t, "jane@complyte.io")

	_, err := f.pipeline.Process(context.Background(), doc, item)
	if err == nil {
		t.Fatal("Process swallowed a temporary fault")
	}

	got := f.docs.get("doc-1")
	if got.Status != domain.StatusProcessing {
		t.Fatalf("document status = %s, want processing left for the sweep", got.Status)
	}
	if len(f.pub.outcomes) != 0 {
		t.Errorf("outcome published for unfinished document")
	}
	if len(f.blobs.archived) != 0 || len(f.blobs.quarantined) != 0 || len(f.blobs.released) != 0 {
		t.Errorf("blob moved on a temporary fault: %+v %+v %+v", f.blobs.archived, f.blobs.quarantined, f.blobs.released)
	}
}

func TestPipelineCanceledContextIsNotTerminal(t *testing.T) {
	f := newPipelineFixture()
	ctx, cancel := context.WithCancel(context.Background())
	f.trades.classifyErr = context.Canceled
	doc, item := f.claim(t, "jane@complyte.io")
	cancel()

	_, err := f.pipeline.Process(ctx, doc, item)
	if err == nil {
		t.Fatal("Process treated cancellation as terminal")
	}
	if got := f.docs.get("doc-1"); got.Status == domain.StatusFailed {
		t.Fatalf("cancellation retired the document: %+v", got)
	}
}

func TestPipelineNoMatchArchivesAndQueuesReview(t *testing.T) {
	f := newPipelineFixture()
	f.trades.extraction.Fields.AccountHolder = "Total Stranger"
	doc, item := f.claim(t, "confirms@brokerage.example")

	outcome, err := f.pipeline.Process(context.Background(), doc, item)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.FinalStatus != domain.FinalManualReviewRequired {
		t.Fatalf("final status = %s", outcome.FinalStatus)
	}
	if outcome.Match.Resolved() {
		t.Fatalf("stranger matched: %+v", outcome.Match)
	}

	// Matching ambiguity is a completed pipeline: the blob is archived, not
	// quarantined, and the document row is archived.
	if got := f.docs.get("doc-1"); got.Status != domain.StatusArchived {
		t.Fatalf("document status = %s, want archived", got.Status)
	}
	if len(f.blobs.archived) != 1 || len(f.blobs.quarantined) != 0 {
		t.Fatalf("blob disposition wrong: archived=%v quarantined=%v", f.blobs.archived, f.blobs.quarantined)
	}
	if len(f.reviews.created) != 1 {
		t.Fatalf("review entries = %d, want 1", len(f.reviews.created))
	}
	entry := f.reviews.created[0]
	if !strings.Contains(entry.Reason, "matched no awaiting-confirmation request") {
		t.Errorf("review reason = %q", entry.Reason)
	}
	if len(entry.Candidates) != 1 {
		t.Errorf("candidate snapshot = %+v", entry.Candidates)
	}
	if f.metrics.reviewQueued != 1 {
		t.Errorf("reviewQueued = %d", f.metrics.reviewQueued)
	}

	var queued int
	for _, ev := range f.pub.reviewEvents {
		if ev.Action == domain.ReviewActionQueued && ev.DocumentID == "doc-1" {
			queued++
		}
	}
	if queued != 1 {
		t.Errorf("queued review events = %d, want 1", queued)
	}
}

func TestPipelineStaleRequestDemotesMatch(t *testing.T) {
	f := newPipelineFixture()
	req := f.requests.requests["req-1"]
	req.Status = "confirmed"
	f.requests.requests["req-1"] = req
	doc, _ := f.claim(t, "jane@complyte.io")

	outcome, err := f.pipeline.Process(context.Background(), doc, f.docs.get("doc-1").BlobRef())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.Match.Resolved() {
		t.Fatalf("stale request stayed matched: %+v", outcome.Match)
	}
	if outcome.Validation.Ran {
		t.Fatal("validated against a stale request")
	}
	if outcome.FinalStatus != domain.FinalManualReviewRequired {
		t.Fatalf("final status = %s", outcome.FinalStatus)
	}
	if len(f.reviews.created) != 1 || !strings.Contains(f.reviews.created[0].Reason, "no longer awaiting confirmation") {
		t.Fatalf("review entries = %+v", f.reviews.created)
	}
}

func TestPipelineValidationFailure(t *testing.T) {
	f := newPipelineFixture()
	f.trades.extraction.Fields.Quantity = 99
	f.trades.extraction.Fields.Proceeds = 14850
	doc, item := f.claim(t, "jane@complyte.io")

	outcome, err := f.pipeline.Process(context.Background(), doc, item)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.FinalStatus != domain.FinalValidationFailed {
		t.Fatalf("final status = %s, want validation_failed", outcome.FinalStatus)
	}
	if outcome.Validation.Verified || len(outcome.Validation.Issues) == 0 {
		t.Fatalf("validation = %+v", outcome.Validation)
	}
	if len(f.reviews.created) != 0 {
		t.Fatalf("validation failure opened a review entry: %+v", f.reviews.created)
	}
	if got := f.docs.get("doc-1"); got.Status != domain.StatusArchived || got.FinalStatus != domain.FinalValidationFailed {
		t.Fatalf("document = %+v", got)
	}
}

func TestPipelineMediumConfidenceVerifiesWithAudit(t *testing.T) {
	f := newPipelineFixture()
	f.trades.extraction.Confidence = 0.62
	doc, item := f.claim(t, "jane@complyte.io")

	outcome, err := f.pipeline.Process(context.Background(), doc, item)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.Routing.Action != domain.ActionAutoApproveWithAudit {
		t.Fatalf("routing = %+v", outcome.Routing)
	}
	if outcome.FinalStatus != domain.FinalVerifiedWithAudit {
		t.Fatalf("final status = %s", outcome.FinalStatus)
	}
}

func TestPipelineConfidenceIsTheWeakerPass(t *testing.T) {
	f := newPipelineFixture()
	f.trades.class.Confidence = 0.55
	f.trades.extraction.Confidence = 0.97
	doc, item := f.claim(t, "jane@complyte.io")

	outcome, err := f.pipeline.Process(context.Background(), doc, item)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome.Extraction.Confidence != 0.55 {
		t.Fatalf("confidence = %v, want the weaker pass", outcome.Extraction.Confidence)
	}
	if outcome.FinalStatus != domain.FinalVerifiedWithAudit {
		t.Fatalf("final status = %s", outcome.FinalStatus)
	}
}

func TestPipelineTradelessStatementSkipsFieldPass(t *testing.T) {
	f := newPipelineFixture()
	f.trades.class = domain.DocumentClass{
		Type:             domain.DocTypeActivityStatement,
		HasTradesSection: false,
		Confidence:       0.9,
	}
	doc, item := f.claim(t, "jane@complyte.io")

	outcome, err := f.pipeline.Process(context.Background(), doc, item)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if f.trades.extractCalls != 0 {
		t.Fatalf("field pass ran %d times on a tradeless statement", f.trades.extractCalls)
	}
	if outcome.FinalStatus != domain.FinalManualReviewRequired {
		t.Fatalf("final status = %s", outcome.FinalStatus)
	}
	if got := f.docs.get("doc-1"); got.Status != domain.StatusArchived {
		t.Fatalf("document status = %s, want archived", got.Status)
	}
}

func TestPipelineStatementUsesIsolatedSection(t *testing.T) {
	f := newPipelineFixture()
	f.trades.class = domain.DocumentClass{
		Type:             domain.DocTypeActivityStatement,
		HasTradesSection: true,
		TradesSection:    "TRADES\n2026-08-20 BUY 100 AAPL @ 150.00",
		Confidence:       0.9,
	}
	doc, item := f.claim(t, "jane@complyte.io")

	if _, err := f.pipeline.Process(context.Background(), doc, item); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if f.trades.extractText != f.trades.class.TradesSection {
		t.Fatalf("field pass saw %q, want the isolated trades section", f.trades.extractText)
	}
}

func TestPipelineDuplicateReviewEntryIsQuiet(t *testing.T) {
	f := newPipelineFixture()
	f.trades.extraction.Fields.AccountHolder = "Total Stranger"
	f.reviews.seed(domain.ReviewEntry{ID: "entry-0", DocumentID: "doc-1", Status: domain.ReviewOpen})
	doc, item := f.claim(t, "confirms@brokerage.example")

	if _, err := f.pipeline.Process(context.Background(), doc, item); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(f.reviews.created) != 0 {
		t.Fatalf("second entry created for one document: %+v", f.reviews.created)
	}
	if f.metrics.reviewQueued != 0 {
		t.Errorf("reviewQueued = %d for a duplicate", f.metrics.reviewQueued)
	}
}

func TestPipelineLostProcessingTransitionWalksAway(t *testing.T) {
	f := newPipelineFixture()
	f.docs.deny = map[string]bool{"processing": true}
	doc, item := f.claim(t, "jane@complyte.io")

	_, err := f.pipeline.Process(context.Background(), doc, item)
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if f.trades.classifyCalls != 0 {
		t.Errorf("pipeline kept working on a document it does not own")
	}
}

func TestPipelineLostTerminalTransitionSkipsPublish(t *testing.T) {
	f := newPipelineFixture()
	f.docs.deny = map[string]bool{"archived": true}
	doc, item := f.claim(t, "jane@complyte.io")

	_, err := f.pipeline.Process(context.Background(), doc, item)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(f.pub.outcomes) != 0 {
		t.Fatalf("outcome published without winning the terminal transition")
	}
	if len(f.blobs.archived) != 0 {
		t.Fatalf("blob archived without winning the terminal transition")
	}
}
