package usecase

// In-memory fakes shared by the pipeline, poller and review tests. Each fake
// records the calls it served; error fields fail a dependency on cue.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/complyte/tradeconfirm/internal/core/domain"
)

type requestStoreFake struct {
	candidates []domain.Candidate
	requests   map[string]domain.TradeRequest
	listErr    error
	getErr     error
	listCalls  int
}

func (f *requestStoreFake) ListAwaitingConfirmation(context.Context) ([]domain.Candidate, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.candidates, nil
}

func (f *requestStoreFake) GetRequest(_ context.Context, id string) (*domain.TradeRequest, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	req, ok := f.requests[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrRequestNotFound, "get request", fmt.Errorf("id=%s", id))
	}
	out := req
	return &out, nil
}

// withRequests derives the request map from the candidate list so both sides
// of the fake stay coherent.
func (f *requestStoreFake) withRequests(estimatedValues map[string]float64) *requestStoreFake {
	f.requests = make(map[string]domain.TradeRequest, len(f.candidates))
	for _, c := range f.candidates {
		f.requests[c.RequestID] = domain.TradeRequest{
			ID:             c.RequestID,
			EmployeeID:     c.EmployeeID,
			Ticker:         c.Ticker,
			Direction:      c.Direction,
			Quantity:       c.Quantity,
			EstimatedValue: estimatedValues[c.RequestID],
			Status:         domain.RequestAwaitingConfirmation,
		}
	}
	return f
}

type reviewStoreFake struct {
	mu            sync.Mutex
	entries       map[string]domain.ReviewEntry
	created       []domain.ReviewEntry
	createErr     error
	lastListLimit int
}

func (f *reviewStoreFake) Create(_ context.Context, entry domain.ReviewEntry) (bool, error) {
	if f.createErr != nil {
		return false, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = map[string]domain.ReviewEntry{}
	}
	for _, e := range f.entries {
		if e.DocumentID == entry.DocumentID {
			return false, nil
		}
	}
	now := time.Now().UTC()
	entry.Status = domain.ReviewOpen
	entry.CreatedAt = now
	entry.UpdatedAt = now
	f.entries[entry.ID] = entry
	f.created = append(f.created, entry)
	return true, nil
}

func (f *reviewStoreFake) GetByID(_ context.Context, id string) (*domain.ReviewEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrEntryNotFound, "get review entry", fmt.Errorf("id=%s", id))
	}
	out := e
	return &out, nil
}

func (f *reviewStoreFake) List(_ context.Context, status domain.ReviewStatus, limit int) ([]domain.ReviewEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastListLimit = limit
	out := make([]domain.ReviewEntry, 0, len(f.entries))
	for _, e := range f.entries {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *reviewStoreFake) MarkAssigned(_ context.Context, id, employeeID, requestID, note, resolvedBy string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok || e.Status != domain.ReviewOpen {
		return false, nil
	}
	now := time.Now().UTC()
	e.Status = domain.ReviewAssigned
	e.AssignedEmployeeID = employeeID
	e.AssignedRequestID = requestID
	e.ResolutionNote = note
	e.ResolvedBy = resolvedBy
	e.ResolvedAt = &now
	e.UpdatedAt = now
	f.entries[id] = e
	return true, nil
}

func (f *reviewStoreFake) MarkRejected(_ context.Context, id, note, resolvedBy string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok || e.Status != domain.ReviewOpen {
		return false, nil
	}
	now := time.Now().UTC()
	e.Status = domain.ReviewRejected
	e.ResolutionNote = note
	e.ResolvedBy = resolvedBy
	e.ResolvedAt = &now
	e.UpdatedAt = now
	f.entries[id] = e
	return true, nil
}

func (f *reviewStoreFake) seed(entry domain.ReviewEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = map[string]domain.ReviewEntry{}
	}
	f.entries[entry.ID] = entry
}

type publisherFake struct {
	mu           sync.Mutex
	outcomes     []domain.ProcessingOutcome
	reviewEvents []domain.ReviewEvent
	outcomeErr   error
	reviewErr    error
}

func (f *publisherFake) PublishOutcome(_ context.Context, outcome domain.ProcessingOutcome) error {
	if f.outcomeErr != nil {
		return f.outcomeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

func (f *publisherFake) PublishReviewEvent(_ context.Context, event domain.ReviewEvent) error {
	if f.reviewErr != nil {
		return f.reviewErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviewEvents = append(f.reviewEvents, event)
	return nil
}

type documentStoreFake struct {
	mu          sync.Mutex
	docs        map[string]domain.Document
	registerErr error
	// deny forces the named transition to report false.
	deny map[string]bool
}

func (f *documentStoreFake) Register(_ context.Context, doc domain.Document) (domain.Document, bool, error) {
	if f.registerErr != nil {
		return domain.Document{}, false, f.registerErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs == nil {
		f.docs = map[string]domain.Document{}
	}
	for _, d := range f.docs {
		if d.Generation == doc.Generation {
			return d, false, nil
		}
	}
	doc.Status = domain.StatusPending
	doc.CreatedAt = time.Now().UTC()
	doc.UpdatedAt = doc.CreatedAt
	f.docs[doc.ID] = doc
	return doc, true, nil
}

func (f *documentStoreFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
	}
	out := d
	return &out, nil
}

func (f *documentStoreFake) transition(id string, from []domain.DocumentStatus, mutate func(*domain.Document)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return false
	}
	allowed := false
	for _, s := range from {
		if d.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	mutate(&d)
	d.UpdatedAt = time.Now().UTC()
	f.docs[id] = d
	return true
}

func (f *documentStoreFake) MarkClaimed(_ context.Context, id string) (bool, error) {
	if f.deny["claimed"] {
		return false, nil
	}
	now := time.Now().UTC()
	return f.transition(id, []domain.DocumentStatus{domain.StatusPending}, func(d *domain.Document) {
		d.Status = domain.StatusClaimed
		d.ClaimedAt = &now
	}), nil
}

func (f *documentStoreFake) MarkProcessing(_ context.Context, id string) (bool, error) {
	if f.deny["processing"] {
		return false, nil
	}
	return f.transition(id, []domain.DocumentStatus{domain.StatusClaimed}, func(d *domain.Document) {
		d.Status = domain.StatusProcessing
	}), nil
}

func (f *documentStoreFake) MarkArchived(_ context.Context, id string, outcome domain.ProcessingOutcome) (bool, error) {
	if f.deny["archived"] {
		return false, nil
	}
	return f.transition(id, []domain.DocumentStatus{domain.StatusProcessing}, func(d *domain.Document) {
		d.Status = domain.StatusArchived
		d.FinalStatus = outcome.FinalStatus
		d.Outcome = &outcome
	}), nil
}

func (f *documentStoreFake) MarkFailed(_ context.Context, id string, outcome domain.ProcessingOutcome, lastError string) (bool, error) {
	if f.deny["failed"] {
		return false, nil
	}
	return f.transition(id, []domain.DocumentStatus{domain.StatusProcessing}, func(d *domain.Document) {
		d.Status = domain.StatusFailed
		d.FinalStatus = outcome.FinalStatus
		d.Outcome = &outcome
		d.LastError = lastError
		d.RetryCount++
	}), nil
}

func (f *documentStoreFake) ListOrphans(_ context.Context, cutoff time.Time, limit int) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Document{}
	for _, d := range f.docs {
		if d.Status != domain.StatusClaimed && d.Status != domain.StatusProcessing {
			continue
		}
		if d.ClaimedAt == nil || d.ClaimedAt.After(cutoff) {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *documentStoreFake) ResetToPending(_ context.Context, id, reason string) (bool, error) {
	return f.transition(id, []domain.DocumentStatus{domain.StatusClaimed, domain.StatusProcessing}, func(d *domain.Document) {
		d.Status = domain.StatusPending
		d.ClaimedAt = nil
		d.RetryCount++
		d.LastError = reason
	}), nil
}

func (f *documentStoreFake) FailOrphan(_ context.Context, id, reason string) (bool, error) {
	return f.transition(id, []domain.DocumentStatus{domain.StatusClaimed, domain.StatusProcessing}, func(d *domain.Document) {
		d.Status = domain.StatusFailed
		d.FinalStatus = domain.FinalManualReviewRequired
		d.LastError = reason
	}), nil
}

func (f *documentStoreFake) get(id string) domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id]
}

type blobStoreFake struct {
	mu          sync.Mutex
	pending     []domain.BlobItem
	data        map[string][]byte
	claimed     map[string]bool
	archived    []string
	quarantined map[string]string
	released    []string
	listErr     error
	claimErr    error
	readErr     error
	archiveErr  error
	releaseErr  error
}

func (f *blobStoreFake) ListPending(_ context.Context, limit int) ([]domain.BlobItem, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.pending
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]domain.BlobItem, len(items))
	copy(out, items)
	return out, nil
}

func (f *blobStoreFake) Claim(_ context.Context, item domain.BlobItem) error {
	if f.claimErr != nil {
		return f.claimErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed == nil {
		f.claimed = map[string]bool{}
	}
	if f.claimed[item.Generation] {
		return domain.WrapError(domain.ErrAlreadyClaimed, "claim blob", fmt.Errorf("generation=%s", item.Generation))
	}
	f.claimed[item.Generation] = true
	kept := f.pending[:0]
	for _, p := range f.pending {
		if p.Generation != item.Generation {
			kept = append(kept, p)
		}
	}
	f.pending = kept
	return nil
}

func (f *blobStoreFake) Read(_ context.Context, item domain.BlobItem) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[item.Name]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "read blob", fmt.Errorf("name=%s", item.Name))
	}
	return data, nil
}

func (f *blobStoreFake) Archive(_ context.Context, item domain.BlobItem) error {
	if f.archiveErr != nil {
		return f.archiveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, item.Name)
	return nil
}

func (f *blobStoreFake) Quarantine(_ context.Context, item domain.BlobItem, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quarantined == nil {
		f.quarantined = map[string]string{}
	}
	f.quarantined[item.Name] = reason
	return nil
}

func (f *blobStoreFake) Release(_ context.Context, item domain.BlobItem) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, item.Name)
	if f.claimed != nil {
		delete(f.claimed, item.Generation)
	}
	f.pending = append(f.pending, item)
	return nil
}

type metricsFake struct {
	mu                sync.Mutex
	claimWon          int
	claimLost         int
	started           int
	finished          map[string]int
	lags              []float64
	attempts          []int
	reviewQueued      int
	orphanRecovered   int
	orphanQuarantined int
}

func (f *metricsFake) ClaimWon() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimWon++
}

func (f *metricsFake) ClaimLost() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimLost++
}

func (f *metricsFake) StartDocument() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *metricsFake) FinishDocument(finalStatus string, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished == nil {
		f.finished = map[string]int{}
	}
	f.finished[finalStatus]++
}

func (f *metricsFake) ObserveIntakeLag(seconds float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lags = append(f.lags, seconds)
}

func (f *metricsFake) ObserveExtractionAttempts(attempts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempts)
}

func (f *metricsFake) ReviewQueued() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviewQueued++
}

func (f *metricsFake) OrphanRecovered() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orphanRecovered++
}

func (f *metricsFake) OrphanQuarantined() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orphanQuarantined++
}

type textExtractorFake struct {
	text    string
	err     error
	gotName string
}

func (f *textExtractorFake) Extract(_ context.Context, name string, _ []byte) (string, error) {
	f.gotName = name
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type tradeExtractorFake struct {
	class         domain.DocumentClass
	classifyErr   error
	extraction    domain.TradeExtraction
	extractErr    error
	classifyCalls int
	extractCalls  int
	classifyText  string
	extractText   string
}

func (f *tradeExtractorFake) Classify(_ context.Context, text string) (domain.DocumentClass, error) {
	f.classifyCalls++
	f.classifyText = text
	if f.classifyErr != nil {
		return domain.DocumentClass{}, f.classifyErr
	}
	return f.class, nil
}

func (f *tradeExtractorFake) Extract(_ context.Context, text string) (domain.TradeExtraction, error) {
	f.extractCalls++
	f.extractText = text
	if f.extractErr != nil {
		return domain.TradeExtraction{}, f.extractErr
	}
	return f.extraction, nil
}
