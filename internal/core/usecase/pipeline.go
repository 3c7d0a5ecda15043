package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/complyte/tradeconfirm/internal/core/domain"
	"github.com/complyte/tradeconfirm/internal/core/ports"
)

// PipelineConfig carries the tunables for one pipeline instance: the matching
// thresholds plus the validation tolerance bands.
type PipelineConfig struct {
	OrgDomain      string
	FuzzyThreshold float64
	QuantityPct    float64
	PricePct       float64
	ProceedsPct    float64
}

// DocumentPipeline runs one claimed document to its terminal state:
// text layer, classification, field extraction, identity matching, validation,
// routing, review enqueue and the terminal event. A returned error means no
// terminal state was reached and the claim is left for orphan recovery.
type DocumentPipeline struct {
	blobs     ports.BlobStore
	docs      ports.DocumentStore
	requests  ports.RequestStore
	pool      *CandidatePool
	matcher   Matcher
	text      ports.TextExtractor
	trades    ports.TradeExtractor
	validator Validator
	reviews   ports.ReviewStore
	publisher ports.EventPublisher
	metrics   IntakeMetrics
	logger    *slog.Logger
	cfg       PipelineConfig
}

func NewDocumentPipeline(
	blobs ports.BlobStore,
	docs ports.DocumentStore,
	requests ports.RequestStore,
	directory ports.IdentityDirectory,
	text ports.TextExtractor,
	trades ports.TradeExtractor,
	reviews ports.ReviewStore,
	publisher ports.EventPublisher,
	metrics IntakeMetrics,
	logger *slog.Logger,
	cfg PipelineConfig,
) *DocumentPipeline {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &DocumentPipeline{
		blobs:    blobs,
		docs:     docs,
		requests: requests,
		pool:     NewCandidatePool(requests),
		matcher: NewMatcher(directory, MatcherConfig{
			OrgDomain:      cfg.OrgDomain,
			FuzzyThreshold: cfg.FuzzyThreshold,
			QuantityPct:    cfg.QuantityPct,
		}),
		text:      text,
		trades:    trades,
		validator: NewValidator(cfg.PricePct),
		reviews:   reviews,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

func (p *DocumentPipeline) Process(ctx context.Context, doc domain.Document, item domain.BlobItem) (domain.ProcessingOutcome, error) {
	started := time.Now()
	p.metrics.StartDocument()
	finalStatus := "" // stays empty on non-terminal exits
	defer func() {
		p.metrics.FinishDocument(finalStatus, time.Since(started).Seconds())
	}()

	ok, err := p.docs.MarkProcessing(ctx, doc.ID)
	if err != nil {
		return domain.ProcessingOutcome{}, fmt.Errorf("mark processing: %w", err)
	}
	if !ok {
		return domain.ProcessingOutcome{}, domain.WrapError(domain.ErrConflict, "mark processing",
			fmt.Errorf("document %s is no longer claimed", doc.ID))
	}

	data, err := p.blobs.Read(ctx, item)
	if err != nil {
		return domain.ProcessingOutcome{}, fmt.Errorf("read blob %s: %w", item.Name, err)
	}

	snapshot, err := p.pool.Snapshot(ctx)
	if err != nil {
		return domain.ProcessingOutcome{}, err
	}
	addr, err := p.matcher.ResolveAddress(ctx, snapshot, item.OriginAddress)
	if err != nil {
		return domain.ProcessingOutcome{}, err
	}

	extraction, err := p.extract(ctx, item, data)
	if err != nil {
		return domain.ProcessingOutcome{}, err
	}
	match := p.matcher.Match(snapshot, addr, extraction.Fields)
	route := Route(extraction)

	validation := domain.ValidationResult{}
	if route.ValidationAllowed && match.Resolved() {
		validation, match, err = p.validateAgainstRequest(ctx, extraction, match)
		if err != nil {
			return domain.ProcessingOutcome{}, err
		}
	}

	outcome := domain.ProcessingOutcome{
		DocumentID:  doc.ID,
		Match:       match,
		Extraction:  extraction,
		Validation:  validation,
		Routing:     route,
		FinalStatus: Finalize(match, route, validation),
		CompletedAt: time.Now().UTC(),
	}

	if outcome.FinalStatus == domain.FinalManualReviewRequired {
		if err := p.enqueueReview(ctx, doc.ID, snapshot, outcome); err != nil {
			return domain.ProcessingOutcome{}, err
		}
	}
	if err := p.finish(ctx, doc, item, outcome); err != nil {
		return domain.ProcessingOutcome{}, err
	}

	finalStatus = string(outcome.FinalStatus)
	elapsed := time.Since(started)
	p.logger.Info("document_processed",
		"document_id", doc.ID,
		"storage_name", item.Name,
		"final_status", string(outcome.FinalStatus),
		"match_method", string(match.Method),
		"route", string(route.Action),
		"confidence", extraction.Confidence,
		"duration_ms", elapsed.Milliseconds(),
	)
	return outcome, nil
}

// extract runs the text layer and both model passes. A temporary fault or a
// canceled context propagates as an error so the document is retried later;
// anything else becomes a terminal extraction failure inside the result.
func (p *DocumentPipeline) extract(ctx context.Context, item domain.BlobItem, data []byte) (domain.ExtractionResult, error) {
	text, err := p.text.Extract(ctx, item.Name, data)
	if err != nil {
		if retryWorthy(ctx, err) {
			return domain.ExtractionResult{}, fmt.Errorf("text layer %s: %w", item.Name, err)
		}
		return failedExtraction("", fmt.Sprintf("text layer: %v", err)), nil
	}

	class, err := p.trades.Classify(ctx, text)
	if err != nil {
		if retryWorthy(ctx, err) {
			return domain.ExtractionResult{}, fmt.Errorf("classify %s: %w", item.Name, err)
		}
		return failedExtraction("", fmt.Sprintf("classification: %v", err)), nil
	}

	result := domain.ExtractionResult{
		DocumentType:     class.Type,
		HasTradesSection: class.HasTradesSection,
		Confidence:       class.Confidence,
	}
	if !result.Confirmable() {
		return result, nil
	}

	section := text
	if class.Type == domain.DocTypeActivityStatement && class.TradesSection != "" {
		section = class.TradesSection
	}
	ext, err := p.trades.Extract(ctx, section)
	if err != nil {
		if retryWorthy(ctx, err) {
			return domain.ExtractionResult{}, fmt.Errorf("extract %s: %w", item.Name, err)
		}
		return failedExtraction(class.Type, fmt.Sprintf("field extraction: %v", err)), nil
	}
	p.metrics.ObserveExtractionAttempts(ext.Attempts)

	result.Fields = ext.Fields
	result.Confidence = min(class.Confidence, ext.Confidence)
	flagQuality(&result, p.cfg.ProceedsPct)
	return result, nil
}

// validateAgainstRequest re-reads the matched request at validation time. A
// request that vanished or moved on demotes the match instead of validating
// against stale data.
func (p *DocumentPipeline) validateAgainstRequest(ctx context.Context, extraction domain.ExtractionResult, match domain.MatchResult) (domain.ValidationResult, domain.MatchResult, error) {
	req, err := p.requests.GetRequest(ctx, match.RequestID)
	if err != nil {
		if domain.IsKind(err, domain.ErrRequestNotFound) {
			return domain.ValidationResult{}, demoteMatch(match, "matched request no longer exists"), nil
		}
		return domain.ValidationResult{}, match, err
	}
	if req.Status != domain.RequestAwaitingConfirmation {
		reason := fmt.Sprintf("request %s is %s, no longer awaiting confirmation", req.ID, req.Status)
		return domain.ValidationResult{}, demoteMatch(match, reason), nil
	}
	return p.validator.Validate(extraction.Fields, *req), match, nil
}

func (p *DocumentPipeline) enqueueReview(ctx context.Context, documentID string, snapshot *PoolSnapshot, outcome domain.ProcessingOutcome) error {
	// The routing reason explains extraction-level causes; when routing would
	// have approved, the match reason is what sent the document here.
	reason := outcome.Routing.Reason
	if outcome.Routing.Action != domain.ActionManualReview && !outcome.Match.Resolved() {
		reason = outcome.Match.Reason
	}
	entry := domain.ReviewEntry{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Reason:     reason,
		Extraction: outcome.Extraction,
		Match:      outcome.Match,
		Candidates: snapshot.All(),
		Validation: outcome.Validation,
	}
	created, err := p.reviews.Create(ctx, entry)
	if err != nil {
		return fmt.Errorf("enqueue review: %w", err)
	}
	if !created {
		p.logger.Info("review_entry_exists", "document_id", documentID)
		return nil
	}
	p.metrics.ReviewQueued()
	if err := p.publisher.PublishReviewEvent(ctx, domain.ReviewEvent{
		EntryID:    entry.ID,
		DocumentID: documentID,
		Action:     domain.ReviewActionQueued,
		At:         time.Now().UTC(),
	}); err != nil {
		p.logger.Warn("review_event_publish_failed", "entry_id", entry.ID, "error", err)
	}
	return nil
}

// finish writes the guarded terminal transition, publishes the outcome only
// when this worker won the transition, and moves the blob out of claimed.
func (p *DocumentPipeline) finish(ctx context.Context, doc domain.Document, item domain.BlobItem, outcome domain.ProcessingOutcome) error {
	var (
		won bool
		err error
	)
	if outcome.Extraction.Failed {
		won, err = p.docs.MarkFailed(ctx, doc.ID, outcome, outcome.Extraction.FailureReason)
	} else {
		won, err = p.docs.MarkArchived(ctx, doc.ID, outcome)
	}
	if err != nil {
		return fmt.Errorf("terminal transition: %w", err)
	}
	if !won {
		p.logger.Warn("terminal_transition_lost", "document_id", doc.ID)
		return nil
	}

	if err := p.publisher.PublishOutcome(ctx, outcome); err != nil {
		p.logger.Warn("outcome_publish_failed", "document_id", doc.ID, "error", err)
	}

	if outcome.Extraction.Failed {
		if err := p.blobs.Quarantine(ctx, item, outcome.Extraction.FailureReason); err != nil {
			p.logger.Warn("blob_quarantine_failed", "name", item.Name, "error", err)
		}
	} else {
		if err := p.blobs.Archive(ctx, item); err != nil {
			p.logger.Warn("blob_archive_failed", "name", item.Name, "error", err)
		}
	}
	return nil
}

func failedExtraction(docType domain.DocumentType, reason string) domain.ExtractionResult {
	res := domain.ExtractionResult{
		DocumentType:  docType,
		Failed:        true,
		FailureReason: reason,
	}
	res.Flag(reason)
	return res
}

func demoteMatch(match domain.MatchResult, reason string) domain.MatchResult {
	return domain.MatchResult{
		EmployeeID: match.EmployeeID,
		Method:     domain.MatchNone,
		Reason:     reason,
	}
}

// retryWorthy separates faults worth another pass later from genuine
// document-level failures: a canceled context or a dependency's transient
// error must not retire the document.
func retryWorthy(ctx context.Context, err error) bool {
	return ctx.Err() != nil || domain.IsKind(err, domain.ErrTemporary)
}
