package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/docsift/docsift/internal/ai"
)

var ErrNotFound = errors.New("document not found or expired")

// ValidationError marks rejected submissions (missing fields, bad schema).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Store is the narrow slice of the key-value store the service depends on.
// The list pop is assumed atomic; no other coordination is provided or
// required by the store.
type Store interface {
	Enqueue(ctx context.Context, queue string, payload []byte) (int64, error)
	DequeueBatch(ctx context.Context, queue string, max int) ([][]byte, error)
	QueueLen(ctx context.Context, queue string) (int64, error)
	SetField(ctx context.Context, id, field, value string) error
	GetFields(ctx context.Context, id string, fields ...string) (map[string]string, error)
	ExpireDocument(ctx context.Context, id string, ttl time.Duration, fields ...string) error
}

// EventPublisher feeds document lifecycle events to downstream consumers.
// Publish failures never fail the operation that triggered them.
type EventPublisher interface {
	PublishDocumentEvent(ctx context.Context, evt Event) error
}

// Policy holds the capacity assumptions as named values rather than
// embedded literals. None of them are derived from observed throughput.
type Policy struct {
	QueueKey            string
	BatchSize           int
	ThroughputPerMinute int
	ProcessingEstimate  time.Duration
	ResultTTL           time.Duration
	ProviderName        string
	DefaultModel        string
}

func (p *Policy) normalize() {
	if p.QueueKey == "" {
		p.QueueKey = "documents_queue"
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 5
	}
	if p.ThroughputPerMinute <= 0 {
		p.ThroughputPerMinute = 5
	}
	if p.ProcessingEstimate <= 0 {
		p.ProcessingEstimate = 60 * time.Second
	}
	if p.ResultTTL <= 0 {
		p.ResultTTL = 24 * time.Hour
	}
	if p.ProviderName == "" {
		p.ProviderName = "gemini"
	}
	if p.DefaultModel == "" {
		p.DefaultModel = "gemini-2.0-flash"
	}
}

type Service struct {
	store    Store
	registry *ai.Registry
	events   EventPublisher // nil when no feed is configured
	policy   Policy
	log      *slog.Logger

	now func() time.Time
}

func NewService(store Store, registry *ai.Registry, events EventPublisher, policy Policy, log *slog.Logger) *Service {
	policy.normalize()
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		registry: registry,
		events:   events,
		policy:   policy,
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) publish(ctx context.Context, evt Event) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishDocumentEvent(ctx, evt); err != nil {
		s.log.Warn("event publish failed",
			slog.String("type", evt.Type),
			slog.String("document_id", evt.DocumentID),
			slog.String("error", err.Error()),
		)
	}
}

// Enqueue validates a submission, appends it to the tail of the pending
// list and writes the initial state keys. Nothing is written when
// validation fails. Duplicate ids are not rejected; a second submission
// appends a second list entry and overwrites the state keys.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	switch {
	case req.DocumentID == "":
		return nil, &ValidationError{Msg: "documentId is required"}
	case req.FileData == "":
		return nil, &ValidationError{Msg: "fileData is required"}
	case req.FileName == "":
		return nil, &ValidationError{Msg: "fileName is required"}
	case len(req.Schema) == 0:
		return nil, &ValidationError{Msg: "schema is required"}
	}
	if _, err := jsonschema.CompileString("schema.json", string(req.Schema)); err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("schema is not a valid JSON Schema: %v", err)}
	}

	model := req.Model
	if model == "" {
		model = s.policy.DefaultModel
	}

	rec := QueueRecord{
		ID:        req.DocumentID,
		FileData:  req.FileData,
		FileName:  req.FileName,
		FileSize:  req.FileSize,
		Schema:    req.Schema,
		Model:     model,
		UserID:    req.UserID,
		Timestamp: s.now().UnixMilli(),
		Status:    StatusQueued,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	position, err := s.store.Enqueue(ctx, s.policy.QueueKey, payload)
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	if err := s.store.SetField(ctx, rec.ID, fieldStatus, string(StatusQueued)); err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}
	meta, err := json.Marshal(Metadata{
		FileName:  rec.FileName,
		FileSize:  rec.FileSize,
		Model:     rec.Model,
		Timestamp: rec.Timestamp,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.SetField(ctx, rec.ID, fieldMetadata, string(meta)); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	s.publish(ctx, Event{Type: EventQueued, DocumentID: rec.ID, UserID: rec.UserID})

	return &EnqueueResult{
		DocumentID:           rec.ID,
		QueuePosition:        position,
		EstimatedWaitMinutes: ceilDiv(position, int64(s.policy.ThroughputPerMinute)),
	}, nil
}

// ProcessBatch claims up to BatchSize records from the head of the list and
// processes them concurrently, waiting for every record to finish. A failed
// record is recorded against its own state keys and never affects siblings
// or the invocation as a whole. Once popped, a record is never requeued.
func (s *Service) ProcessBatch(ctx context.Context) (*BatchSummary, error) {
	payloads, err := s.store.DequeueBatch(ctx, s.policy.QueueKey, s.policy.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	var records []QueueRecord
	for _, p := range payloads {
		var rec QueueRecord
		if err := json.Unmarshal(p, &rec); err != nil || rec.ID == "" {
			// Malformed entries are dropped for good; they never re-enter
			// the list and don't count toward the batch.
			s.log.Error("dropping malformed queue record",
				slog.Any("error", err),
				slog.Int("bytes", len(p)),
			)
			continue
		}
		records = append(records, rec)
	}

	summary := &BatchSummary{Processed: []string{}, Failed: []FailedDocument{}}

	if len(records) > 0 {
		var mu sync.Mutex
		var wg sync.WaitGroup
		wg.Add(len(records))
		for _, rec := range records {
			go func(rec QueueRecord) {
				defer wg.Done()
				if err := s.processRecord(ctx, rec); err != nil {
					mu.Lock()
					summary.Failed = append(summary.Failed, FailedDocument{DocumentID: rec.ID, Error: err.Error()})
					mu.Unlock()
					return
				}
				mu.Lock()
				summary.Processed = append(summary.Processed, rec.ID)
				mu.Unlock()
			}(rec)
		}
		wg.Wait()
	}

	remaining, err := s.store.QueueLen(ctx, s.policy.QueueKey)
	if err != nil {
		return nil, fmt.Errorf("queue length: %w", err)
	}
	summary.Remaining = remaining

	s.log.Info("batch processed",
		slog.Int("processed", len(summary.Processed)),
		slog.Int("failed", len(summary.Failed)),
		slog.Int64("remaining", remaining),
	)
	return summary, nil
}

func (s *Service) processRecord(ctx context.Context, rec QueueRecord) error {
	start := s.now()

	if err := s.store.SetField(ctx, rec.ID, fieldStartTime, formatMillis(start)); err != nil {
		return s.recordFailure(ctx, rec, err)
	}
	if err := s.store.SetField(ctx, rec.ID, fieldStatus, string(StatusProcessing)); err != nil {
		return s.recordFailure(ctx, rec, err)
	}

	provider, err := s.registry.Get(ctx, s.policy.ProviderName, rec.Model)
	if err != nil {
		return s.recordFailure(ctx, rec, err)
	}

	result, err := provider.Extract(ctx, ai.ExtractionRequest{
		Model:    rec.Model,
		FileData: rec.FileData,
		MimeType: "application/pdf",
		Schema:   rec.Schema,
	})
	if err != nil {
		return s.recordFailure(ctx, rec, err)
	}

	completed := s.now()
	if err := s.store.SetField(ctx, rec.ID, fieldResult, string(result)); err != nil {
		return s.recordFailure(ctx, rec, err)
	}
	if err := s.store.SetField(ctx, rec.ID, fieldStatus, string(StatusCompleted)); err != nil {
		return s.recordFailure(ctx, rec, err)
	}
	_ = s.store.SetField(ctx, rec.ID, fieldCompletedTime, formatMillis(completed))
	_ = s.store.SetField(ctx, rec.ID, fieldProcessingTime, strconv.FormatInt(completed.Sub(start).Milliseconds(), 10))

	if err := s.store.ExpireDocument(ctx, rec.ID, s.policy.ResultTTL, allFields...); err != nil {
		s.log.Warn("expire failed", slog.String("document_id", rec.ID), slog.String("error", err.Error()))
	}

	s.publish(ctx, Event{Type: EventCompleted, DocumentID: rec.ID, UserID: rec.UserID})
	s.log.Info("document extracted",
		slog.String("document_id", rec.ID),
		slog.Duration("took", completed.Sub(start)),
	)
	return nil
}

// recordFailure writes the terminal error state for one record and returns
// the cause so the batch summary can report it. State writes here are
// best-effort: a store outage at this point leaves the document without a
// terminal transition, which the design accepts.
func (s *Service) recordFailure(ctx context.Context, rec QueueRecord, cause error) error {
	_ = s.store.SetField(ctx, rec.ID, fieldStatus, string(StatusError))
	_ = s.store.SetField(ctx, rec.ID, fieldError, cause.Error())
	_ = s.store.SetField(ctx, rec.ID, fieldErrorTime, formatMillis(s.now()))
	if err := s.store.ExpireDocument(ctx, rec.ID, s.policy.ResultTTL, allFields...); err != nil {
		s.log.Warn("expire failed", slog.String("document_id", rec.ID), slog.String("error", err.Error()))
	}

	s.publish(ctx, Event{Type: EventFailed, DocumentID: rec.ID, UserID: rec.UserID, Error: cause.Error()})
	s.log.Error("document extraction failed",
		slog.String("document_id", rec.ID),
		slog.String("error", cause.Error()),
	)
	return cause
}

// Status aggregates a document's state keys into a single view. Returns
// ErrNotFound when the status key is absent (never enqueued, or expired).
func (s *Service) Status(ctx context.Context, documentID string) (*StatusResponse, error) {
	fields, err := s.store.GetFields(ctx, documentID,
		fieldStatus, fieldMetadata, fieldResult, fieldError,
		fieldStartTime, fieldCompletedTime, fieldProcessingTime,
	)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	raw, ok := fields[fieldStatus]
	if !ok {
		return nil, ErrNotFound
	}
	status := Status(raw)

	resp := &StatusResponse{
		DocumentID: documentID,
		Status:     status,
	}

	if v, ok := fields[fieldError]; ok {
		resp.Error = &v
	}
	resp.Timestamps.Started = parseMillis(fields[fieldStartTime])
	resp.Timestamps.Completed = parseMillis(fields[fieldCompletedTime])
	resp.Timestamps.ProcessingTime = parseMillis(fields[fieldProcessingTime])

	if v, ok := fields[fieldMetadata]; ok {
		var meta Metadata
		if err := json.Unmarshal([]byte(v), &meta); err != nil {
			s.log.Warn("unparseable metadata", slog.String("document_id", documentID), slog.String("error", err.Error()))
		} else {
			resp.Metadata = json.RawMessage(v)
			queued := meta.Timestamp
			resp.Timestamps.Queued = &queued
		}
	}
	if v, ok := fields[fieldResult]; ok {
		if !json.Valid([]byte(v)) {
			s.log.Warn("unparseable result", slog.String("document_id", documentID))
		} else {
			resp.Result = json.RawMessage(v)
		}
	}

	resp.Progress = s.progress(status, resp.Timestamps.Started)

	if status == StatusQueued {
		length, err := s.store.QueueLen(ctx, s.policy.QueueKey)
		if err != nil {
			return nil, fmt.Errorf("queue length: %w", err)
		}
		// Recomputed from the current length; may diverge from the position
		// reported at enqueue time.
		eta := ceilDiv(length, int64(s.policy.ThroughputPerMinute)) * 60
		resp.EstimatedTimeRemaining = &eta
	}

	return resp, nil
}

// QueueLength reports the current pending-list length.
func (s *Service) QueueLength(ctx context.Context) (int64, error) {
	return s.store.QueueLen(ctx, s.policy.QueueKey)
}

func (s *Service) progress(status Status, startedMillis *int64) int {
	switch status {
	case StatusCompleted:
		return 100
	case StatusProcessing:
		if startedMillis == nil {
			return 0
		}
		elapsed := s.now().Sub(time.UnixMilli(*startedMillis))
		p := int(math.Round(elapsed.Seconds() / s.policy.ProcessingEstimate.Seconds() * 100))
		if p > 99 {
			return 99
		}
		if p < 0 {
			return 0
		}
		return p
	default:
		return 0
	}
}

func ceilDiv(n, d int64) int64 {
	if d <= 0 {
		return n
	}
	return (n + d - 1) / d
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(v string) *int64 {
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
