package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsift/docsift/internal/ai"
)

type fakeStore struct {
	mu     sync.Mutex
	queues map[string][][]byte
	kv     map[string]string
	ttls   map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		queues: make(map[string][][]byte),
		kv:     make(map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeStore) Enqueue(_ context.Context, queue string, payload []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[queue] = append(f.queues[queue], payload)
	return int64(len(f.queues[queue])), nil
}

func (f *fakeStore) DequeueBatch(_ context.Context, queue string, max int) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for i := 0; i < max && len(f.queues[queue]) > 0; i++ {
		out = append(out, f.queues[queue][0])
		f.queues[queue] = f.queues[queue][1:]
	}
	return out, nil
}

func (f *fakeStore) QueueLen(_ context.Context, queue string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.queues[queue])), nil
}

func (f *fakeStore) SetField(_ context.Context, id, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv["doc:"+id+":"+field] = value
	return nil
}

func (f *fakeStore) GetFields(_ context.Context, id string, fields ...string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for _, fl := range fields {
		if v, ok := f.kv["doc:"+id+":"+fl]; ok {
			out[fl] = v
		}
	}
	return out, nil
}

func (f *fakeStore) ExpireDocument(_ context.Context, id string, ttl time.Duration, fields ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fl := range fields {
		if _, ok := f.kv["doc:"+id+":"+fl]; ok {
			f.ttls["doc:"+id+":"+fl] = ttl
		}
	}
	return nil
}

func (f *fakeStore) field(id, field string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv["doc:"+id+":"+field]
	return v, ok
}

func (f *fakeStore) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.kv)
	for _, q := range f.queues {
		n += len(q)
	}
	return n
}

// fakeProvider fails any record whose payload contains the marker "FAIL".
type fakeProvider struct{}

func (fakeProvider) Extract(_ context.Context, req ai.ExtractionRequest) (json.RawMessage, error) {
	if strings.Contains(req.FileData, "FAIL") {
		return nil, errors.New("extraction backend rejected the document")
	}
	return json.RawMessage(`{"fields":{"title":"ok"}}`), nil
}

type recordingEvents struct {
	mu    sync.Mutex
	types []string
	err   error
}

func (r *recordingEvents) PublishDocumentEvent(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, evt.Type)
	return r.err
}

const testSchema = `{"type":"object","properties":{"title":{"type":"string"}}}`

func newTestService(t *testing.T, store Store, events EventPublisher) *Service {
	t.Helper()
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		return fakeProvider{}, nil
	})
	return NewService(store, reg, events, Policy{ProviderName: "fake"}, nil)
}

func enqueueReq(id, fileData string) EnqueueRequest {
	return EnqueueRequest{
		DocumentID: id,
		FileData:   fileData,
		FileName:   id + ".pdf",
		FileSize:   2048,
		Schema:     json.RawMessage(testSchema),
	}
}

func TestEnqueue_PositionAndStateKeys(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	res, err := svc.Enqueue(ctx, enqueueReq("doc-1", "QkFTRTY0"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.QueuePosition)
	assert.Equal(t, int64(1), res.EstimatedWaitMinutes)

	st, err := svc.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, st.Status)
	assert.Equal(t, 0, st.Progress)
	require.NotNil(t, st.EstimatedTimeRemaining)
	assert.Equal(t, int64(60), *st.EstimatedTimeRemaining)
	require.NotNil(t, st.Timestamps.Queued)
}

func TestEnqueue_MissingFieldsMutateNothing(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	cases := []EnqueueRequest{
		{FileData: "x", FileName: "a.pdf", Schema: json.RawMessage(testSchema)},
		{DocumentID: "d", FileName: "a.pdf", Schema: json.RawMessage(testSchema)},
		{DocumentID: "d", FileData: "x", Schema: json.RawMessage(testSchema)},
		{DocumentID: "d", FileData: "x", FileName: "a.pdf"},
	}
	for _, req := range cases {
		_, err := svc.Enqueue(ctx, req)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	}
	assert.Equal(t, 0, store.mutations())
}

func TestEnqueue_RejectsGarbageSchema(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, nil)

	req := enqueueReq("doc-1", "QkFTRTY0")
	req.Schema = json.RawMessage(`{"type": 42}`)
	_, err := svc.Enqueue(context.Background(), req)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, store.mutations())
}

func TestProcessBatch_DrainsInBatches(t *testing.T) {
	store := newFakeStore()
	events := &recordingEvents{}
	svc := newTestService(t, store, events)
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		res, err := svc.Enqueue(ctx, enqueueReq(fmt.Sprintf("doc-%d", i), "QkFTRTY0"))
		require.NoError(t, err)
		assert.Equal(t, int64(i), res.QueuePosition)
	}

	sum, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, len(sum.Processed)+len(sum.Failed))
	assert.Equal(t, int64(1), sum.Remaining)

	sum, err = svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Len(t, sum.Processed, 1)
	assert.Equal(t, int64(0), sum.Remaining)

	for i := 1; i <= 6; i++ {
		id := fmt.Sprintf("doc-%d", i)
		status, ok := store.field(id, "status")
		require.True(t, ok, "terminal status missing for %s", id)
		assert.Contains(t, []string{"completed", "error"}, status)
	}
}

func TestProcessBatch_EmptyQueue(t *testing.T) {
	svc := newTestService(t, newFakeStore(), nil)

	sum, err := svc.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sum.Processed)
	assert.Empty(t, sum.Failed)
	assert.Equal(t, int64(0), sum.Remaining)
}

func TestProcessBatch_FailureIsIsolated(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, enqueueReq("doc-ok", "QkFTRTY0"))
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, enqueueReq("doc-bad", "FAIL"))
	require.NoError(t, err)

	sum, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-ok"}, sum.Processed)
	require.Len(t, sum.Failed, 1)
	assert.Equal(t, "doc-bad", sum.Failed[0].DocumentID)
	assert.NotEmpty(t, sum.Failed[0].Error)
	assert.NotContains(t, sum.Processed, "doc-bad")

	st, err := svc.Status(ctx, "doc-bad")
	require.NoError(t, err)
	assert.Equal(t, StatusError, st.Status)
	require.NotNil(t, st.Error)
	assert.NotEmpty(t, *st.Error)
}

func TestProcessBatch_DropsMalformedEntries(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, svc.policy.QueueKey, []byte("{not json"))
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, enqueueReq("doc-1", "QkFTRTY0"))
	require.NoError(t, err)

	sum, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, sum.Processed)
	assert.Empty(t, sum.Failed)
	assert.Equal(t, int64(0), sum.Remaining)
}

func TestStatus_UnknownDocument(t *testing.T) {
	svc := newTestService(t, newFakeStore(), nil)

	_, err := svc.Status(context.Background(), "never-enqueued")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatus_CompletedDocument(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, enqueueReq("doc-1", "QkFTRTY0"))
	require.NoError(t, err)
	_, err = svc.ProcessBatch(ctx)
	require.NoError(t, err)

	first, err := svc.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, first.Status)
	assert.Equal(t, 100, first.Progress)
	assert.JSONEq(t, `{"fields":{"title":"ok"}}`, string(first.Result))
	assert.Nil(t, first.EstimatedTimeRemaining)
	require.NotNil(t, first.Timestamps.Started)
	require.NotNil(t, first.Timestamps.Completed)
	require.NotNil(t, first.Timestamps.ProcessingTime)

	// Reading again within the TTL window is idempotent.
	second, err := svc.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, string(first.Result), string(second.Result))
	assert.Equal(t, 100, second.Progress)

	// Terminal state carries the expiry on result and metadata.
	assert.Equal(t, 24*time.Hour, store.ttls["doc:doc-1:result"])
	assert.Equal(t, 24*time.Hour, store.ttls["doc:doc-1:metadata"])
}

func TestStatus_ProcessingProgressClamped(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	started := time.Now()
	require.NoError(t, store.SetField(ctx, "doc-1", "status", string(StatusProcessing)))
	require.NoError(t, store.SetField(ctx, "doc-1", "startTime", formatMillis(started)))

	// Half the 60s estimate elapsed: linear estimate around 50.
	svc.now = func() time.Time { return started.Add(30 * time.Second) }
	st, err := svc.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 50, st.Progress)

	// Way past the estimate: clamped to 99, never 100.
	svc.now = func() time.Time { return started.Add(10 * time.Minute) }
	st, err = svc.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 99, st.Progress)

	// Clock skew before start: clamped to 0.
	svc.now = func() time.Time { return started.Add(-time.Minute) }
	st, err = svc.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Progress)
}

func TestStatus_UnparseableMetadataIsNull(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store, nil)
	ctx := context.Background()

	require.NoError(t, store.SetField(ctx, "doc-1", "status", string(StatusCompleted)))
	require.NoError(t, store.SetField(ctx, "doc-1", "metadata", "{broken"))
	require.NoError(t, store.SetField(ctx, "doc-1", "result", "also broken"))

	st, err := svc.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Nil(t, st.Metadata)
	assert.Nil(t, st.Result)
	assert.Nil(t, st.Timestamps.Queued)
}

func TestEvents_PublishedPerLifecycle(t *testing.T) {
	store := newFakeStore()
	events := &recordingEvents{}
	svc := newTestService(t, store, events)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, enqueueReq("doc-ok", "QkFTRTY0"))
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, enqueueReq("doc-bad", "FAIL"))
	require.NoError(t, err)
	_, err = svc.ProcessBatch(ctx)
	require.NoError(t, err)

	events.mu.Lock()
	defer events.mu.Unlock()
	assert.ElementsMatch(t, []string{
		EventQueued, EventQueued, EventCompleted, EventFailed,
	}, events.types)
}

func TestEvents_PublishFailureDoesNotFailEnqueue(t *testing.T) {
	store := newFakeStore()
	events := &recordingEvents{err: errors.New("broker down")}
	svc := newTestService(t, store, events)

	res, err := svc.Enqueue(context.Background(), enqueueReq("doc-1", "QkFTRTY0"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.QueuePosition)
}
