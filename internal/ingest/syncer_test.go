package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/mailindex/internal/embeddings"
	"github.com/fyrsmithlabs/mailindex/internal/mail"
	"github.com/fyrsmithlabs/mailindex/internal/secrets"
	"github.com/fyrsmithlabs/mailindex/internal/vectorstore"
	"github.com/fyrsmithlabs/mailindex/pkg/collections"
)

const testDim = 3

// fakeSource serves emails from memory and honours the query grammar.
type fakeSource struct {
	mu       sync.Mutex
	emails   map[string]*mail.Email
	failing  map[string]bool
	listErr  error
	queries  []string
	fetchLog []string
}

func newFakeSource(emails ...*mail.Email) *fakeSource {
	src := &fakeSource{emails: map[string]*mail.Email{}, failing: map[string]bool{}}
	for _, e := range emails {
		src.emails[e.ID] = e
	}
	return src
}

func (f *fakeSource) ListMessageIDs(_ context.Context, query string, max int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.listErr != nil {
		return nil, f.listErr
	}
	q, err := mail.ParseQuery(query)
	if err != nil {
		return nil, err
	}
	var matched []*mail.Email
	for _, e := range f.emails {
		if q.Matches(e) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Date.After(matched[j].Date) })
	ids := make([]string, 0, len(matched))
	for _, e := range matched {
		if max > 0 && len(ids) == max {
			break
		}
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (f *fakeSource) FetchMessage(_ context.Context, id string) (*mail.Email, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchLog = append(f.fetchLog, id)
	if f.failing[id] {
		return nil, fmt.Errorf("fetch %s: connection reset", id)
	}
	e, ok := f.emails[id]
	if !ok {
		return nil, errors.New("not found")
	}
	c := *e
	return &c, nil
}

func (f *fakeSource) lastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

func testEmail(i int, date time.Time) *mail.Email {
	return &mail.Email{
		ID:         fmt.Sprintf("msg-%02d", i),
		ThreadID:   fmt.Sprintf("thr-%02d", i),
		Subject:    fmt.Sprintf("Status update %d", i),
		Sender:     "alice@example.com",
		Recipients: []string{"bob@example.com"},
		Date:       date,
		Body:       fmt.Sprintf("Weekly status number %d.", i),
		Labels:     []string{"INBOX"},
	}
}

func mailbox(n int) []*mail.Email {
	out := make([]*mail.Email, n)
	for i := range out {
		out[i] = testEmail(i, time.Date(2024, 6, 1+i, 10, 0, 0, 0, time.UTC))
	}
	return out
}

// hashProvider embeds text deterministically; text containing NOEMBED fails.
func hashProvider() *embeddings.StaticProvider {
	return embeddings.NewStaticProvider("ollama", "nomic-embed-text", testDim, func(text string) ([]float32, error) {
		if strings.Contains(text, "NOEMBED") {
			return nil, errors.New("model refused input")
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(text))
		sum := h.Sum32()
		return []float32{float32(sum&0xff) + 1, float32(sum>>8&0xff) + 1, float32(sum>>16&0xff) + 1}, nil
	})
}

func newCollection(t *testing.T) *vectorstore.Collection {
	t.Helper()
	root := t.TempDir()
	h := vectorstore.NewHandles(nil)
	t.Cleanup(func() { _ = h.Close() })
	db, err := h.Chromem(root, false)
	require.NoError(t, err)

	ix := vectorstore.NewIndex(vectorstore.NewChromemBackend(db, root, nil), root, nil)
	coll, err := ix.OpenCollection(context.Background(), vectorstore.CollectionSpec{
		ModelID:   collections.MustModelIdentity("ollama", "nomic-embed-text"),
		Provider:  "ollama",
		ModelName: "nomic-embed-text",
		Dimension: testDim,
	})
	require.NoError(t, err)
	return coll
}

func TestSyncer_FullThenRepeat(t *testing.T) {
	ctx := context.Background()
	coll := newCollection(t)
	src := newFakeSource(mailbox(5)...)
	s := NewSyncer(src, nil, zaptest.NewLogger(t))

	var progress []int
	report, err := s.Run(ctx, coll, hashProvider(), Options{
		BatchSize: 2,
		Progress:  func(done, _ int) { progress = append(progress, done) },
	})
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 5, report.Listed)
	assert.Equal(t, 5, report.Fetched)
	assert.Equal(t, 5, report.Inserted)
	assert.True(t, report.Advanced)
	assert.False(t, report.Watermark.IsZero())
	assert.Equal(t, []int{2, 4, 5}, progress)

	n, err := coll.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	wm, ok, err := coll.SyncWatermark()
	require.NoError(t, err)
	require.True(t, ok)

	// A repeat inserts nothing, fetches nothing and leaves the watermark.
	again, err := s.Run(ctx, coll, hashProvider(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, again.AlreadyIndexed)
	assert.Zero(t, again.Fetched)
	assert.Len(t, src.fetchLog, 5)
	assert.Zero(t, again.Inserted)
	assert.False(t, again.Advanced)

	wm2, _, err := coll.SyncWatermark()
	require.NoError(t, err)
	assert.True(t, wm.Equal(wm2))
}

func TestSyncer_NewMailAdvancesWatermark(t *testing.T) {
	ctx := context.Background()
	coll := newCollection(t)
	src := newFakeSource(mailbox(2)...)
	s := NewSyncer(src, nil, nil)

	_, err := s.Run(ctx, coll, hashProvider(), Options{})
	require.NoError(t, err)
	wm, _, err := coll.SyncWatermark()
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	late := testEmail(9, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	src.emails[late.ID] = late

	report, err := s.Run(ctx, coll, hashProvider(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)
	assert.True(t, report.Advanced)
	assert.True(t, report.Watermark.After(wm))
}

func TestSyncer_IncrementalQuery(t *testing.T) {
	ctx := context.Background()
	coll := newCollection(t)
	src := newFakeSource(mailbox(3)...)
	s := NewSyncer(src, nil, nil)

	_, err := s.Run(ctx, coll, hashProvider(), Options{Incremental: true, Query: "from:alice"})
	require.NoError(t, err)
	assert.Equal(t, "from:alice", src.lastQuery(), "first sync has no watermark")

	wm, _, err := coll.SyncWatermark()
	require.NoError(t, err)

	report, err := s.Run(ctx, coll, hashProvider(), Options{Incremental: true, Query: "from:alice"})
	require.NoError(t, err)
	assert.Equal(t, "from:alice "+mail.AfterQuery(wm), report.Query)
	assert.Zero(t, report.Listed)

	report, err = s.Run(ctx, coll, hashProvider(), Options{Incremental: true, Query: "after:2024/06/02"})
	require.NoError(t, err)
	assert.Equal(t, "after:2024/06/02", report.Query)
	assert.Equal(t, 2, report.AlreadyIndexed)
}

func TestSyncer_CountsFailures(t *testing.T) {
	ctx := context.Background()
	coll := newCollection(t)
	emails := mailbox(4)
	emails[1].Body = "NOEMBED please"
	src := newFakeSource(emails...)
	src.failing[emails[2].ID] = true

	report, err := NewSyncer(src, nil, nil).Run(ctx, coll, hashProvider(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Listed)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 1, report.FetchFailed)
	assert.Equal(t, 1, report.Absent)
	assert.Equal(t, 2, report.Inserted)

	got, err := coll.GetByID(ctx, emails[1].ID)
	require.NoError(t, err)
	assert.Nil(t, got, "absent embeddings are never stored")
}

func TestSyncer_ListErrorAborts(t *testing.T) {
	coll := newCollection(t)
	src := newFakeSource(mailbox(2)...)
	src.listErr = errors.New("mailbox locked")

	_, err := NewSyncer(src, nil, nil).Run(context.Background(), coll, hashProvider(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailbox locked")

	_, ok, err := coll.SyncWatermark()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncer_DimensionMismatchAborts(t *testing.T) {
	coll := newCollection(t)
	wide := embeddings.NewStaticProvider("ollama", "nomic-embed-text", 5, func(string) ([]float32, error) {
		return []float32{1, 2, 3, 4, 5}, nil
	})
	_, err := NewSyncer(newFakeSource(mailbox(2)...), nil, nil).Run(context.Background(), coll, wide, Options{})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestSyncer_Clear(t *testing.T) {
	ctx := context.Background()
	coll := newCollection(t)
	src := newFakeSource(mailbox(3)...)
	s := NewSyncer(src, nil, nil)

	_, err := s.Run(ctx, coll, hashProvider(), Options{})
	require.NoError(t, err)

	report, err := s.Run(ctx, coll, hashProvider(), Options{Clear: true, MaxResults: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)

	n, err := coll.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSyncer_ScrubsBeforeEmbedding(t *testing.T) {
	ctx := context.Background()
	coll := newCollection(t)
	e := testEmail(1, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	e.Body = "Your temporary password is: Zq8!mPl0x7, change it soon."

	var embedded []string
	provider := embeddings.NewStaticProvider("ollama", "nomic-embed-text", testDim, func(text string) ([]float32, error) {
		embedded = append(embedded, text)
		return []float32{1, 1, 1}, nil
	})
	scrubber, err := secrets.New(secrets.Options{Enabled: true}, nil)
	require.NoError(t, err)

	report, err := NewSyncer(newFakeSource(e), scrubber, nil).Run(ctx, coll, provider, Options{})
	require.NoError(t, err)
	assert.Positive(t, report.Redactions)

	require.Len(t, embedded, 1)
	assert.NotContains(t, embedded[0], "Zq8!mPl0x7")

	stored, err := coll.GetByID(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotContains(t, stored.Body, "Zq8!mPl0x7")
	assert.Contains(t, stored.Body, "[REDACTED:")
}

func TestSyncer_WaitsForRunningSync(t *testing.T) {
	s := NewSyncer(newFakeSource(), nil, nil)
	s.sem <- struct{}{}
	defer s.release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Run(ctx, newCollection(t), hashProvider(), Options{})
	assert.ErrorIs(t, err, ErrSyncInProgress)
}
