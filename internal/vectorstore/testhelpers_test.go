package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mailindex/internal/mail"
	"github.com/fyrsmithlabs/mailindex/pkg/collections"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	root := t.TempDir()
	h := NewHandles(nil)
	t.Cleanup(func() { _ = h.Close() })

	db, err := h.Chromem(root, false)
	require.NoError(t, err)
	return NewIndex(NewChromemBackend(db, root, nil), root, nil)
}

func testSpec(dim int) CollectionSpec {
	return CollectionSpec{
		ModelID:   collections.MustModelIdentity("ollama", "nomic-embed-text"),
		Provider:  "ollama",
		ModelName: "nomic-embed-text",
		Dimension: dim,
	}
}

func openTestCollection(t *testing.T, ix *Index, dim int) *Collection {
	t.Helper()
	c, err := ix.OpenCollection(context.Background(), testSpec(dim))
	require.NoError(t, err)
	return c
}

func testEmail(i int) *mail.Email {
	return &mail.Email{
		ID:         fmt.Sprintf("msg-%03d", i),
		ThreadID:   fmt.Sprintf("thr-%03d", i/2),
		Subject:    fmt.Sprintf("Subject %d", i),
		Sender:     "alice@example.com",
		Recipients: []string{"bob@example.com"},
		Date:       time.Date(2024, 1, 1+i%28, 12, 0, 0, 0, time.UTC),
		Body:       fmt.Sprintf("Body of message %d", i),
		Labels:     []string{"inbox"},
		Snippet:    fmt.Sprintf("Body of message %d", i),
	}
}

// unitVector returns a 4-dimensional vector pointing mostly along axis i%4.
func unitVector(i int) []float32 {
	v := []float32{0.1, 0.1, 0.1, 0.1}
	v[i%4] = 1
	return v
}

func entries(from, to int) []Entry {
	out := make([]Entry, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, Entry{Email: testEmail(i), Vector: unitVector(i)})
	}
	return out
}

// flakyBackend wraps a backend and injects failures.
type flakyBackend struct {
	Backend
	existingErr error
	insertErr   error
	countErr    error
}

func (f *flakyBackend) Existing(ctx context.Context, name string, ids []string) (map[string]bool, error) {
	if f.existingErr != nil {
		return nil, f.existingErr
	}
	return f.Backend.Existing(ctx, name, ids)
}

func (f *flakyBackend) Insert(ctx context.Context, name string, points []Point) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.Backend.Insert(ctx, name, points)
}

func (f *flakyBackend) Count(ctx context.Context, name string) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.Backend.Count(ctx, name)
}

var errInjected = errors.New("injected failure")
