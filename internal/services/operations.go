package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/internal/embeddings"
	"github.com/fyrsmithlabs/mailindex/internal/ingest"
	"github.com/fyrsmithlabs/mailindex/internal/logging"
	"github.com/fyrsmithlabs/mailindex/internal/mail"
	"github.com/fyrsmithlabs/mailindex/internal/resolver"
	"github.com/fyrsmithlabs/mailindex/internal/search"
	"github.com/fyrsmithlabs/mailindex/internal/vectorstore"
)

var (
	// ErrInvalidRequest marks a request rejected before touching the index.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrEmailNotFound is returned by GetEmail for an unknown id.
	ErrEmailNotFound = errors.New("email not found")
)

// SearchRequest is a semantic search. Provider and Model narrow the
// collection choice; K defaults to search.default_k.
type SearchRequest struct {
	Query    string `json:"query"`
	K        int    `json:"k,omitempty"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// SearchResponse carries the ranked emails and the collection they came from.
type SearchResponse struct {
	Query        string          `json:"query"`
	Collection   string          `json:"collection"`
	Descriptor   string          `json:"descriptor"`
	Alternatives []string        `json:"alternatives,omitempty"`
	Results      []search.Result `json:"results"`
}

// Search resolves the collection strictly, so it never creates one, and
// runs the query against it.
func Search(ctx context.Context, reg Registry, req SearchRequest) (*SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	cfg := reg.Config().Search
	k := req.K
	if k <= 0 {
		k = cfg.DefaultK
	}
	k = min(k, cfg.MaxResults)

	res, err := reg.Resolver().Strict(ctx, resolver.Request{Provider: req.Provider, Model: req.Model})
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Close() }()

	ctx = logging.WithCollection(ctx, res.Collection.Name())
	reg.Logger().Debug(ctx, "searching", zap.String("descriptor", res.Descriptor), zap.Int("k", k))

	results, err := search.New(res.Collection, res.Provider, reg.Logger().Underlying()).Search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	out := &SearchResponse{
		Query:      query,
		Collection: res.Collection.Name(),
		Descriptor: res.Descriptor,
		Results:    results,
	}
	for _, alt := range res.Alternatives {
		out.Alternatives = append(out.Alternatives, alt.Name)
	}
	return out, nil
}

// SyncRequest is one sync run. Zero fields take the sync config defaults.
type SyncRequest struct {
	Query       string
	MaxResults  int
	Incremental bool
	Clear       bool
	Provider    string
	Model       string
	Progress    func(done, total int)
}

// SyncResponse reports a finished run.
type SyncResponse struct {
	Descriptor string `json:"descriptor"`
	Created    bool   `json:"created"`
	*ingest.Report
}

// Sync resolves (or creates) the collection for the requested model and
// syncs the mail source into it.
func Sync(ctx context.Context, reg Registry, req SyncRequest) (*SyncResponse, error) {
	syncer, err := reg.Syncer()
	if err != nil {
		return nil, err
	}
	res, err := reg.Resolver().Resolve(ctx, resolver.Request{Provider: req.Provider, Model: req.Model})
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Close() }()

	ctx = logging.WithCollection(ctx, res.Collection.Name())
	if m, ok := res.Provider.(embeddings.Materializer); ok {
		if err := m.EnsureModel(ctx); err != nil {
			return nil, err
		}
	}

	cfg := reg.Config()
	opts := ingest.Options{
		Query:       req.Query,
		MaxResults:  req.MaxResults,
		Incremental: req.Incremental,
		Clear:       req.Clear,
		BatchSize:   cfg.Embeddings.BatchSize,
		Progress:    req.Progress,
	}
	if opts.Query == "" {
		opts.Query = cfg.Sync.Query
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = cfg.Sync.MaxResults
	}

	reg.Logger().Info(ctx, "sync starting",
		zap.String("descriptor", res.Descriptor),
		zap.Bool("incremental", opts.Incremental),
	)
	report, err := syncer.Run(ctx, res.Collection, res.Provider, opts)
	if report != nil {
		ctx = logging.WithRunID(ctx, report.RunID)
	}
	if err != nil {
		reg.Logger().Error(ctx, "sync failed", zap.Error(err))
		return nil, err
	}
	return &SyncResponse{Descriptor: res.Descriptor, Created: res.IsNew, Report: report}, nil
}

// Collections lists every collection with its stats.
func Collections(ctx context.Context, reg Registry) ([]vectorstore.CollectionInfo, error) {
	return reg.Index().ListCollections(ctx)
}

// Stats returns one collection's stats.
func Stats(ctx context.Context, reg Registry, name string) (vectorstore.Stats, error) {
	coll, err := reg.Index().Collection(ctx, name)
	if err != nil {
		return vectorstore.Stats{}, err
	}
	return coll.Stats(ctx)
}

// GetEmail returns a stored email.
func GetEmail(ctx context.Context, reg Registry, collection, id string) (*mail.Email, error) {
	coll, err := reg.Index().Collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	e, err := coll.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrEmailNotFound, id, collection)
	}
	return e, nil
}

// ClearCollection empties a collection and resets its sync state.
func ClearCollection(ctx context.Context, reg Registry, name string) error {
	coll, err := reg.Index().Collection(ctx, name)
	if err != nil {
		return err
	}
	return coll.Clear(ctx)
}

// DeleteCollection drops a collection and its sync state.
func DeleteCollection(ctx context.Context, reg Registry, name string) error {
	return reg.Index().DeleteCollection(ctx, name)
}

// ProviderStatus is the outcome of a connectivity check.
type ProviderStatus struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	ModelID   string `json:"model_id"`
	Connected bool   `json:"connected"`
	Dimension int    `json:"dimension,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TestProvider builds the provider for (provider, model), empty meaning the
// configured one, and checks that it answers.
func TestProvider(ctx context.Context, reg Registry, provider, model string) (ProviderStatus, error) {
	p, err := embeddings.New(reg.Embeddings().With(provider, model), reg.Logger().Underlying())
	if err != nil {
		return ProviderStatus{}, err
	}
	defer func() { _ = p.Close() }()

	st := ProviderStatus{
		Provider:  p.ProviderName(),
		Model:     p.ModelName(),
		ModelID:   p.ModelIdentity().String(),
		Connected: p.TestConnection(ctx),
	}
	if !st.Connected {
		st.Error = "provider did not answer"
		return st, nil
	}
	dim, err := p.Dimension(ctx)
	if err != nil {
		st.Error = err.Error()
		return st, nil
	}
	st.Dimension = dim
	return st, nil
}
