// Package resolver picks the collection, and the embedding provider that
// must query it, for a (provider, model) request.
//
// Collections are matched on their canonical model identity, so a request
// for "nomic-embed-text:latest" finds a collection built with
// "nomic_embed_text-latest". When nothing matches, Resolve creates the
// collection for the requested or configured model; Strict does not.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/fyrsmithlabs/mailindex/internal/embeddings"
	"github.com/fyrsmithlabs/mailindex/internal/vectorstore"
	"github.com/fyrsmithlabs/mailindex/pkg/collections"
)

// ErrNoMatchingCollection is returned by Strict when no collection matches.
// Resolve handles it by creating a collection.
var ErrNoMatchingCollection = errors.New("no matching collection")

// ProviderFactory builds a provider. Empty arguments select the configured
// defaults.
type ProviderFactory func(ctx context.Context, provider, model string) (embeddings.Provider, error)

// Request constrains the collection to use. Both fields are optional.
type Request struct {
	Provider string
	Model    string
}

// Resolution is the outcome of a resolve.
type Resolution struct {
	Collection *vectorstore.Collection
	Provider   embeddings.Provider
	Info       vectorstore.CollectionInfo

	// IsNew is set when the collection was created by this resolve.
	IsNew bool

	// Alternatives lists the other matching collections, best first.
	Alternatives []vectorstore.CollectionInfo

	// Descriptor is a one-line human readable summary.
	Descriptor string
}

// Close releases the provider.
func (r *Resolution) Close() error {
	if r == nil || r.Provider == nil {
		return nil
	}
	return r.Provider.Close()
}

var printer = message.NewPrinter(language.English)

func describe(info vectorstore.CollectionInfo, isNew bool) string {
	if isNew {
		return "new collection " + info.Name
	}
	noun := "emails"
	if info.MemberCount == 1 {
		noun = "email"
	}
	return printer.Sprintf("%s (%d %s)", info.Name, info.MemberCount, noun)
}

// Match filters infos by the request constraints:
//   - no constraints: every collection with a model identity;
//   - provider only: identities in that provider's namespace;
//   - model only: the model's identity under any known provider;
//   - both: exactly that identity.
func Match(infos []vectorstore.CollectionInfo, provider, model string) []vectorstore.CollectionInfo {
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.TrimSpace(model)

	want := map[collections.ModelIdentity]bool{}
	switch {
	case model != "" && provider != "":
		if id, err := collections.NewModelIdentity(provider, model); err == nil {
			want[id] = true
		}
	case model != "":
		for _, p := range collections.KnownProviders {
			if id, err := collections.NewModelIdentity(p, model); err == nil {
				want[id] = true
			}
		}
	}

	var out []vectorstore.CollectionInfo
	for _, info := range infos {
		id := identityOf(info)
		if id == "" {
			continue
		}
		switch {
		case model != "":
			if !want[id] {
				continue
			}
		case provider != "":
			if id.Provider() != provider {
				continue
			}
		}
		out = append(out, info)
	}
	return out
}

func identityOf(info vectorstore.CollectionInfo) collections.ModelIdentity {
	if info.ModelID != "" {
		return collections.ModelIdentity(info.ModelID)
	}
	id, err := collections.ParseName(info.Name)
	if err != nil {
		return ""
	}
	return id
}

// rank orders matches by member count descending, then name.
func rank(infos []vectorstore.CollectionInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].MemberCount != infos[j].MemberCount {
			return infos[i].MemberCount > infos[j].MemberCount
		}
		return infos[i].Name < infos[j].Name
	})
}

// Resolver resolves requests against one index.
type Resolver struct {
	index   *vectorstore.Index
	factory ProviderFactory
	logger  *zap.Logger
}

// New returns a Resolver.
func New(index *vectorstore.Index, factory ProviderFactory, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{index: index, factory: factory, logger: logger}
}

// Resolve returns the best matching collection, creating one for the
// requested (or configured) model when nothing matches.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	res, err := r.resolve(ctx, req)
	if errors.Is(err, ErrNoMatchingCollection) {
		return r.create(ctx, req)
	}
	return res, err
}

// Strict is Resolve without the create fallback.
func (r *Resolver) Strict(ctx context.Context, req Request) (*Resolution, error) {
	return r.resolve(ctx, req)
}

func (r *Resolver) resolve(ctx context.Context, req Request) (*Resolution, error) {
	infos, err := r.index.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	matches := Match(infos, req.Provider, req.Model)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: provider=%q model=%q", ErrNoMatchingCollection, req.Provider, req.Model)
	}
	rank(matches)
	best, alternatives := matches[0], matches[1:]

	if len(alternatives) > 0 {
		names := make([]string, len(alternatives))
		for i, a := range alternatives {
			names[i] = describe(a, false)
		}
		r.logger.Warn("several collections match, using the largest",
			zap.String("selected", describe(best, false)),
			zap.Strings("alternatives", names),
		)
	}

	provider, err := r.providerFor(ctx, best)
	if err != nil {
		return nil, err
	}
	coll, err := r.index.Collection(ctx, best.Name)
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	if err := checkDimension(ctx, provider, coll, r.logger); err != nil {
		_ = provider.Close()
		return nil, err
	}

	return &Resolution{
		Collection:   coll,
		Provider:     provider,
		Info:         best,
		Alternatives: alternatives,
		Descriptor:   describe(best, false),
	}, nil
}

// providerFor rebuilds the provider that populated a collection, from its
// stored provider and model name or, failing that, the model catalogue.
func (r *Resolver) providerFor(ctx context.Context, info vectorstore.CollectionInfo) (embeddings.Provider, error) {
	providerName, model := info.Provider, info.ModelName
	if providerName == "" || model == "" {
		id := identityOf(info)
		if m, ok := embeddings.LookupIdentity(id); ok {
			providerName, model = m.Provider, m.Name
		} else {
			providerName, model = id.Provider(), id.Model()
			r.logger.Warn("collection lacks model metadata, guessing model name from identity",
				zap.String("collection", info.Name),
				zap.String("model", model),
			)
		}
	}
	p, err := r.factory(ctx, providerName, model)
	if err != nil {
		return nil, fmt.Errorf("building provider for %s: %w", info.Name, err)
	}
	return p, nil
}

// checkDimension rejects a provider whose vectors cannot be stored in coll.
// A provider that cannot report its dimension is let through; its embed
// calls will fail on their own.
func checkDimension(ctx context.Context, p embeddings.Provider, coll *vectorstore.Collection, logger *zap.Logger) error {
	dim, err := p.Dimension(ctx)
	if err != nil {
		logger.Warn("provider dimension unknown", zap.String("collection", coll.Name()), zap.Error(err))
		return nil
	}
	if dim != coll.Dimension() {
		return fmt.Errorf("%w: %s produces %d dimensions, %s stores %d",
			vectorstore.ErrDimensionMismatch, p.ModelIdentity(), dim, coll.Name(), coll.Dimension())
	}
	return nil
}

func (r *Resolver) create(ctx context.Context, req Request) (*Resolution, error) {
	p, err := r.factory(ctx, req.Provider, req.Model)
	if err != nil {
		return nil, err
	}
	dim, err := p.Dimension(ctx)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	spec := vectorstore.CollectionSpec{
		ModelID:   p.ModelIdentity(),
		Provider:  p.ProviderName(),
		ModelName: p.ModelName(),
		Dimension: dim,
	}

	_, existed, err := r.index.Backend().CollectionMeta(ctx, spec.Name())
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("%w: %v", vectorstore.ErrIndexUnavailable, err)
	}
	coll, err := r.index.OpenCollection(ctx, spec)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	st, err := coll.Stats(ctx)
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	res := &Resolution{
		Collection: coll,
		Provider:   p,
		Info:       st.CollectionInfo,
		IsNew:      !existed,
		Descriptor: describe(st.CollectionInfo, !existed),
	}
	r.logger.Info("no matching collection, using model collection",
		zap.String("collection", coll.Name()),
		zap.Bool("created", res.IsNew),
	)
	return res, nil
}
