package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/mailindex/internal/config"
	"github.com/fyrsmithlabs/mailindex/internal/embeddings"
	"github.com/fyrsmithlabs/mailindex/internal/ingest"
	"github.com/fyrsmithlabs/mailindex/internal/logging"
	"github.com/fyrsmithlabs/mailindex/internal/mail/emldir"
	"github.com/fyrsmithlabs/mailindex/internal/resolver"
	"github.com/fyrsmithlabs/mailindex/internal/secrets"
	"github.com/fyrsmithlabs/mailindex/internal/vectorstore"
)

// Registry provides access to the mailindex services.
type Registry interface {
	Config() *config.Config
	Logger() *logging.Logger
	Index() *vectorstore.Index
	Resolver() *resolver.Resolver
	Embeddings() embeddings.Settings

	// Syncer builds the mail source and scrubber on first use.
	Syncer() (*ingest.Syncer, error)

	Close() error
}

// Options configures a registry with prebuilt services. Zero fields are
// built from Config where possible.
type Options struct {
	Config     *config.Config
	Logger     *logging.Logger
	Index      *vectorstore.Index
	Embeddings embeddings.Settings
	Factory    resolver.ProviderFactory
	Source     ingest.Source
	Scrubber   *secrets.Scrubber
}

type registry struct {
	cfg      *config.Config
	logger   *logging.Logger
	index    *vectorstore.Index
	settings embeddings.Settings
	resolver *resolver.Resolver
	handles  *vectorstore.Handles

	source   ingest.Source
	scrubber *secrets.Scrubber
	syncer   func() (*ingest.Syncer, error)
}

// NewRegistry creates a registry from opts. Index is required.
func NewRegistry(opts Options) Registry {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	r := &registry{
		cfg:      opts.Config,
		logger:   opts.Logger,
		index:    opts.Index,
		settings: opts.Embeddings,
		source:   opts.Source,
		scrubber: opts.Scrubber,
	}
	factory := opts.Factory
	if factory == nil {
		factory = r.newProvider
	}
	r.resolver = resolver.New(opts.Index, factory, opts.Logger.Underlying())
	r.syncer = sync.OnceValues(r.buildSyncer)
	return r
}

// Open builds every service from cfg.
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger) (Registry, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	settings, err := embeddings.SettingsFromConfig(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("embeddings config: %w", err)
	}

	handles := vectorstore.NewHandles(logger.Underlying())
	ix, err := vectorstore.Open(ctx, cfg.Index, handles, logger.Underlying())
	if err != nil {
		_ = handles.Close()
		return nil, err
	}

	reg := NewRegistry(Options{
		Config:     cfg,
		Logger:     logger,
		Index:      ix,
		Embeddings: settings,
	}).(*registry)
	reg.handles = handles
	return reg, nil
}

func (r *registry) Config() *config.Config          { return r.cfg }
func (r *registry) Logger() *logging.Logger         { return r.logger }
func (r *registry) Index() *vectorstore.Index       { return r.index }
func (r *registry) Resolver() *resolver.Resolver    { return r.resolver }
func (r *registry) Embeddings() embeddings.Settings { return r.settings }

func (r *registry) Syncer() (*ingest.Syncer, error) { return r.syncer() }

func (r *registry) newProvider(_ context.Context, provider, model string) (embeddings.Provider, error) {
	return embeddings.New(r.settings.With(provider, model), r.logger.Underlying().Named("embeddings"))
}

func (r *registry) buildSyncer() (*ingest.Syncer, error) {
	zl := r.logger.Underlying()
	source := r.source
	if source == nil {
		dir, err := config.ExpandPath(r.cfg.Sync.SourceDir)
		if err != nil {
			return nil, err
		}
		src, err := emldir.New(dir, zl.Named("emldir"))
		if err != nil {
			return nil, fmt.Errorf("mail source: %w", err)
		}
		source = src
	}

	scrubber := r.scrubber
	if scrubber == nil {
		allowlist, err := config.ExpandPath(r.cfg.Redaction.AllowlistFile)
		if err != nil {
			return nil, err
		}
		scrubber, err = secrets.New(secrets.Options{
			Enabled:       r.cfg.Redaction.Enabled,
			AllowlistFile: allowlist,
		}, zl.Named("secrets"))
		if err != nil {
			return nil, fmt.Errorf("secret scrubber: %w", err)
		}
	}
	return ingest.NewSyncer(source, scrubber, zl.Named("ingest")), nil
}

// Close closes the index and any chromem handles the registry opened.
func (r *registry) Close() error {
	var errs []error
	if r.index != nil {
		errs = append(errs, r.index.Close())
	}
	if r.handles != nil {
		errs = append(errs, r.handles.Close())
	}
	return errors.Join(errs...)
}
