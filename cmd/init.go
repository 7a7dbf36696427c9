package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harborview-partners/enrich-cli/internal/acquire"
	"github.com/harborview-partners/enrich-cli/internal/extract"
	"github.com/harborview-partners/enrich-cli/internal/notify"
	"github.com/harborview-partners/enrich-cli/internal/pipeline"
	"github.com/harborview-partners/enrich-cli/internal/resolve"
	"github.com/harborview-partners/enrich-cli/internal/schema"
	"github.com/harborview-partners/enrich-cli/internal/store"
	anthropicpkg "github.com/harborview-partners/enrich-cli/pkg/anthropic"
	"github.com/harborview-partners/enrich-cli/pkg/apollo"
	"github.com/harborview-partners/enrich-cli/pkg/firecrawl"
	"github.com/harborview-partners/enrich-cli/pkg/jina"
	"github.com/harborview-partners/enrich-cli/pkg/notion"
	"github.com/harborview-partners/enrich-cli/pkg/resend"
)

// initStore opens and migrates the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.SQLitePath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// loadSchemaRegistry returns the built-in entity-type descriptors with any
// configured overrides applied.
func loadSchemaRegistry() (*schema.Registry, error) {
	return schema.Load(cfg.Schema.Path)
}

// pipelineEnv holds the store, the runner, and the outbound clients needed
// by the enrich/batch/confirm/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Registry *schema.Registry
	Runner   *pipeline.Runner
	Notion   notion.Client // nil when not configured
	Notifier *notify.Notifier
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config for the given mode, opens the store, wires
// the API clients and builds the runner. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	reg, err := loadSchemaRegistry()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	// A timed-out acquisition surfaces as Unreachable, never a hang.
	acquireHTTP := &http.Client{Timeout: time.Duration(cfg.Pipeline.AcquireTimeoutSecs) * time.Second}
	jinaClient := jina.NewClient(cfg.Jina.Key,
		jina.WithBaseURL(cfg.Jina.BaseURL),
		jina.WithHTTPClient(acquireHTTP),
	)

	var firecrawlClient firecrawl.Client
	if cfg.Firecrawl.Key != "" {
		firecrawlClient = firecrawl.NewClient(cfg.Firecrawl.Key,
			firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL),
			firecrawl.WithHTTPClient(acquireHTTP),
		)
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	acq := acquire.New(jinaClient, firecrawlClient, acquire.Config{
		MinContentChars: cfg.Pipeline.MinContentChars,
	})
	ex := extract.New(anthropicClient, extract.Config{
		Model:         cfg.Anthropic.Model,
		MaxTokens:     cfg.Anthropic.MaxTokens,
		TruncateChars: cfg.Pipeline.TruncateChars,
	})

	var res *resolve.Resolver
	if cfg.Apollo.Key != "" {
		apolloClient := apollo.NewClient(cfg.Apollo.Key, apollo.WithBaseURL(cfg.Apollo.BaseURL))
		res = resolve.New(apolloClient, acq, ex, reg)
	}

	runner := pipeline.New(st, reg, acq, ex, res, pipeline.Config{
		BatchDelay: time.Duration(cfg.Batch.DelaySecs) * time.Second,
	})

	var notionClient notion.Client
	if cfg.Notion.Token != "" {
		notionClient = notion.NewClient(cfg.Notion.Token)
	}

	var resendClient resend.Client
	if cfg.Resend.Key != "" {
		resendClient = resend.NewClient(cfg.Resend.Key)
	}
	notifier := notify.New(resendClient, notify.Config{
		From:       cfg.Resend.From,
		Emails:     cfg.Notify.Emails,
		WebhookURL: cfg.Notify.WebhookURL,
	})

	return &pipelineEnv{
		Store:    st,
		Registry: reg,
		Runner:   runner,
		Notion:   notionClient,
		Notifier: notifier,
	}, nil
}
