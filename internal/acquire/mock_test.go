package acquire

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/harborview-partners/enrich-cli/pkg/firecrawl"
	"github.com/harborview-partners/enrich-cli/pkg/jina"
)

type mockJina struct {
	mock.Mock
}

func (m *mockJina) Read(ctx context.Context, targetURL string) (*jina.ReadResponse, error) {
	args := m.Called(ctx, targetURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.ReadResponse), args.Error(1)
}

type mockFirecrawl struct {
	mock.Mock
}

func (m *mockFirecrawl) Scrape(ctx context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*firecrawl.ScrapeResponse), args.Error(1)
}
