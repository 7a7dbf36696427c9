package resolve

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/harborview-partners/enrich-cli/pkg/anthropic"
	"github.com/harborview-partners/enrich-cli/pkg/apollo"
	"github.com/harborview-partners/enrich-cli/pkg/jina"
)

type mockApollo struct {
	mock.Mock
}

func (m *mockApollo) SearchOrganizations(ctx context.Context, req apollo.OrganizationSearchRequest) (*apollo.OrganizationSearchResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apollo.OrganizationSearchResponse), args.Error(1)
}

func (m *mockApollo) MatchPerson(ctx context.Context, req apollo.PersonMatchRequest) (*apollo.PersonMatchResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apollo.PersonMatchResponse), args.Error(1)
}

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

type mockAnthropic struct {
	mock.Mock
}

func (m *mockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}
