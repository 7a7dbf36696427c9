package main

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/harborview-partners/enrich-cli/internal/model"
	"github.com/harborview-partners/enrich-cli/internal/pipeline"
)

type mockEnricher struct {
	mock.Mock
}

func (m *mockEnricher) EnrichOne(ctx context.Context, ref pipeline.Ref, opts pipeline.Options) (model.ItemResult, *model.PreviewResult) {
	args := m.Called(ctx, ref, opts)
	var preview *model.PreviewResult
	if args.Get(1) != nil {
		preview = args.Get(1).(*model.PreviewResult)
	}
	return args.Get(0).(model.ItemResult), preview
}

func (m *mockEnricher) RunBatch(ctx context.Context, refs []pipeline.Ref, opts pipeline.BatchOptions) (*model.BatchResult, error) {
	args := m.Called(ctx, refs, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BatchResult), args.Error(1)
}

func (m *mockEnricher) Confirm(ctx context.Context, ref pipeline.Ref, candidateID string) model.ItemResult {
	args := m.Called(ctx, ref, candidateID)
	return args.Get(0).(model.ItemResult)
}
