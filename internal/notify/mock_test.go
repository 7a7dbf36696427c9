package notify

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/harborview-partners/enrich-cli/pkg/resend"
)

type mockResend struct {
	mock.Mock
}

func (m *mockResend) SendEmail(ctx context.Context, req resend.EmailRequest) (*resend.EmailResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*resend.EmailResponse), args.Error(1)
}
