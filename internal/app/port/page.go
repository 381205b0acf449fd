package port

import (
	"context"

	"wallet_playground/internal/domain/entity"
)

// PageService is the view-model behind the page. Every failure is an *entity.OperationError.
type PageService interface {
	Connect(ctx context.Context, opts entity.ConnectOptions) error
	Disconnect(ctx context.Context) error
	SwitchChain(ctx context.Context, chainID uint64) error
	Refresh(ctx context.Context) error
	SignMessage(ctx context.Context) (string, error)
	SignTypedData(ctx context.Context) (string, error)
	SignIn(ctx context.Context, origin entity.Origin) (entity.SiweResult, error)
	Verify(ctx context.Context) (*entity.VerificationOutcome, error)
	SendTransaction(ctx context.Context) (string, error)
	State() entity.ViewState
	Config() SessionConfig
}
