package testutil

import (
	"context"

	"twingate/internal/backend"
	"twingate/internal/domain"

	"github.com/stretchr/testify/mock"
)

// MockBackend is a mock for the verification and mint API
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) StartVerification(ctx context.Context, req backend.StartRequest) (*backend.StartResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.StartResult), args.Error(1)
}

func (m *MockBackend) CheckVerificationStatus(ctx context.Context, token string) (*backend.CheckResult, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.CheckResult), args.Error(1)
}

func (m *MockBackend) RequestSBTMint(ctx context.Context, req backend.MintRequest) (*backend.MintResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.MintResult), args.Error(1)
}

func (m *MockBackend) CheckMintStatus(ctx context.Context, mintRequestID string) (*backend.MintStatusResult, error) {
	args := m.Called(ctx, mintRequestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.MintStatusResult), args.Error(1)
}

// MockGroupRepository is a mock for GroupRepository
type MockGroupRepository struct {
	mock.Mock
}

func (m *MockGroupRepository) Register(ctx context.Context, g *domain.Group) (*domain.Group, error) {
	args := m.Called(ctx, g)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Group), args.Error(1)
}

func (m *MockGroupRepository) Get(ctx context.Context, chatID int64) (*domain.Group, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Group), args.Error(1)
}

func (m *MockGroupRepository) IncrementReferrals(ctx context.Context, chatID int64) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}
