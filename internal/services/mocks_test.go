package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/flightdeck/backend/internal/payments"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) CreateTransfer(ctx context.Context, req payments.TransferRequest) (*payments.Transfer, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Transfer), args.Error(1)
}

func (m *MockProcessor) RetrieveTransfer(ctx context.Context, transferID string) (*payments.Transfer, error) {
	args := m.Called(ctx, transferID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Transfer), args.Error(1)
}

func (m *MockProcessor) Balance(ctx context.Context) (*payments.Balance, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Balance), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, event any) error {
	args := m.Called(ctx, topic, event)
	return args.Error(0)
}
