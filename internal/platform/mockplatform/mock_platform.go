// Package mockplatform provides a testify mock of platform.Client.
package mockplatform

import (
	"context"

	"github.com/stretchr/testify/mock"

	"revenue-service/internal/platform"
)

type Client struct {
	mock.Mock
}

func (m *Client) TransactionsPage(ctx context.Context, q platform.TransactionPageQuery) ([]platform.Record, error) {
	args := m.Called(ctx, q)
	page, _ := args.Get(0).([]platform.Record)
	return page, args.Error(1)
}

func (m *Client) UserAccountsPage(ctx context.Context, q platform.UserPageQuery) ([]platform.Record, error) {
	args := m.Called(ctx, q)
	page, _ := args.Get(0).([]platform.Record)
	return page, args.Error(1)
}

func (m *Client) UserAccount(ctx context.Context, userAccountID int64) (platform.Record, error) {
	args := m.Called(ctx, userAccountID)
	rec, _ := args.Get(0).(platform.Record)
	return rec, args.Error(1)
}

func (m *Client) AdjustLoyalty(ctx context.Context, userAccountID int64, p platform.AdjustPayload) (*platform.AdjustResponse, error) {
	args := m.Called(ctx, userAccountID, p)
	resp, _ := args.Get(0).(*platform.AdjustResponse)
	return resp, args.Error(1)
}
