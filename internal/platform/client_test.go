package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"revenue-service/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*HTTPClient, *int32) {
	t.Helper()

	var authCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/AuthToken", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&authCalls, 1)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ops", body["UserName"])
		_, _ = w.Write([]byte(`{"Token":"abc"}`))
	})
	mux.Handle("/", handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewHTTPClient(config.PlatformConfig{
		BaseURL:   srv.URL,
		AccountID: 86,
		Username:  "ops",
		Password:  "secret",
		Timeout:   5 * time.Second,
		TokenTTL:  1600 * time.Second,
	}, zap.NewNop())
	return c, &authCalls
}

func TestTransactionsPage(t *testing.T) {
	c, authCalls := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/Transact", r.URL.Path)
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "86", q.Get("AccountID"))
		assert.Equal(t, "500", q.Get("lastID"))
		assert.Equal(t, "False", q.Get("Older"))
		assert.Equal(t, "1000", q.Get("Limit"))
		_, _ = w.Write([]byte(`[{"ID": 502, "AccountID": 86}, {"ID": 501, "AccountID": 86}]`))
	}))

	ctx := context.Background()
	page, err := c.TransactionsPage(ctx, TransactionPageQuery{LastID: "500", Limit: 1000})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "502", page[0].String("ID"))

	_, err = c.TransactionsPage(ctx, TransactionPageQuery{LastID: "502", Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(authCalls), "token is cached")
}

func TestTransactionsPageRequiresLastID(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler())
	_, err := c.TransactionsPage(context.Background(), TransactionPageQuery{Limit: 10})
	assert.Error(t, err)
}

func TestTokenRenewedAfterTTL(t *testing.T) {
	c, authCalls := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	ctx := context.Background()
	_, err := c.UserAccountsPage(ctx, UserPageQuery{Limit: 10, LastID: 1})
	require.NoError(t, err)

	now = now.Add(1601 * time.Second)
	_, err = c.UserAccountsPage(ctx, UserPageQuery{Limit: 10, LastID: 1})
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(authCalls))
}

func TestUserAccountNotFound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/UserAccount/86/42/", r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"Message":"User account not found"}`))
	}))

	rec, err := c.UserAccount(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUserAccountUnwrapsList(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"ID": 42, "Balance": 12.5, "Bonus": 3}]`))
	}))

	rec, err := c.UserAccount(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, rec)
	bal, err := rec.Decimal("Balance")
	require.NoError(t, err)
	assert.Equal(t, "12.5", bal.String())
}

func TestAdjustLoyaltyPayload(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/UserAccount/86/42", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 7.5, body["Balance"])
		assert.Equal(t, true, body["SetExactValue"])
		assert.Equal(t, float64(3), body["TransType"])
		assert.Equal(t, float64(0), body["TransSubType"])
		_, hasBonus := body["Bonus"]
		assert.False(t, hasBonus)

		_, _ = w.Write([]byte(`{"ID": 42, "Balance": 7.5}`))
	}))

	balance := decimal.RequireFromString("7.5")
	resp, err := c.AdjustLoyalty(context.Background(), 42, AdjustPayload{
		Balance:        &balance,
		SetExactValue:  true,
		TransType:      3,
		AdditionalInfo: "cashout",
	})
	require.NoError(t, err)
	assert.True(t, resp.Confirmed())
}

func TestRecordConversions(t *testing.T) {
	rec := Record{
		"ID":      json.Number("123"),
		"Amount":  json.Number("4.25"),
		"Float":   2.5,
		"Empty":   "",
		"Nil":     nil,
		"Bad":     "abc",
		"Flag":    true,
		"When":    "2024-03-01T15:04:05.123",
		"WhenTZ":  "2024-03-01T15:04:05-05:00",
		"TextInt": "77",
	}

	n, ok, err := rec.Int64("ID")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(123), n)

	n, ok, err = rec.Int64("TextInt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(77), n)

	_, ok, err = rec.Int64("Nil")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = rec.Int64("Bad")
	assert.Error(t, err)

	d, err := rec.Decimal("Amount")
	require.NoError(t, err)
	assert.Equal(t, "4.25", d.String())

	d, err = rec.Decimal("Missing")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	b, err := rec.Bool("Flag")
	require.NoError(t, err)
	assert.True(t, b)

	when, ok, err := rec.Time("When", time.UTC)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 15, 4, 5, 123000000, time.UTC), when)

	when, _, err = rec.Time("WhenTZ", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 20, 4, 5, 0, time.UTC), when.UTC())
}
