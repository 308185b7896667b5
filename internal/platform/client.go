// Package platform talks to the external payment platform that owns the
// transaction and user ledgers.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"revenue-service/internal/config"
	"revenue-service/pkg/common"
)

type TransactionPageQuery struct {
	LastID        string
	UserAccountID int64
	Limit         int
	Older         bool
}

type UserPageQuery struct {
	Limit         int
	LastID        int64
	Prev          bool
	ActivitySince *time.Time
}

// AdjustPayload changes a loyalty account. With SetExactValue the amounts
// replace the account values, otherwise they are added.
type AdjustPayload struct {
	Balance        *decimal.Decimal
	Bonus          *decimal.Decimal
	SetExactValue  bool
	TransType      int
	TransSubType   int
	AdditionalInfo string
}

func (p AdjustPayload) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"TransType":      p.TransType,
		"TransSubType":   p.TransSubType,
		"AdditionalInfo": p.AdditionalInfo,
	}
	if p.Balance != nil {
		out["Balance"] = json.Number(p.Balance.StringFixed(2))
	}
	if p.Bonus != nil {
		out["Bonus"] = json.Number(p.Bonus.StringFixed(2))
	}
	if p.SetExactValue {
		out["SetExactValue"] = true
	}
	return json.Marshal(out)
}

// AdjustResponse is the platform's answer to an adjustment. The platform
// returns the updated account, so any non-empty body confirms the change.
type AdjustResponse struct {
	Account Record
}

func (r *AdjustResponse) Confirmed() bool {
	return r != nil && len(r.Account) > 0
}

// Client is the subset of the platform API the revenue pipeline uses.
type Client interface {
	TransactionsPage(ctx context.Context, q TransactionPageQuery) ([]Record, error)
	UserAccountsPage(ctx context.Context, q UserPageQuery) ([]Record, error)
	// UserAccount returns nil when the platform does not know the account.
	UserAccount(ctx context.Context, userAccountID int64) (Record, error)
	AdjustLoyalty(ctx context.Context, userAccountID int64, p AdjustPayload) (*AdjustResponse, error)
}

type HTTPClient struct {
	baseURL   string
	accountID int64
	username  string
	password  string
	tokenTTL  time.Duration
	http      *http.Client
	logger    *zap.Logger

	mu       sync.Mutex
	token    string
	issuedAt time.Time
	now      func() time.Time
}

func NewHTTPClient(cfg config.PlatformConfig, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		accountID: cfg.AccountID,
		username:  cfg.Username,
		password:  cfg.Password,
		tokenTTL:  cfg.TokenTTL,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
		now:       time.Now,
	}
}

func (c *HTTPClient) TransactionsPage(ctx context.Context, q TransactionPageQuery) ([]Record, error) {
	if q.LastID == "" {
		return nil, errors.New("platform: transactions page requires a last id")
	}
	params := url.Values{}
	params.Set("AccountID", strconv.FormatInt(c.accountID, 10))
	params.Set("UserAccountID", strconv.FormatInt(q.UserAccountID, 10))
	params.Set("Limit", strconv.Itoa(q.Limit))
	params.Set("lastID", q.LastID)
	params.Set("Older", pyBool(q.Older))

	var out []Record
	if err := c.get(ctx, "/api/Transact?"+params.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) UserAccountsPage(ctx context.Context, q UserPageQuery) ([]Record, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("prev", pyBool(q.Prev))
	params.Set("lastID", strconv.FormatInt(q.LastID, 10))
	if q.ActivitySince != nil {
		params.Set("lastActivity", q.ActivitySince.Format("2006-01-02T15:04:05"))
	}

	var out []Record
	path := fmt.Sprintf("/api/UserAccount/%d?%s", c.accountID, params.Encode())
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) UserAccount(ctx context.Context, userAccountID int64) (Record, error) {
	var raw json.RawMessage
	err := c.get(ctx, fmt.Sprintf("/api/UserAccount/%d/%d/", c.accountID, userAccountID), &raw)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// The account endpoint answers with a one-element list.
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []Record
		if err := common.DecodeJSON(trimmed, &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, nil
		}
		return list[0], nil
	}
	var out Record
	if err := common.DecodeJSON(trimmed, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) AdjustLoyalty(ctx context.Context, userAccountID int64, p AdjustPayload) (*AdjustResponse, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return nil, err
	}

	var out Record
	endpoint := fmt.Sprintf("%s/api/UserAccount/%d/%d", c.baseURL, c.accountID, userAccountID)
	err = common.PostJSON(ctx, c.http, endpoint, p, c.headers(token), &out)
	if err != nil {
		c.logger.Error("Platform adjustment failed", zap.Int64("user_account_id", userAccountID), zap.Error(err))
		return nil, fmt.Errorf("platform adjust %d: %w", userAccountID, err)
	}
	return &AdjustResponse{Account: out}, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	token, err := c.authToken(ctx)
	if err != nil {
		return err
	}
	err = common.GetJSON(ctx, c.http, c.baseURL+path, c.headers(token), out)
	if err != nil && !isNotFound(err) {
		c.logger.Error("Platform request failed", zap.String("path", path), zap.Error(err))
	}
	return err
}

func (c *HTTPClient) headers(token string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + token,
		"Cache-Control": "no-cache",
	}
}

// authToken returns the cached session token, renewing it once it is older
// than the configured TTL.
func (c *HTTPClient) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Sub(c.issuedAt) < c.tokenTTL {
		return c.token, nil
	}

	var out struct {
		Token string `json:"Token"`
	}
	payload := map[string]string{"UserName": c.username, "Password": c.password}
	if err := common.PostJSON(ctx, c.http, c.baseURL+"/api/AuthToken", payload, nil, &out); err != nil {
		return "", fmt.Errorf("could not authenticate to platform API: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("could not authenticate to platform API: empty token")
	}
	c.token = out.Token
	c.issuedAt = c.now()
	return c.token, nil
}

func isNotFound(err error) bool {
	var httpErr *common.HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.StatusCode == http.StatusNotFound || strings.Contains(strings.ToLower(httpErr.Body), "not found")
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
