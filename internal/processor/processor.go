// Package processor issues card reversals against the card-network gateway.
package processor

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"revenue-service/pkg/common"
)

// Credentials are the merchant credentials for one gateway environment.
type Credentials struct {
	LoginID        string
	TransactionKey string
	Endpoint       string
}

type ReversalRequest struct {
	// RefID is our reference, echoed back by the gateway.
	RefID string
	// RefTransactionID is the gateway id of the settled capture.
	RefTransactionID string
	LastFour         string
	Amount           decimal.Decimal
}

type Message struct {
	Code string
	Text string
}

type ReversalResponse struct {
	ResultCode    string
	TransactionID string
	Messages      []Message
	Errors        []Message
}

// OK reports a reversal the gateway accepted.
func (r *ReversalResponse) OK() bool {
	return r != nil && strings.EqualFold(r.ResultCode, "Ok") && len(r.Messages) > 0 && len(r.Errors) == 0
}

// Describe renders the gateway messages and errors for notifications.
func (r *ReversalResponse) Describe() string {
	if r == nil {
		return "no response"
	}
	var parts []string
	for _, e := range r.Errors {
		parts = append(parts, fmt.Sprintf("error %s: %s", e.Code, e.Text))
	}
	for _, m := range r.Messages {
		parts = append(parts, fmt.Sprintf("%s: %s", m.Code, m.Text))
	}
	if len(parts) == 0 {
		return "result " + r.ResultCode
	}
	return strings.Join(parts, "; ")
}

type Client interface {
	CreateReversal(ctx context.Context, req ReversalRequest) (*ReversalResponse, error)
}

// Gateway speaks the Authorize.Net JSON API.
type Gateway struct {
	creds  Credentials
	http   *http.Client
	logger *zap.Logger
}

func NewGateway(creds Credentials, httpClient *http.Client, logger *zap.Logger) *Gateway {
	if httpClient == nil {
		httpClient = common.DefaultClient
	}
	return &Gateway{creds: creds, http: httpClient, logger: logger}
}

type merchantAuthentication struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey"`
}

type creditCard struct {
	CardNumber     string `json:"cardNumber"`
	ExpirationDate string `json:"expirationDate"`
}

type payment struct {
	CreditCard creditCard `json:"creditCard"`
}

type retail struct {
	MarketType string `json:"marketType"`
	DeviceType string `json:"deviceType"`
}

// Field order follows the gateway schema, which is order sensitive.
type transactionRequest struct {
	TransactionType string  `json:"transactionType"`
	Amount          string  `json:"amount"`
	Payment         payment `json:"payment"`
	RefTransID      string  `json:"refTransId"`
	Retail          retail  `json:"retail"`
}

type createTransactionRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	RefID                  string                 `json:"refId,omitempty"`
	TransactionRequest     transactionRequest     `json:"transactionRequest"`
}

type envelope struct {
	CreateTransactionRequest createTransactionRequest `json:"createTransactionRequest"`
}

type apiResponse struct {
	TransactionResponse struct {
		ResponseCode string `json:"responseCode"`
		TransID      string `json:"transId"`
		Messages     []struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"messages"`
		Errors []struct {
			ErrorCode string `json:"errorCode"`
			ErrorText string `json:"errorText"`
		} `json:"errors"`
	} `json:"transactionResponse"`
	Messages struct {
		ResultCode string `json:"resultCode"`
		Message    []struct {
			Code string `json:"code"`
			Text string `json:"text"`
		} `json:"message"`
	} `json:"messages"`
}

func (g *Gateway) CreateReversal(ctx context.Context, req ReversalRequest) (*ReversalResponse, error) {
	body := envelope{CreateTransactionRequest: createTransactionRequest{
		MerchantAuthentication: merchantAuthentication{Name: g.creds.LoginID, TransactionKey: g.creds.TransactionKey},
		RefID:                  truncate(req.RefID, 20),
		TransactionRequest: transactionRequest{
			TransactionType: "refundTransaction",
			Amount:          req.Amount.StringFixed(2),
			Payment:         payment{CreditCard: creditCard{CardNumber: req.LastFour, ExpirationDate: "XXXX"}},
			RefTransID:      req.RefTransactionID,
			Retail:          retail{MarketType: "2", DeviceType: "2"},
		},
	}}

	g.logger.Info("Requesting card reversal",
		zap.String("ref_trans_id", req.RefTransactionID),
		zap.String("last_four", req.LastFour),
		zap.String("amount", req.Amount.StringFixed(2)),
	)

	var raw apiResponse
	if err := common.PostJSON(ctx, g.http, g.creds.Endpoint, body, nil, &raw); err != nil {
		return nil, fmt.Errorf("card reversal request: %w", err)
	}

	resp := &ReversalResponse{
		ResultCode:    raw.Messages.ResultCode,
		TransactionID: raw.TransactionResponse.TransID,
	}
	for _, m := range raw.TransactionResponse.Messages {
		resp.Messages = append(resp.Messages, Message{Code: m.Code, Text: m.Description})
	}
	for _, e := range raw.TransactionResponse.Errors {
		resp.Errors = append(resp.Errors, Message{Code: e.ErrorCode, Text: e.ErrorText})
	}
	if len(resp.Errors) == 0 && !strings.EqualFold(resp.ResultCode, "Ok") {
		for _, m := range raw.Messages.Message {
			resp.Errors = append(resp.Errors, Message{Code: m.Code, Text: m.Text})
		}
	}
	return resp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
