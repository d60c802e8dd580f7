package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/cmp/backend/internal/domain/integration"
	"github.com/cmp/backend/internal/domain/shared"
	"github.com/cmp/backend/internal/infrastructure/transport"
)

// Wio Bank operation names.
const (
	WioFetchTransactions = "fetch_transactions"
	WioGetBalance        = "get_balance"
)

// WioBankConnector integrates with the Wio business banking API. The API
// authenticates with a static key sent as an X-API-Key header; the key
// never expires, so its credential lifecycle is trivial.
type WioBankConnector struct {
	pipeline *Pipeline
	baseURL  string
}

// NewWioBankConnector creates a WioBankConnector on the given pipeline.
func NewWioBankConnector(pipeline *Pipeline) *WioBankConnector {
	return &WioBankConnector{
		pipeline: pipeline,
		baseURL:  pipeline.desc.BaseURL,
	}
}

var _ integration.Connector = (*WioBankConnector)(nil)

// ID returns the connector identity
func (c *WioBankConnector) ID() string {
	return c.pipeline.desc.ID
}

// Operations lists the operations this connector serves
func (c *WioBankConnector) Operations() []string {
	return []string{WioFetchTransactions, WioGetBalance}
}

// Invoke executes one named operation
func (c *WioBankConnector) Invoke(ctx context.Context, operation string, params integration.Params) (*integration.Response, error) {
	switch operation {
	case WioFetchTransactions:
		return c.fetchTransactions(ctx, params)
	case WioGetBalance:
		return c.getBalance(ctx, params)
	default:
		return nil, fmt.Errorf("%w: %s.%s", shared.ErrUnknownOperation, c.ID(), operation)
	}
}

// fetchTransactions lists account transactions in a date window.
func (c *WioBankConnector) fetchTransactions(ctx context.Context, params integration.Params) (*integration.Response, error) {
	accountID, _ := params["account_id"].(string)
	if accountID == "" {
		return nil, &integration.PermanentError{
			Err: fmt.Errorf("fetch_transactions: account_id is required: %w", shared.ErrInvalidInput),
		}
	}

	query := url.Values{}
	query.Set("account_id", accountID)
	if from, ok := params["from"].(string); ok && from != "" {
		query.Set("from", from)
	}
	if to, ok := params["to"].(string); ok && to != "" {
		query.Set("to", to)
	}

	resp, attempts, err := c.pipeline.Execute(ctx, WioFetchTransactions, func(token string) *transport.Request {
		return &transport.Request{
			Method: http.MethodGet,
			URL:    c.baseURL + "/transactions",
			Query:  query,
			Header: c.authHeader(token),
		}
	})
	if err != nil {
		return nil, err
	}
	return c.response(WioFetchTransactions, resp, attempts)
}

// getBalance reads the current balance of one account.
func (c *WioBankConnector) getBalance(ctx context.Context, params integration.Params) (*integration.Response, error) {
	accountID, _ := params["account_id"].(string)
	if accountID == "" {
		return nil, &integration.PermanentError{
			Err: fmt.Errorf("get_balance: account_id is required: %w", shared.ErrInvalidInput),
		}
	}

	resp, attempts, err := c.pipeline.Execute(ctx, WioGetBalance, func(token string) *transport.Request {
		return &transport.Request{
			Method: http.MethodGet,
			URL:    c.baseURL + "/accounts/" + url.PathEscape(accountID) + "/balance",
			Header: c.authHeader(token),
		}
	})
	if err != nil {
		return nil, err
	}
	return c.response(WioGetBalance, resp, attempts)
}

func (c *WioBankConnector) response(operation string, resp *transport.Response, attempts int) (*integration.Response, error) {
	data, err := resp.JSON()
	if err != nil {
		return nil, &integration.PermanentError{Err: err, StatusCode: resp.StatusCode}
	}
	return &integration.Response{
		ConnectorID: c.ID(),
		Operation:   operation,
		StatusCode:  resp.StatusCode,
		Data:        data,
		Attempts:    attempts,
	}, nil
}

func (c *WioBankConnector) authHeader(token string) http.Header {
	header := http.Header{}
	header.Set("X-API-Key", token)
	return header
}
