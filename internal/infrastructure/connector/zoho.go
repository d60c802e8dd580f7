package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/cmp/backend/internal/domain/integration"
	"github.com/cmp/backend/internal/domain/shared"
	"github.com/cmp/backend/internal/infrastructure/transport"
)

// Zoho Books operation names.
const (
	ZohoCreateInvoice   = "create_invoice"
	ZohoGetTransactions = "get_transactions"
)

// ZohoBooksConnector integrates with the Zoho Books accounting API.
// Authentication uses OAuth2 refresh-token grants; the access token is
// sent as a Zoho-oauthtoken authorization header.
type ZohoBooksConnector struct {
	pipeline       *Pipeline
	baseURL        string
	organizationID string
}

// NewZohoBooksConnector creates a ZohoBooksConnector on the given
// pipeline.
func NewZohoBooksConnector(pipeline *Pipeline, organizationID string) *ZohoBooksConnector {
	return &ZohoBooksConnector{
		pipeline:       pipeline,
		baseURL:        pipeline.desc.BaseURL,
		organizationID: organizationID,
	}
}

var _ integration.Connector = (*ZohoBooksConnector)(nil)

// ID returns the connector identity
func (c *ZohoBooksConnector) ID() string {
	return c.pipeline.desc.ID
}

// Operations lists the operations this connector serves
func (c *ZohoBooksConnector) Operations() []string {
	return []string{ZohoCreateInvoice, ZohoGetTransactions}
}

// Invoke executes one named operation
func (c *ZohoBooksConnector) Invoke(ctx context.Context, operation string, params integration.Params) (*integration.Response, error) {
	switch operation {
	case ZohoCreateInvoice:
		return c.createInvoice(ctx, params)
	case ZohoGetTransactions:
		return c.getTransactions(ctx, params)
	default:
		return nil, fmt.Errorf("%w: %s.%s", shared.ErrUnknownOperation, c.ID(), operation)
	}
}

// createInvoice posts a draft invoice. Monetary fields are validated as
// exact decimals before anything leaves the process; a malformed amount
// is a permanent failure, not something to retry.
func (c *ZohoBooksConnector) createInvoice(ctx context.Context, params integration.Params) (*integration.Response, error) {
	customerID, _ := params["customer_id"].(string)
	if customerID == "" {
		return nil, &integration.PermanentError{
			Err: fmt.Errorf("create_invoice: customer_id is required: %w", shared.ErrInvalidInput),
		}
	}

	body := map[string]any{
		"customer_id": customerID,
	}
	if ref, ok := params["reference_number"].(string); ok && ref != "" {
		body["reference_number"] = ref
	}

	lineItems, err := normalizeLineItems(params["line_items"])
	if err != nil {
		return nil, &integration.PermanentError{Err: err}
	}
	if len(lineItems) == 0 {
		return nil, &integration.PermanentError{
			Err: fmt.Errorf("create_invoice: at least one line item is required: %w", shared.ErrInvalidInput),
		}
	}
	body["line_items"] = lineItems

	resp, attempts, err := c.pipeline.Execute(ctx, ZohoCreateInvoice, func(token string) *transport.Request {
		return &transport.Request{
			Method: http.MethodPost,
			URL:    c.baseURL + "/invoices",
			Query:  c.commonQuery(),
			Header: c.authHeader(token),
			Body:   body,
		}
	})
	if err != nil {
		return nil, err
	}
	return c.response(ZohoCreateInvoice, resp, attempts)
}

// getTransactions lists bank transactions for reconciliation.
func (c *ZohoBooksConnector) getTransactions(ctx context.Context, params integration.Params) (*integration.Response, error) {
	query := c.commonQuery()
	if accountID, ok := params["account_id"].(string); ok && accountID != "" {
		query.Set("account_id", accountID)
	}
	if from, ok := params["date_start"].(string); ok && from != "" {
		query.Set("date_start", from)
	}
	if to, ok := params["date_end"].(string); ok && to != "" {
		query.Set("date_end", to)
	}

	resp, attempts, err := c.pipeline.Execute(ctx, ZohoGetTransactions, func(token string) *transport.Request {
		return &transport.Request{
			Method: http.MethodGet,
			URL:    c.baseURL + "/banktransactions",
			Query:  query,
			Header: c.authHeader(token),
		}
	})
	if err != nil {
		return nil, err
	}
	return c.response(ZohoGetTransactions, resp, attempts)
}

func (c *ZohoBooksConnector) response(operation string, resp *transport.Response, attempts int) (*integration.Response, error) {
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

func (c *ZohoBooksConnector) authHeader(token string) http.Header {
	header := http.Header{}
	header.Set("Authorization", "Zoho-oauthtoken "+token)
	return header
}

func (c *ZohoBooksConnector) commonQuery() url.Values {
	query := url.Values{}
	if c.organizationID != "" {
		query.Set("organization_id", c.organizationID)
	}
	return query
}

// normalizeLineItems validates line items and re-encodes monetary fields
// through decimal so "19.999" style inputs are rejected up front.
func normalizeLineItems(raw any) ([]map[string]any, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		if typed, okTyped := raw.([]map[string]any); okTyped {
			items = make([]any, len(typed))
			for i, item := range typed {
				items[i] = item
			}
		} else {
			return nil, fmt.Errorf("create_invoice: line_items must be a list: %w", shared.ErrInvalidInput)
		}
	}

	normalized := make([]map[string]any, 0, len(items))
	for i, rawItem := range items {
		item, ok := rawItem.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("create_invoice: line item %d is not an object: %w", i, shared.ErrInvalidInput)
		}

		out := make(map[string]any, len(item))
		for k, v := range item {
			out[k] = v
		}

		rate, err := parseMoney(item["rate"])
		if err != nil {
			return nil, fmt.Errorf("create_invoice: line item %d: %w", i, err)
		}
		out["rate"] = rate.StringFixed(2)

		quantity := 1.0
		if q, ok := item["quantity"].(float64); ok {
			quantity = q
		}
		if quantity <= 0 {
			return nil, fmt.Errorf("create_invoice: line item %d: quantity must be positive: %w", i, shared.ErrInvalidInput)
		}
		out["quantity"] = quantity

		normalized = append(normalized, out)
	}
	return normalized, nil
}

// parseMoney accepts a string or JSON number and returns an exact,
// non-negative decimal.
func parseMoney(raw any) (decimal.Decimal, error) {
	var (
		d   decimal.Decimal
		err error
	)
	switch v := raw.(type) {
	case string:
		d, err = decimal.NewFromString(v)
	case float64:
		d = decimal.NewFromFloat(v)
	case nil:
		return decimal.Zero, fmt.Errorf("rate is required: %w", shared.ErrInvalidInput)
	default:
		return decimal.Zero, fmt.Errorf("rate has unsupported type %T: %w", raw, shared.ErrInvalidInput)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate is not a valid decimal: %w", shared.ErrInvalidInput)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("rate cannot be negative: %w", shared.ErrInvalidInput)
	}
	return d, nil
}
