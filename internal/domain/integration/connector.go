package integration

import (
	"context"
)

// Actor naming convention carried over from the automation platform:
// agents are "AI:<role>", humans are "Human:<address>".
const (
	ActorAccountant = "AI:Accountant"
	ActorController = "AI:Controller"
	ActorCFO        = "AI:CFO"
)

// Params is the opaque parameter bag an agent supplies for one operation.
// Connectors validate and interpret it per operation.
type Params map[string]any

// Response is the settled result of one connector operation. Attempts
// counts every underlying network attempt, including the successful one.
type Response struct {
	ConnectorID string         `json:"connector_id"`
	Operation   string         `json:"operation"`
	StatusCode  int            `json:"status_code"`
	Data        map[string]any `json:"data"`
	Attempts    int            `json:"attempts"`
}

// Connector is the per-external-system facade. One logical Invoke
// composes rate limiting, credential acquisition, the network call, and
// retry classification. Connectors never write to the audit ledger; that
// is the integration facade's job, so connector logic stays reusable and
// ledger writing stays uniform.
type Connector interface {
	// ID returns the connector identity used for rate buckets,
	// credential state, and ledger actions.
	ID() string

	// Operations lists the operation names this connector serves.
	Operations() []string

	// Invoke executes one named operation. The returned error, if any,
	// is one of the typed failures in this package.
	Invoke(ctx context.Context, operation string, params Params) (*Response, error)
}
