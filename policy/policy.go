// Package policy decides whether a user may act on a resource. The rules
// live in an embedded rego module evaluated with OPA.
package policy

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

//go:embed authz.rego
var authzModule string

// Actions understood by the policy
const (
	ActionUsePassenger    = "passenger.use"
	ActionManagePassenger = "passenger.manage"
	ActionViewTicket      = "ticket.view"
	ActionRefundTicket    = "ticket.refund"
	ActionChangeTicket    = "ticket.change"
	ActionCheckInTicket   = "ticket.checkin"
	ActionViewOrder       = "order.view"
)

// RoleOperator may refund and view any ticket
const RoleOperator = "operator"

// Request describes one authorization question
type Request struct {
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
	Action  string `json:"action"`
	OwnerID string `json:"owner_id"`
}

// Authorizer evaluates requests against the prepared policy query
type Authorizer struct {
	query rego.PreparedEvalQuery
}

// New compiles the embedded policy
func New(ctx context.Context) (*Authorizer, error) {
	return NewFromModule(ctx, authzModule)
}

// NewFromModule compiles a policy that defines data.ticketing.authz.allow
func NewFromModule(ctx context.Context, module string) (*Authorizer, error) {
	query, err := rego.New(
		rego.Query("data.ticketing.authz.allow"),
		rego.Module("authz.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy: %w", err)
	}
	return &Authorizer{query: query}, nil
}

// Allowed reports whether the request is permitted
func (a *Authorizer) Allowed(ctx context.Context, req Request) (bool, error) {
	rs, err := a.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"user_id":  req.UserID,
		"role":     req.Role,
		"action":   req.Action,
		"owner_id": req.OwnerID,
	}))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	return rs.Allowed(), nil
}
