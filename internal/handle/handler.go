// Package handle implements the per-action-type handler dispatch (spec
// §4.5): each handler runs independently for its action type, and a
// handler's failure is logged and counted but never changes the Decision
// or stops other handlers from running.
package handle

import (
	"context"
	"net/http"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// Context carries everything a handler needs about the request that
// produced a Decision, without coupling handlers to the HTTP layer beyond
// the original *http.Request.
type Context struct {
	Req      *http.Request
	Route    string
	ClientID string
	Action   waf.Action
	Score    waf.ThreatScore
}

// Handler reacts to one dispatched action. Implementations must not panic;
// the pipeline recovers defensively but a well-behaved handler returns an
// error instead.
type Handler interface {
	ActionType() string
	Handle(ctx context.Context, hc Context) error
}
