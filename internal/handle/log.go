package handle

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// LogHandler emits a structured log line for the dispatched action.
type LogHandler struct{}

func NewLogHandler() *LogHandler { return &LogHandler{} }

func (*LogHandler) ActionType() string { return waf.ActionLog }

func (*LogHandler) Handle(_ context.Context, hc Context) error {
	log.Warn().
		Str("route", hc.Route).
		Str("client", hc.ClientID).
		Int("score", hc.Score.Score).
		Str("level", string(hc.Score.Level)).
		Int("detections", len(hc.Score.Results)).
		Msg("waf_action_log")
	return nil
}
