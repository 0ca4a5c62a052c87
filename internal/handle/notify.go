package handle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// NotifyConfig configures the webhook delivery the notify handler performs.
type NotifyConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
}

// notifyPayload is the JSON body posted to the configured webhook.
type notifyPayload struct {
	Route      string   `json:"route"`
	ClientID   string   `json:"client_id"`
	Score      int      `json:"score"`
	Level      string   `json:"level"`
	AttackType []string `json:"attack_types"`
}

// NotifyHandler delivers a best-effort webhook POST, retrying on transport
// errors and 5xx replies. Once retries are exhausted the last failure is
// returned to the pipeline, which logs it without changing the Decision; a
// notification is an alerting side channel, not a gate.
type NotifyHandler struct {
	cfg    NotifyConfig
	client *http.Client
}

func NewNotifyHandler(cfg NotifyConfig) *NotifyHandler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &NotifyHandler{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (*NotifyHandler) ActionType() string { return waf.ActionNotify }

func (h *NotifyHandler) Handle(ctx context.Context, hc Context) error {
	if h.cfg.URL == "" {
		return nil
	}

	types := make([]string, 0, len(hc.Score.Results))
	for _, r := range hc.Score.Results {
		types = append(types, string(r.AttackType))
	}
	body, err := json.Marshal(notifyPayload{
		Route:      hc.Route,
		ClientID:   hc.ClientID,
		Score:      hc.Score.Score,
		Level:      string(hc.Score.Level),
		AttackType: types,
	})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= h.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(req)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt).Msg("waf_notify_delivery_failed")
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < 500 {
			return nil
		}
		lastErr = fmt.Errorf("notify webhook returned %d", resp.StatusCode)
	}
	return lastErr
}
