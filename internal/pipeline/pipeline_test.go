package pipeline_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalker-88/sentinel/internal/detect"
	"github.com/skywalker-88/sentinel/internal/handle"
	"github.com/skywalker-88/sentinel/internal/pipeline"
	"github.com/skywalker-88/sentinel/internal/score"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

// fakeDetector always returns a fixed result (or nil).
type fakeDetector struct {
	detect.Base
	detect.NoResponseDetection
	result *waf.DetectorResult
}

func (f *fakeDetector) DetectRequest(context.Context, *detect.RequestContext) (*waf.DetectorResult, error) {
	return f.result, nil
}

func newFakeDetector(name string, priority int, result *waf.DetectorResult) *fakeDetector {
	return &fakeDetector{Base: detect.NewBase(name, detect.PhaseRequest, priority, true), result: result}
}

// fakeResolver always maps any positive score to a fixed action list.
type fakeResolver struct{ actions []waf.Action }

func (f *fakeResolver) Resolve(route string, ts waf.ThreatScore) []waf.Action {
	if ts.Score <= 0 {
		return nil
	}
	return f.actions
}

// fakeHandler records whether it ran, and optionally errors or panics.
type fakeHandler struct {
	actionType string
	ran        bool
	err        error
	panics     bool
}

func (h *fakeHandler) ActionType() string { return h.actionType }
func (h *fakeHandler) Handle(ctx context.Context, hc handle.Context) error {
	h.ran = true
	if h.panics {
		panic("boom")
	}
	return h.err
}

func newRequestContext(t *testing.T) *detect.RequestContext {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/login", nil)
	return detect.NewRequestContext(req, "/api/login", "1.2.3.4")
}

func TestPipelineShortCircuitsOnFirstHit(t *testing.T) {
	hit := &waf.DetectorResult{Detected: true, AttackType: waf.SQLInjection, Severity: waf.SeverityHigh, Confidence: 1.0}
	second := newFakeDetector("second", 50, &waf.DetectorResult{Detected: true, AttackType: waf.XSS, Severity: waf.SeverityCritical, Confidence: 1.0})
	first := newFakeDetector("first", 100, hit)

	logHandler := &fakeHandler{actionType: "log"}
	pl := pipeline.New().
		Sync(first, second).
		Score(score.MaxScoreAggregator{}).
		Resolve(&fakeResolver{actions: []waf.Action{{Type: "log"}}}).
		On(logHandler).
		Build()

	decision := pl.Process(context.Background(), newRequestContext(t))
	require.Len(t, decision.Actions(), 1)
	assert.True(t, logHandler.ran)
	assert.Equal(t, waf.SQLInjection, decision.Score().Results[0].AttackType)
}

func TestPipelineNoDetectionYieldsNoActions(t *testing.T) {
	clean := newFakeDetector("clean", 10, nil)
	logHandler := &fakeHandler{actionType: "log"}
	pl := pipeline.New().
		Sync(clean).
		Resolve(&fakeResolver{actions: []waf.Action{{Type: "log"}}}).
		On(logHandler).
		Build()

	decision := pl.Process(context.Background(), newRequestContext(t))
	assert.Empty(t, decision.Actions())
	assert.False(t, logHandler.ran)
}

func TestPipelineDispatchIsolatesHandlerFailures(t *testing.T) {
	hit := &waf.DetectorResult{Detected: true, AttackType: waf.SQLInjection, Severity: waf.SeverityCritical, Confidence: 1.0}
	d := newFakeDetector("sqli", 100, hit)

	failing := &fakeHandler{actionType: "notify", err: errors.New("webhook down")}
	panicking := &fakeHandler{actionType: "block", panics: true}
	ok := &fakeHandler{actionType: "log"}

	pl := pipeline.New().
		Sync(d).
		Resolve(&fakeResolver{actions: []waf.Action{{Type: "log"}, {Type: "notify"}, {Type: "block"}}}).
		On(ok).On(failing).On(panicking).
		Build()

	decision := pl.Process(context.Background(), newRequestContext(t))
	require.Len(t, decision.Actions(), 3)
	assert.True(t, ok.ran)
	assert.True(t, failing.ran)
	assert.True(t, panicking.ran, "a panicking handler must not stop the others from running")
}

func TestPipelineDisabledDetectorNeverRuns(t *testing.T) {
	d := &fakeDetector{
		Base:   detect.NewBase("disabled", detect.PhaseRequest, 100, false),
		result: &waf.DetectorResult{Detected: true, AttackType: waf.SQLInjection, Severity: waf.SeverityHigh, Confidence: 1.0},
	}
	pl := pipeline.New().Sync(d).Resolve(&fakeResolver{actions: []waf.Action{{Type: "log"}}}).Build()

	decision := pl.Process(context.Background(), newRequestContext(t))
	assert.Empty(t, decision.Actions())
}
