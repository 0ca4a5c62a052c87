// Package pipeline composes detectors, a score aggregator, a resolver, and
// per-action handlers into the request/response entry points (spec §4.2).
package pipeline

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/sentinel/internal/detect"
	"github.com/skywalker-88/sentinel/internal/handle"
	"github.com/skywalker-88/sentinel/internal/score"
	"github.com/skywalker-88/sentinel/pkg/metrics"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

// Resolver turns a route and ThreatScore into the cascaded action list,
// implemented by route.ThresholdResolver so the per-route multi-level
// thresholds (spec §4.4) vary by the request's matched route.
type Resolver interface {
	Resolve(route string, ts waf.ThreatScore) []waf.Action
}

// Builder assembles a Pipeline with a small fluent surface, mirroring how
// the teacher's router builder chains middleware registration.
type Builder struct {
	detectors  []detect.Detector
	aggregator score.Aggregator
	resolver   Resolver
	handlers   map[string]handle.Handler
}

func New() *Builder {
	return &Builder{
		aggregator: score.MaxScoreAggregator{},
		handlers:   make(map[string]handle.Handler),
	}
}

// Sync registers detectors that run synchronously in the request/response
// phases. The name mirrors the spec's own vocabulary for the builder step.
func (b *Builder) Sync(detectors ...detect.Detector) *Builder {
	b.detectors = append(b.detectors, detectors...)
	return b
}

func (b *Builder) Score(a score.Aggregator) *Builder {
	b.aggregator = a
	return b
}

func (b *Builder) Resolve(r Resolver) *Builder {
	b.resolver = r
	return b
}

func (b *Builder) On(h handle.Handler) *Builder {
	b.handlers[h.ActionType()] = h
	return b
}

func (b *Builder) Build() *Pipeline {
	request := make([]detect.Detector, 0, len(b.detectors))
	response := make([]detect.Detector, 0, len(b.detectors))
	for _, d := range b.detectors {
		if !d.Enabled() {
			continue
		}
		switch d.Phase() {
		case detect.PhaseRequest:
			request = append(request, d)
		case detect.PhaseResponse:
			response = append(response, d)
		}
	}
	sort.Slice(request, func(i, j int) bool { return request[i].Priority() > request[j].Priority() })
	sort.Slice(response, func(i, j int) bool { return response[i].Priority() > response[j].Priority() })

	return &Pipeline{
		request:    request,
		response:   response,
		aggregator: b.aggregator,
		resolver:   b.resolver,
		handlers:   b.handlers,
	}
}

// Pipeline is the built, immutable detection/decision engine.
type Pipeline struct {
	request    []detect.Detector
	response   []detect.Detector
	aggregator score.Aggregator
	resolver   Resolver
	handlers   map[string]handle.Handler
}

// Process runs every request-phase detector in descending-priority order,
// short-circuiting at the first positive hit (spec §4.2, §9 decision), then
// scores, resolves, and dispatches the resulting Decision.
func (p *Pipeline) Process(ctx context.Context, rc *detect.RequestContext) waf.Decision {
	results := p.runRequest(ctx, rc)
	return p.decide(ctx, rc, results)
}

// ProcessResponse runs response-phase detectors (failure-threshold, brute
// force) against the upstream response and dispatches their Decision. It is
// called after the proxy has already written the response.
func (p *Pipeline) ProcessResponse(ctx context.Context, rc *detect.RequestContext, resp *detect.ResponseInfo) waf.Decision {
	results := p.runResponse(ctx, rc, resp)
	return p.decide(ctx, rc, results)
}

func (p *Pipeline) runRequest(ctx context.Context, rc *detect.RequestContext) []waf.DetectorResult {
	for _, d := range p.request {
		res, err := d.DetectRequest(ctx, rc)
		if err != nil {
			log.Warn().Err(err).Str("detector", d.Name()).Msg("detector_error")
			continue
		}
		if res == nil || !res.Detected {
			continue
		}
		res.DetectorName = d.Name()
		metrics.DetectionsTotal.WithLabelValues(d.Name(), string(res.AttackType)).Inc()
		return []waf.DetectorResult{*res}
	}
	return nil
}

func (p *Pipeline) runResponse(ctx context.Context, rc *detect.RequestContext, resp *detect.ResponseInfo) []waf.DetectorResult {
	for _, d := range p.response {
		res, err := d.DetectResponse(ctx, rc, resp)
		if err != nil {
			log.Warn().Err(err).Str("detector", d.Name()).Msg("detector_error")
			continue
		}
		if res == nil || !res.Detected {
			continue
		}
		res.DetectorName = d.Name()
		metrics.DetectionsTotal.WithLabelValues(d.Name(), string(res.AttackType)).Inc()
		return []waf.DetectorResult{*res}
	}
	return nil
}

func (p *Pipeline) decide(ctx context.Context, rc *detect.RequestContext, results []waf.DetectorResult) waf.Decision {
	ts := p.aggregator.Aggregate(results)
	metrics.ScoreBucket.WithLabelValues(rc.Route).Observe(float64(ts.Score))

	var actions []waf.Action
	if p.resolver != nil {
		actions = p.resolver.Resolve(rc.Route, ts)
	}
	decision := waf.NewDecision(actions, ts)
	p.dispatch(ctx, rc, decision)
	return decision
}

// dispatch runs each action's handler independently, recovering from
// panics and logging errors without ever mutating the already-built
// Decision (spec §4.5).
func (p *Pipeline) dispatch(ctx context.Context, rc *detect.RequestContext, decision waf.Decision) {
	for _, action := range decision.Actions() {
		h, ok := p.handlers[action.Type]
		if !ok {
			continue
		}
		p.runHandler(ctx, h, handle.Context{
			Req:      rc.Req,
			Route:    rc.Route,
			ClientID: rc.ClientID,
			Action:   action,
			Score:    decision.Score(),
		})
	}
}

func (p *Pipeline) runHandler(ctx context.Context, h handle.Handler, hc handle.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("handler", h.ActionType()).Msg("handler_panic")
			metrics.HandlerErrorsTotal.WithLabelValues(h.ActionType()).Inc()
		}
	}()
	if err := h.Handle(ctx, hc); err != nil {
		log.Error().Err(err).Str("handler", h.ActionType()).Msg("handler_error")
		metrics.HandlerErrorsTotal.WithLabelValues(h.ActionType()).Inc()
	}
	metrics.ActionsTotal.WithLabelValues(h.ActionType()).Inc()
}
