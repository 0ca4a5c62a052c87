package httpserver

import (
	"net/http"

	"github.com/skywalker-88/sentinel/internal/detect"
	"github.com/skywalker-88/sentinel/internal/pipeline"
	"github.com/skywalker-88/sentinel/pkg/config"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

// responseRecorder captures the upstream status code so the response-phase
// detectors (failure-threshold, brute force) can see it after ServeHTTP
// returns, without buffering or altering the body.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

// wafMiddleware runs the detection pipeline's request phase before the
// wrapped handler and its response phase after, blocking before the
// handler ever runs if the request-phase Decision carries a block action.
func wafMiddleware(cfg *config.Config, pl *pipeline.Pipeline) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if pl == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := r.URL.Path
			if route == "/metrics" || route == "/health" {
				next.ServeHTTP(w, r)
				return
			}
			client := clientIdentity(cfg, r)
			rc := detect.NewRequestContext(r, route, client)

			decision := pl.Process(r.Context(), rc)
			if decision.Has(waf.ActionBlock) {
				writeBlocked(w)
				return
			}

			rr := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rr, rc.Req)

			pl.ProcessResponse(r.Context(), rc, &detect.ResponseInfo{
				StatusCode: rr.status,
				Header:     rr.Header(),
			})
		})
	}
}

func writeBlocked(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(`{"error":"blocked"}`))
}
