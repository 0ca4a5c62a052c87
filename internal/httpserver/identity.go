package httpserver

import (
	"net/http"
	"strings"

	"github.com/skywalker-88/sentinel/pkg/config"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

// clientIdentity resolves the configured identity source (e.g.
// "header:X-API-Key"), falling back to the caller's IP address.
func clientIdentity(cfg *config.Config, r *http.Request) string {
	if cfg != nil {
		src := cfg.Identity.Source
		if strings.HasPrefix(strings.ToLower(src), "header:") {
			h := strings.TrimSpace(strings.SplitN(src, ":", 2)[1])
			if v := r.Header.Get(h); v != "" {
				return v
			}
		}
	}
	return waf.ClientIP(r)
}
