// Package detect implements the detector capability (spec §4.1) and the
// built-in detector families.
package detect

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/skywalker-88/sentinel/pkg/waf"
)

// Phase names when a detector runs.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseResponse Phase = "response"
)

// RequestContext wraps one HTTP request with lazily-parsed, cached views
// (query params, body) so every detector pays the parse cost at most once.
// Detectors MUST NOT consume the body destructively (spec §4.1); cloning it
// here once, up front, is what makes that guarantee cheap to keep.
type RequestContext struct {
	Req      *http.Request
	Route    string
	ClientID string

	once        sync.Once
	bodyBytes   []byte
	jsonBody    any
	jsonBodyErr error
	formBody    map[string][]string
}

// NewRequestContext clones the body (if any) so detectors can inspect it
// repeatedly while the real handler still reads the original body later.
func NewRequestContext(r *http.Request, route, clientID string) *RequestContext {
	rc := &RequestContext{Req: r, Route: route, ClientID: clientID}
	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
		b, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MiB cap
		if err == nil {
			rc.bodyBytes = b
			r.Body = io.NopCloser(bytes.NewReader(b))
		}
	}
	return rc
}

// Body returns the cloned raw body bytes, or nil.
func (rc *RequestContext) Body() []byte { return rc.bodyBytes }

// JSONFields decodes the body as JSON (if Content-Type says so) and returns
// every string leaf with its dotted path. BAD_INPUT (parse failure) yields
// an empty slice, never an error surfaced to the caller (spec §7).
func (rc *RequestContext) JSONFields() []waf.JSONField {
	if !rc.isJSONBody() {
		return nil
	}
	rc.once.Do(rc.parseJSON)
	if rc.jsonBodyErr != nil || rc.jsonBody == nil {
		return nil
	}
	return waf.WalkJSON(rc.jsonBody)
}

func (rc *RequestContext) parseJSON() {
	if len(rc.bodyBytes) == 0 {
		return
	}
	rc.jsonBodyErr = json.Unmarshal(rc.bodyBytes, &rc.jsonBody)
}

func (rc *RequestContext) isJSONBody() bool {
	return strings.Contains(rc.Req.Header.Get("Content-Type"), "application/json")
}

func (rc *RequestContext) isFormBody() bool {
	return strings.Contains(rc.Req.Header.Get("Content-Type"), "application/x-www-form-urlencoded")
}

// FormFields parses an application/x-www-form-urlencoded body into
// dotted-path fields ("body.<name>").
func (rc *RequestContext) FormFields() []waf.JSONField {
	if !rc.isFormBody() || len(rc.bodyBytes) == 0 {
		return nil
	}
	if rc.formBody == nil {
		values, err := parseFormBody(string(rc.bodyBytes))
		if err != nil {
			return nil
		}
		rc.formBody = values
	}
	var out []waf.JSONField
	for k, vs := range rc.formBody {
		for _, v := range vs {
			out = append(out, waf.JSONField{Path: "body." + k, Value: v})
		}
	}
	return out
}

func parseFormBody(body string) (map[string][]string, error) {
	req, err := http.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := req.ParseForm(); err != nil {
		return nil, err
	}
	return map[string][]string(req.PostForm), nil
}

// QueryFields returns every query parameter as a dotted "query.<name>" field.
func (rc *RequestContext) QueryFields() []waf.JSONField {
	q := rc.Req.URL.Query()
	out := make([]waf.JSONField, 0, len(q))
	for name, values := range q {
		for _, v := range values {
			out = append(out, waf.JSONField{Path: "query." + name, Value: v})
		}
	}
	return out
}

// BodyFields returns JSON fields or form fields, whichever the content type
// selects (spec §4.1: recognized content types for POST/PUT/PATCH).
func (rc *RequestContext) BodyFields() []waf.JSONField {
	if !methodHasBody(rc.Req.Method) {
		return nil
	}
	if fields := rc.JSONFields(); len(fields) > 0 {
		return fields
	}
	return rc.FormFields()
}

func methodHasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// ResponseInfo is the minimal response-phase view a response detector needs.
type ResponseInfo struct {
	StatusCode int
	Header     http.Header
}
