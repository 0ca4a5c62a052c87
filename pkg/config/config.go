package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	flag "github.com/spf13/pflag"
)

// ---- Server configuration ----

type Server struct {
	Addr string `yaml:"addr"`
}

type Identity struct {
	// "header:X-API-Key" or "ip"
	Source string `yaml:"source"`
}

// ---- Redis configuration ----

type Redis struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
}

// ---- Rate limiting policy ----

type Limit struct {
	RPS   float64 `yaml:"rps"`
	Burst int64   `yaml:"burst"`
	Cost  int64   `yaml:"cost"`
}

type Limits struct {
	Default      Limit            `yaml:"default"`
	Routes       map[string]Limit `yaml:"routes"`
	GlobalClient Limit            `yaml:"global_client"`
}

// ---- Anomaly detection policy ----

type Anomaly struct {
	Enabled               bool    `yaml:"enabled"`
	WindowSeconds         int     `yaml:"window_seconds"`
	Buckets               int     `yaml:"buckets"`
	ThresholdMultiplier   float64 `yaml:"threshold_multiplier"`
	EWMAAlpha             float64 `yaml:"ewma_alpha"`
	TTLSeconds            int     `yaml:"ttl_seconds"`
	EvictEverySeconds     int     `yaml:"evict_every_seconds"`
	KeepSuspiciousSeconds int     `yaml:"keep_suspicious_seconds"`
}

// ---- Mitigation policy ----

type StepRamp struct {
	Enabled     bool      `yaml:"enabled"`
	Steps       []float64 `yaml:"steps"`        // e.g., [0.5, 0.75, 1.0]
	StepSeconds int       `yaml:"step_seconds"` // informational; enforcement can choose how to use it
}

type RepeatOffender struct {
	WindowSeconds int `yaml:"window_seconds"` // M
	Threshold     int `yaml:"threshold"`      // N anomalies in window -> block
}

type Allowlist struct {
	Clients []string `yaml:"clients"` // client IDs (IP or API key) that skip mitigation
}

type Mitigation struct {
	MinRPS             float64        `yaml:"min_rps"`
	MinBurst           int            `yaml:"min_burst"`
	OverrideTTLSeconds int            `yaml:"override_ttl_seconds"`
	BlockTTLSeconds    int            `yaml:"block_ttl_seconds"`
	StepRamp           StepRamp       `yaml:"step_ramp"`
	RepeatOffender     RepeatOffender `yaml:"repeat_offender"`
	Allowlist          Allowlist      `yaml:"allowlist"`
}

// ---- Detector policy ----

// Detector configures one built-in detector's enable flag, exclude list and
// (where applicable) tuning knobs shared across the pattern-scanner family.
type Detector struct {
	Enabled bool     `yaml:"enabled"`
	Exclude []string `yaml:"exclude"`
}

type EntropyDetector struct {
	Detector       `yaml:",inline"`
	Threshold      float64  `yaml:"threshold"`
	MinLength      int      `yaml:"min_length"`
	SignalPatterns []string `yaml:"signal_patterns"`
}

type FailureThresholdDetector struct {
	Detector      `yaml:",inline"`
	Statuses      []int `yaml:"statuses"`
	Threshold     int64 `yaml:"threshold"`
	WindowSeconds int   `yaml:"window_seconds"`
}

type JWTDetector struct {
	Detector `yaml:",inline"`
	Header   string `yaml:"header"`
}

type Detectors struct {
	SQLInjection     Detector                 `yaml:"sql_injection"`
	XSS              Detector                 `yaml:"xss"`
	PathTraversal    Detector                 `yaml:"path_traversal"`
	SSRF             Detector                 `yaml:"ssrf"`
	NoSQLInjection   Detector                 `yaml:"nosql_injection"`
	CommandInjection Detector                 `yaml:"command_injection"`
	XXE              Detector                 `yaml:"xxe"`
	SSTI             Detector                 `yaml:"ssti"`
	OpenRedirect     Detector                 `yaml:"open_redirect"`
	Smuggling        Detector                 `yaml:"http_smuggling"`
	JWT              JWTDetector              `yaml:"jwt_attack"`
	Entropy          EntropyDetector          `yaml:"entropy"`
	RateLimit        Detector                 `yaml:"rate_limit"`
	BruteForce       FailureThresholdDetector `yaml:"brute_force"`
	Blocklist        Detector                 `yaml:"blocklist"`
}

// ---- Scoring / threshold policy ----

type ThresholdLevel struct {
	MaxScore int      `yaml:"max_score"`
	Actions  []string `yaml:"actions"`
}

type Scoring struct {
	// "max" (default) or "weighted"
	Aggregator string                      `yaml:"aggregator"`
	Default    []ThresholdLevel            `yaml:"default"`
	Routes     map[string][]ThresholdLevel `yaml:"routes"`
	// Weights keys WeightedAggregator's per-detector-name multiplier
	// (spec §4.3); a detector absent from the map uses weight 1.0.
	Weights map[string]float64 `yaml:"weights"`
}

// ---- Blocklist policy ----

type Blocklist struct {
	KeyPrefix              string `yaml:"key_prefix"`
	DefaultTTLSeconds      int    `yaml:"default_ttl_seconds"`
	ReadCacheTTLSeconds    int    `yaml:"read_cache_ttl_seconds"`
	PendingTTLSeconds      int    `yaml:"pending_ttl_seconds"`
	FilterCacheTTLSeconds  int    `yaml:"filter_cache_ttl_seconds"`
	FilterCapacity         int    `yaml:"filter_capacity"`
	VerifyWithKV           bool   `yaml:"verify_with_kv"`
	CuckooMode             bool   `yaml:"cuckoo_mode"`
	RebuildIntervalSeconds int    `yaml:"rebuild_interval_seconds"`
}

// ---- Handler policy ----

type Notify struct {
	URL        string `yaml:"url"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	MaxRetries int    `yaml:"max_retries"`
}

type Reputation struct {
	TTLSeconds int `yaml:"ttl_seconds"`
	// MinDelta floors the summed per-request reputation delta (spec §4.5
	// default -50). Zero/unset uses that default.
	MinDelta int `yaml:"min_delta"`
	// UseConfidence multiplies each detection's severity_delta by its
	// confidence; when false every detection contributes its full delta.
	UseConfidence bool `yaml:"use_confidence"`
	// SeverityDelta maps a Severity name (LOW/MEDIUM/HIGH/CRITICAL) to the
	// reputation delta a detection of that severity contributes.
	SeverityDelta map[string]int `yaml:"severity_delta"`
}

type Handlers struct {
	Notify     Notify     `yaml:"notify"`
	Reputation Reputation `yaml:"reputation"`
}

// ---------------------------

type Config struct {
	Server     Server     `yaml:"server"`
	Redis      Redis      `yaml:"redis"`
	Identity   Identity   `yaml:"identity"`
	Limits     Limits     `yaml:"limits"`
	Anomaly    Anomaly    `yaml:"anomaly"`
	Mitigation Mitigation `yaml:"mitigation"`
	Detectors  Detectors  `yaml:"detectors"`
	Scoring    Scoring    `yaml:"scoring"`
	Blocklist  Blocklist  `yaml:"blocklist"`
	Handlers   Handlers   `yaml:"handlers"`
}

// Load reads path, layering CLI flags registered on fs over it (flags take
// precedence over the file; fs may be nil to skip flag binding entirely).
func Load(path string, fs *flag.FlagSet) (*Config, error) {
	if path == "" {
		path = MustEnv("STORMGATE_CONFIG", "configs/policies.yaml")
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, err
	}
	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "yaml",
	}); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Seconds converts a config second-count to a time.Duration, treating <=0
// as "unset" so callers can apply their own default.
func Seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
