package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/skywalker-88/sentinel/internal/blocklist"
	"github.com/skywalker-88/sentinel/internal/detect"
	"github.com/skywalker-88/sentinel/internal/handle"
	"github.com/skywalker-88/sentinel/internal/httpserver"
	Lm "github.com/skywalker-88/sentinel/internal/middleware"
	"github.com/skywalker-88/sentinel/internal/pipeline"
	"github.com/skywalker-88/sentinel/internal/rl"
	"github.com/skywalker-88/sentinel/internal/route"
	"github.com/skywalker-88/sentinel/internal/score"
	"github.com/skywalker-88/sentinel/internal/store"
	"github.com/skywalker-88/sentinel/pkg/config"
	"github.com/skywalker-88/sentinel/pkg/waf"
)

// MakeReverseProxy lives in main: build once, inject into the router.
// Director sets standard X-Forwarded-* headers; ErrorHandler returns JSON 502.
func MakeReverseProxy(target string) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	rp := httputil.NewSingleHostReverseProxy(u)

	orig := rp.Director
	rp.Director = func(req *http.Request) {
		// capture client/host/proto BEFORE director mutates the request
		origHost := req.Host
		origProto := "http"
		if req.TLS != nil {
			origProto = "https"
		}
		if v := req.Header.Get("X-Forwarded-Proto"); v != "" {
			origProto = v
		}

		client := req.RemoteAddr
		if host, _, err := net.SplitHostPort(client); err == nil && host != "" {
			client = host
		}
		xff := req.Header.Get("X-Forwarded-For")

		// apply default director changes (scheme/host/path rewrite)
		orig(req)

		// set forwarded headers
		if xff == "" {
			req.Header.Set("X-Forwarded-For", client)
		} else {
			req.Header.Set("X-Forwarded-For", xff+", "+client)
		}
		req.Header.Set("X-Forwarded-Host", origHost)
		req.Header.Set("X-Forwarded-Proto", origProto)
	}

	rp.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, _ error) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"bad_gateway"}` + "\n"))
	}

	return rp, nil
}

func main() {
	// ------- Logging setup -------
	// Console pretty logs; change LOG_LEVEL to "debug" to see detector debug lines.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	switch strings.ToLower(getenv("LOG_LEVEL", "info")) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// ---- Flags (override config file values; see pkg/config.Load) ----
	fs := flag.NewFlagSet("sentinel", flag.ContinueOnError)
	cfgPathFlag := fs.String("config", "", "path to policies.yaml (overrides STORMGATE_CONFIG)")
	addrFlag := fs.String("addr", "", "http listen address (overrides STORMGATE_HTTP_ADDR)")
	_ = fs.Parse(os.Args[1:])

	cfgPath := *cfgPathFlag
	if cfgPath == "" {
		cfgPath = os.Getenv("STORMGATE_CONFIG")
	}
	cfg, err := config.Load(cfgPath, fs)
	if err != nil {
		log.Fatal().Err(err).Str("config", cfgPath).Msg("load config")
	}

	// Redis client: backs the rate limiter, the behavior counters, and every
	// store.KV/Cache/Queue role the blocklist subsystem needs (spec §6).
	rdb := redis.NewClient(&redis.Options{
		Addr:     getenv("REDIS_ADDR", cfg.Redis.Addr, "redis:6379"),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	limiter := rl.New(rdb)
	mitigator := rl.NewRedisMitigator(rdb)
	rlmw := Lm.NewRateLimiter(limiter, cfg, mitigator)

	kv := store.NewRedisKV(rdb)
	cache := store.NewRedisCache(rdb)
	queue := store.NewRedisStreamQueue(rdb, "sentinel:blocklist:queue", "sentinel:blocklist:consumers")

	blCfg := blocklistConfig(cfg)
	blReader := blocklist.NewReader(blCfg, kv, cache)
	blWriter := blocklist.NewWriter(blCfg, kv, cache, queue)

	// Background workers: the async reconciliation consumer and the cron
	// rebuild pass (spec §4.6.3, §4.6.4). Only started in cuckoo mode.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	if blCfg.CuckooMode {
		if err := queue.EnsureGroup(workerCtx); err != nil {
			log.Warn().Err(err).Msg("blocklist_queue_group_setup_failed")
		}
		consumer := blocklist.NewConsumer(blCfg, kv, queue)
		go consumer.Run(workerCtx)

		rebuildInterval := config.Seconds(cfg.Blocklist.RebuildIntervalSeconds)
		if rebuildInterval <= 0 {
			rebuildInterval = time.Hour
		}
		rebuilder := blocklist.NewRebuilder(blCfg, kv)
		go rebuilder.RunOnSchedule(workerCtx, rebuildInterval)
	}

	pl := buildPipeline(cfg, limiter, kv, blReader, blWriter)

	// Build reverse proxy target (backend may not exist yet — that's fine; we'll return 502)
	backend := getenv("BACKEND_URL", "http://demo-backend:8081")
	proxy, err := MakeReverseProxy(backend)
	if err != nil {
		log.Fatal().Err(err).Str("backend", backend).Msg("invalid BACKEND_URL")
	}

	// Build router (handles /health, /metrics, dev /read & /search; mounts proxy under /api/* per router)
	router, cleanup := httpserver.NewRouter(httpserver.RouterDeps{
		Cfg:             cfg,
		RL:              rlmw,
		Mitigator:       mitigator,
		Pipeline:        pl,
		BlocklistWriter: blWriter,
	}, proxy)

	// Startup logs
	addr := *addrFlag
	if addr == "" {
		addr = getenv("STORMGATE_HTTP_ADDR", ":8080")
	}
	if cfg.Server.Addr != "" && addr == ":8080" {
		addr = cfg.Server.Addr
	}
	log.Info().
		Str("addr", addr).
		Str("backend", backend).
		Str("config", cfgPath).
		Str("log_level", zerolog.GlobalLevel().String()).
		Bool("blocklist_cuckoo_mode", blCfg.CuckooMode).
		Msg("sentinel starting")

	// Non-fatal Redis ping
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not reachable yet")
	} else {
		log.Info().Msg("redis reachable")
	}
	pingCancel()

	// http.Server with sane timeouts
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,  // slowloris protection
		WriteTimeout:      15 * time.Second, // bound handler writes
		IdleTimeout:       60 * time.Second, // keep-alive lifetime
	}

	// Serve in background
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown requested; draining")

	httpserver.SetDraining(true)

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown did not complete in time; forcing close")
		_ = srv.Close()
	} else {
		log.Info().Msg("http server shut down cleanly")
	}
	shCancel()

	// Stop background workers (anomaly janitor, blocklist consumer/rebuild).
	if cleanup != nil {
		cleanup()
	}
	cancelWorkers()

	// Close external resources
	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close")
	} else {
		log.Info().Msg("redis closed")
	}

	log.Info().Msg("sentinel exited")
}

// blocklistConfig maps the YAML-facing pkg/config.Blocklist struct onto
// blocklist.Config, applying blocklist.DefaultConfig for anything left zero.
func blocklistConfig(cfg *config.Config) blocklist.Config {
	d := blocklist.DefaultConfig()
	b := cfg.Blocklist
	if b.KeyPrefix != "" {
		d.KeyPrefix = b.KeyPrefix
	}
	if v := config.Seconds(b.DefaultTTLSeconds); v > 0 {
		d.DefaultTTL = v
	}
	if v := config.Seconds(b.ReadCacheTTLSeconds); v > 0 {
		d.ReadCacheTTL = v
	}
	if v := config.Seconds(b.PendingTTLSeconds); v > 0 {
		d.PendingTTL = v
	}
	if v := config.Seconds(b.FilterCacheTTLSeconds); v > 0 {
		d.FilterCacheTTL = v
	}
	if b.FilterCapacity > 0 {
		d.FilterCapacity = b.FilterCapacity
	}
	d.VerifyWithKV = b.VerifyWithKV
	d.CuckooMode = b.CuckooMode
	return d
}

// buildPipeline wires every detector, the configured score aggregator, the
// per-route cascading resolver, and the action handlers into one Pipeline
// (spec §4.2). This is the one place that touches every detection module.
func buildPipeline(cfg *config.Config, limiter *rl.Limiter, kv store.KV, blReader *blocklist.Reader, blWriter *blocklist.Writer) *pipeline.Pipeline {
	b := pipeline.New()

	d := cfg.Detectors
	b.Sync(
		detect.NewSQLInjectionDetector(d.SQLInjection.Exclude),
		detect.NewXSSDetector(d.XSS.Exclude),
		detect.NewPathTraversalDetector(d.PathTraversal.Exclude),
		detect.NewSSRFDetector(d.SSRF.Exclude),
		detect.NewNoSQLInjectionDetector(d.NoSQLInjection.Exclude),
		detect.NewCommandInjectionDetector(d.CommandInjection.Exclude),
		detect.NewXXEDetector(d.XXE.Exclude),
		detect.NewSSTIDetector(d.SSTI.Exclude),
		detect.NewOpenRedirectDetector(d.OpenRedirect.Exclude),
		detect.NewSmugglingDetector(),
		detect.NewJWTDetector(d.JWT.Header, d.JWT.Exclude),
		detect.NewEntropyDetector(detect.EntropyConfig{
			Threshold:      d.Entropy.Threshold,
			MinLength:      d.Entropy.MinLength,
			SignalPatterns: d.Entropy.SignalPatterns,
			ExcludeFields:  d.Entropy.Exclude,
		}),
		detect.NewRateLimitDetector(limiter, cfg),
		detect.NewFailureThresholdDetector(kv, detect.FailureThresholdConfig{
			Name:      "brute_force",
			Statuses:  bruteForceStatuses(d.BruteForce.Statuses),
			Threshold: d.BruteForce.Threshold,
			Window:    config.Seconds(d.BruteForce.WindowSeconds),
			Priority:  65,
		}),
		detect.NewBlocklistDetector(blReader),
	)

	switch strings.ToLower(cfg.Scoring.Aggregator) {
	case "weighted":
		b.Score(score.NewWeightedAggregator(cfg.Scoring.Weights))
	default:
		b.Score(score.MaxScoreAggregator{})
	}

	b.Resolve(route.NewThresholdResolver(route.Config{
		Default: toWafLevels(cfg.Scoring.Default),
		Routes:  toWafRouteLevels(cfg.Scoring.Routes),
	}))

	b.On(handle.NewLogHandler())
	b.On(handle.NewNotifyHandler(handle.NotifyConfig{
		URL:        cfg.Handlers.Notify.URL,
		Timeout:    time.Duration(cfg.Handlers.Notify.TimeoutMs) * time.Millisecond,
		MaxRetries: cfg.Handlers.Notify.MaxRetries,
	}))
	b.On(handle.NewBlocklistHandler(blWriter, config.Seconds(cfg.Blocklist.DefaultTTLSeconds)))
	b.On(handle.NewReputationHandler(kv, config.Seconds(cfg.Handlers.Reputation.TTLSeconds),
		cfg.Handlers.Reputation.MinDelta, cfg.Handlers.Reputation.UseConfidence, cfg.Handlers.Reputation.SeverityDelta))

	return b.Build()
}

// bruteForceStatuses falls back to 401/403 (credential-guessing signal)
// when the policy file doesn't configure which statuses count as failures.
func bruteForceStatuses(configured []int) []int {
	if len(configured) > 0 {
		return configured
	}
	return []int{401, 403}
}

func toWafLevels(levels []config.ThresholdLevel) []waf.ThresholdLevel {
	out := make([]waf.ThresholdLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, waf.ThresholdLevel{MaxScore: l.MaxScore, Actions: l.Actions})
	}
	return out
}

func toWafRouteLevels(routes map[string][]config.ThresholdLevel) map[string][]waf.ThresholdLevel {
	out := make(map[string][]waf.ThresholdLevel, len(routes))
	for pattern, levels := range routes {
		out[pattern] = toWafLevels(levels)
	}
	return out
}

func getenv(k string, fallbacks ...string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	for _, f := range fallbacks {
		if f != "" {
			return f
		}
	}
	return ""
}
