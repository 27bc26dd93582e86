package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pregrade/gateway/internal/config"
	"github.com/pregrade/gateway/internal/engine"
	"github.com/pregrade/gateway/internal/envelope"
	apierrors "github.com/pregrade/gateway/internal/errors"
	analyzehandler "github.com/pregrade/gateway/internal/handler/analyze"
	healthhandler "github.com/pregrade/gateway/internal/handler/health"
	jobshandler "github.com/pregrade/gateway/internal/handler/jobs"
	uploadshandler "github.com/pregrade/gateway/internal/handler/uploads"
	"github.com/pregrade/gateway/internal/jobs"
	"github.com/pregrade/gateway/internal/logging"
	"github.com/pregrade/gateway/internal/middleware/auth"
	"github.com/pregrade/gateway/internal/middleware/observability"
	"github.com/pregrade/gateway/internal/middleware/quota"
	"github.com/pregrade/gateway/internal/middleware/usagetrack"
	"github.com/pregrade/gateway/internal/ratelimit"
	"github.com/pregrade/gateway/internal/repository"
	pgrepo "github.com/pregrade/gateway/internal/repository/postgres"
	sqliterepo "github.com/pregrade/gateway/internal/repository/sqlite"
	"github.com/pregrade/gateway/internal/service/apikey"
	"github.com/pregrade/gateway/internal/service/usage"
	"github.com/pregrade/gateway/internal/uploads"
)

const healthPath = "/v1/health"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	if len(args) == 0 {
		args = []string{"serve"}
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:], out)
	case "tenant":
		return runTenant(args[1:], out)
	case "key":
		return runKey(args[1:], out)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(out, "unknown command: %s\n\n", args[0])
		printUsage(out)
		return 2
	}
}

func printUsage(out io.Writer) {
	fmt.Fprint(out, `pregrade-gateway

Usage:
  server serve   [-port P] [-engine URL] [-auth-mode MODE] [-rate-limit N] [-config FILE]
  server tenant  create -name NAME | list | delete -id ID
  server key     create -tenant ID [-label L] | revoke -id ID | list -tenant ID
`)
}

func runServe(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(out)
	port := fs.String("port", "", "listen port (overrides SERVER_PORT)")
	engineURL := fs.String("engine", "", "engine base URL (overrides ENGINE_BASE_URL)")
	authMode := fs.String("auth-mode", "", "auth mode: open, static or store")
	rateLimit := fs.Int("rate-limit", -1, "requests per minute per tenant, 0 disables")
	configFile := fs.String("config", "", "env file to load")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	opts := config.Options{ConfigFile: configFile}
	if *port != "" {
		opts.ServerPort = port
	}
	if *engineURL != "" {
		opts.EngineBaseURL = engineURL
	}
	if *authMode != "" {
		opts.AuthMode = authMode
	}
	if *rateLimit >= 0 {
		opts.RateLimitPerMinute = rateLimit
	}

	cfg, err := config.Load(opts)
	if err != nil {
		fmt.Fprintf(out, "config error: %v\n", err)
		return 1
	}

	logger := logging.NewLogger(slog.LevelInfo)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		return 1
	}
	return 0
}

type repositories struct {
	tenants repository.TenantRepository
	keys    repository.APIKeyRepository
	jobs    repository.JobRepository
	usage   repository.UsageEventRepository
	close   func()
}

func openRepositories(ctx context.Context, cfg config.Config) (*repositories, error) {
	switch cfg.DatabaseType {
	case config.DatabaseTypeSQLite:
		db, err := sqliterepo.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &repositories{
			tenants: sqliterepo.NewTenantRepo(db),
			keys:    sqliterepo.NewAPIKeyRepo(db),
			jobs:    sqliterepo.NewJobRepo(db),
			usage:   sqliterepo.NewUsageEventRepo(db),
			close:   func() { db.Close() },
		}, nil
	case config.DatabaseTypePostgres:
		pool, err := pgrepo.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &repositories{
			tenants: pgrepo.NewTenantRepo(pool),
			keys:    pgrepo.NewAPIKeyRepo(pool),
			jobs:    pgrepo.NewJobRepo(pool),
			usage:   pgrepo.NewUsageEventRepo(pool),
			close:   pool.Close,
		}, nil
	case config.DatabaseTypeNone:
		return &repositories{close: func() {}}, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	defer repos.close()

	var engineClient *engine.Client
	if cfg.EngineConfigured() {
		engineClient = engine.NewClient(cfg.EngineBaseURL, cfg.EngineTimeout)
	}

	var broker *uploads.Broker
	if cfg.ObjectStoreConfigured() {
		broker, err = uploads.NewBroker(uploads.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
			TTL:       cfg.UploadURLTTL,
			MaxBytes:  cfg.UploadMaxBytes,
		})
		if err != nil {
			return err
		}
	}

	var verifier auth.KeyVerifier
	if cfg.AuthMode == config.AuthModeStore && repos.keys != nil {
		verifier = apikey.NewService(repos.tenants, repos.keys, apikey.Config{})
	}

	var recorder *usage.Recorder
	if repos.usage != nil {
		recorder = usage.NewRecorder(repos.usage, logger)
		defer recorder.Close()
	}

	var orchestrator *jobs.Orchestrator
	if repos.jobs != nil && engineClient != nil {
		orchestrator = jobs.NewOrchestrator(repos.jobs, engineClient, logger,
			cfg.JobWorkers, cfg.JobQueueSize)
		orchestrator.Start()
		defer orchestrator.Stop()
	}

	limiter, limiterClose, err := buildLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	defer limiterClose()

	mux := http.NewServeMux()
	healthhandler.NewHandler(cfg.EngineConfigured(), cfg.DatabaseType).Register(mux)
	analyzehandler.NewHandler(engineClient, cfg.UploadMaxBytes).Register(mux)
	uploadshandler.NewHandler(broker).Register(mux)
	jobshandler.NewHandler(orchestrator, cfg.UploadMaxBytes).Register(mux)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		envelope.WriteError(w, http.StatusNotFound, "",
			apierrors.ErrRouteNotFound, "no such route: "+r.URL.Path)
	})

	tracked := usagetrack.NewMiddleware(recorder, map[string]string{
		"/v1/analyze": "analyze",
		"/v1/grade":   "grade",
		"/v1/jobs":    "job_submit",
	}).Wrap(mux)
	limited := quota.NewMiddleware(limiter, logger, healthPath).Wrap(tracked)
	authed := auth.NewMiddleware(cfg.AuthMode, cfg.StaticAPIKeys, verifier, healthPath).Wrap(limited)
	observed := observability.Middleware(logger, authed)
	root := observability.RecoverMiddleware(logger, observed)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "config", cfg)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func buildLimiter(ctx context.Context, cfg config.Config) (*ratelimit.Limiter, func(), error) {
	if cfg.RateLimitPerMinute <= 0 {
		return ratelimit.NewLimiter(ratelimit.NewMemoryStore(), 0), func() {}, nil
	}
	if cfg.RateLimitStore == config.RateStoreRedis {
		client, err := ratelimit.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		limiter := ratelimit.NewLimiter(ratelimit.NewRedisStore(client), cfg.RateLimitPerMinute)
		return limiter, func() { client.Close() }, nil
	}
	return ratelimit.NewLimiter(ratelimit.NewMemoryStore(), cfg.RateLimitPerMinute), func() {}, nil
}

func writeJSON(out io.Writer, v any) {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func withRepositories(configFile string, fn func(ctx context.Context, repos *repositories) error) error {
	var opts config.Options
	if configFile != "" {
		opts.ConfigFile = &configFile
	}
	cfg, err := config.Load(opts)
	if err != nil {
		return err
	}
	if cfg.DatabaseType == config.DatabaseTypeNone {
		return fmt.Errorf("tenant and key commands require a database")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	defer repos.close()

	return fn(ctx, repos)
}

func runTenant(args []string, out io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(out, "usage: server tenant create|list|delete")
		return 2
	}

	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("tenant create", flag.ContinueOnError)
		fs.SetOutput(out)
		name := fs.String("name", "", "tenant display name")
		configFile := fs.String("config", "", "env file to load")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		err := withRepositories(*configFile, func(ctx context.Context, repos *repositories) error {
			svc := apikey.NewService(repos.tenants, repos.keys, apikey.Config{})
			tenant, err := svc.CreateTenant(ctx, *name)
			if err != nil {
				return err
			}
			writeJSON(out, tenant)
			return nil
		})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return 1
		}
		return 0
	case "list":
		fs := flag.NewFlagSet("tenant list", flag.ContinueOnError)
		fs.SetOutput(out)
		configFile := fs.String("config", "", "env file to load")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		err := withRepositories(*configFile, func(ctx context.Context, repos *repositories) error {
			tenants, err := repos.tenants.List(ctx)
			if err != nil {
				return err
			}
			writeJSON(out, tenants)
			return nil
		})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return 1
		}
		return 0
	case "delete":
		fs := flag.NewFlagSet("tenant delete", flag.ContinueOnError)
		fs.SetOutput(out)
		tenantID := fs.String("id", "", "tenant id")
		configFile := fs.String("config", "", "env file to load")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		err := withRepositories(*configFile, func(ctx context.Context, repos *repositories) error {
			svc := apikey.NewService(repos.tenants, repos.keys, apikey.Config{})
			if err := svc.DeleteTenant(ctx, *tenantID); err != nil {
				return err
			}
			writeJSON(out, map[string]string{"deleted": *tenantID})
			return nil
		})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(out, "unknown tenant command: %s\n", args[0])
		return 2
	}
}

func runKey(args []string, out io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(out, "usage: server key create|revoke|list")
		return 2
	}

	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("key create", flag.ContinueOnError)
		fs.SetOutput(out)
		tenantID := fs.String("tenant", "", "tenant id")
		label := fs.String("label", "", "key label")
		configFile := fs.String("config", "", "env file to load")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		err := withRepositories(*configFile, func(ctx context.Context, repos *repositories) error {
			svc := apikey.NewService(repos.tenants, repos.keys, apikey.Config{})
			plaintext, key, err := svc.IssueKey(ctx, *tenantID, *label)
			if err != nil {
				return err
			}
			// The plaintext is printed here and nowhere else.
			writeJSON(out, map[string]any{
				"api_key": plaintext,
				"key_id":  key.ID,
				"tenant":  key.TenantID,
				"label":   key.Label,
			})
			return nil
		})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return 1
		}
		return 0
	case "revoke":
		fs := flag.NewFlagSet("key revoke", flag.ContinueOnError)
		fs.SetOutput(out)
		keyID := fs.String("id", "", "key id")
		configFile := fs.String("config", "", "env file to load")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		err := withRepositories(*configFile, func(ctx context.Context, repos *repositories) error {
			svc := apikey.NewService(repos.tenants, repos.keys, apikey.Config{})
			if err := svc.RevokeKey(ctx, *keyID); err != nil {
				return err
			}
			writeJSON(out, map[string]string{"revoked": *keyID})
			return nil
		})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return 1
		}
		return 0
	case "list":
		fs := flag.NewFlagSet("key list", flag.ContinueOnError)
		fs.SetOutput(out)
		tenantID := fs.String("tenant", "", "tenant id")
		configFile := fs.String("config", "", "env file to load")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		err := withRepositories(*configFile, func(ctx context.Context, repos *repositories) error {
			svc := apikey.NewService(repos.tenants, repos.keys, apikey.Config{})
			keys, err := svc.ListKeys(ctx, *tenantID)
			if err != nil {
				return err
			}
			writeJSON(out, keys)
			return nil
		})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(out, "unknown key command: %s\n", args[0])
		return 2
	}
}
