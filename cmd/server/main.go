package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rrens/live-assist/internal/api"
	"github.com/Rrens/live-assist/internal/config"
	"github.com/Rrens/live-assist/internal/live/gemini"
	"github.com/Rrens/live-assist/internal/llm"
	llmgemini "github.com/Rrens/live-assist/internal/llm/gemini"
	"github.com/Rrens/live-assist/internal/logging"
	"github.com/Rrens/live-assist/internal/metrics"
	"github.com/Rrens/live-assist/internal/quota"
	"github.com/Rrens/live-assist/internal/repository/redis"
	"github.com/Rrens/live-assist/internal/scheduler"
	"github.com/Rrens/live-assist/internal/search"
	"github.com/Rrens/live-assist/internal/security"
	"github.com/Rrens/live-assist/internal/service"
	"github.com/Rrens/live-assist/internal/session"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const llmStatusTTL = time.Minute

func main() {
	// Load .env file - try multiple locations
	envPaths := []string{".env", "../.env", "../../.env"}
	envLoaded := false
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			fmt.Printf("Loaded .env from: %s\n", p)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		fmt.Println("Warning: .env file not found in any standard location")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		logCloser.Close()
		os.Exit(1)
	}
	log.Info().Msg("Server stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("store", cfg.Store.Driver).
		Msg("Starting live-assist API server")

	if cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is not configured")
	}
	if cfg.Live.APIKey == "" {
		log.Warn().Msg("GEMINI_API_KEY is empty; live sessions will fail to open")
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(reg)

	// Per-minute window and search cache live in Redis when it is enabled.
	var (
		window      quota.Window
		memWindow   *quota.MemoryWindow
		searchCache search.Cache
	)
	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer rc.Close()
		window = redis.NewWindow(rc, cfg.Quota.Window)
		searchCache = redis.NewSearchCache(rc, cfg.Search.CacheTTL)
		st.ready["redis"] = rc
	} else {
		memWindow = quota.NewMemoryWindow()
		window = memWindow
	}

	ledger := quota.NewLedger(st.usage, window, quota.NewPlans(cfg.Quota),
		quota.WithWindowSize(cfg.Quota.Window),
		quota.WithMetrics(mt),
	)

	manager := session.NewManager(gemini.NewTransport(cfg.Live), ledger, session.NewDirectory(),
		session.OptionsFromConfig(cfg.Live),
		session.WithTurnRepository(st.turns),
		session.WithManagerMetrics(mt),
		session.WithCloseHook(service.EndedHook(st.sessions)),
	)

	searchOpts := []search.Option{
		search.WithSuggester(search.NewSuggester(cfg.Search)),
		search.WithMetrics(mt),
		search.WithMaxQueryLength(cfg.Search.MaxQueryLength),
	}
	if searchCache != nil {
		searchOpts = append(searchOpts, search.WithCache(searchCache))
	}
	searchService := search.NewService(search.NewPerplexity(cfg.Search), ledger, searchOpts...)

	llmRouter := llm.NewRouter(llmStatusTTL)
	llmRouter.Register(llmgemini.NewProvider(cfg.Live))

	jwtManager := security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)

	router := api.NewRouter(cfg, api.Deps{
		JWT:      jwtManager,
		Auth:     service.NewAuthService(st.users, st.usage, jwtManager),
		Sessions: service.NewSessionService(manager, st.sessions),
		Search:   searchService,
		Ledger:   ledger,
		LLM:      llmRouter,
		Ready:    st.ready,
		Gatherer: reg,
	})

	sched := scheduler.New()
	sweeps := scheduler.Sweeps{
		Spec:      cfg.Live.SweepSchedule,
		Sessions:  manager,
		History:   st.history,
		Retention: cfg.Quota.HistoryRetention,
	}
	if memWindow != nil {
		sweeps.Window = memWindow
		sweeps.WindowTTL = 2 * cfg.Quota.Window
	}
	if err := scheduler.Register(sched, sweeps); err != nil {
		return fmt.Errorf("failed to register sweeps: %w", err)
	}
	sched.Start()

	// WriteTimeout is left to handlers: it would also cut realtime streams.
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		sched.Stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Live sessions did not close in time")
		}
		return nil
	})

	return g.Wait()
}
