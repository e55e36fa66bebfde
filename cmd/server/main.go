package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/flowreel/internal/api"
	"github.com/shehryarbajwa/flowreel/internal/assemble"
	"github.com/shehryarbajwa/flowreel/internal/batch"
	"github.com/shehryarbajwa/flowreel/internal/browser"
	"github.com/shehryarbajwa/flowreel/internal/config"
	"github.com/shehryarbajwa/flowreel/internal/credentials"
	"github.com/shehryarbajwa/flowreel/internal/logger"
	"github.com/shehryarbajwa/flowreel/internal/materialize"
	"github.com/shehryarbajwa/flowreel/internal/observability"
	"github.com/shehryarbajwa/flowreel/internal/orchestrator"
	"github.com/shehryarbajwa/flowreel/internal/profile"
	"github.com/shehryarbajwa/flowreel/internal/proxy"
	"github.com/shehryarbajwa/flowreel/internal/ratelimit"
	"github.com/shehryarbajwa/flowreel/internal/script"
	"github.com/shehryarbajwa/flowreel/internal/session"
	"github.com/shehryarbajwa/flowreel/internal/store"
	"github.com/shehryarbajwa/flowreel/internal/tracker"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	slogger := logger.New(cfg.LogLevel)

	log.Println("Starting Flowreel...")

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	metrics, err := observability.NewMetrics()
	if err != nil {
		log.Fatalf("Failed to create instruments: %v", err)
	}
	log.Println("✓ Metrics initialized")

	prof, err := profile.Load(cfg.UIProfilePath)
	if err != nil {
		log.Fatalf("Failed to load UI profile: %v", err)
	}
	if cfg.ServiceBaseURL != "" {
		prof.BaseURL = cfg.ServiceBaseURL
	}
	log.Printf("✓ UI profile loaded (%s)", prof.BaseURL)

	cookies, err := credentials.Load(cfg.CookiesPath)
	if err != nil {
		log.Fatalf("Failed to load credential bundle: %v", err)
	}
	log.Printf("✓ Credential bundle loaded (%d cookies)", len(cookies))

	launcher, err := browser.NewLauncher(browser.Options{
		Mode:     browser.Mode(cfg.BrowserMode),
		WSURL:    cfg.BrowserWSURL,
		Image:    cfg.BrowserImage,
		Headless: cfg.Headless,
		DataDir:  filepath.Join(cfg.DataDir, "browsers"),
	})
	if err != nil {
		log.Fatalf("Failed to create browser launcher: %v", err)
	}
	defer launcher.Close()

	prepCtx, cancelPrep := context.WithTimeout(context.Background(), 5*time.Minute)
	log.Println("⏳ Preparing browser...")
	if err := launcher.Prepare(prepCtx); err != nil {
		log.Fatalf("Failed to prepare browser: %v", err)
	}
	cancelPrep()
	log.Printf("✓ Browser ready (%s mode)", cfg.BrowserMode)

	bootstrapper := session.NewBootstrapper(launcher, prof, session.Config{
		Cookies:          cookies,
		DefaultWorkspace: cfg.DefaultWorkspaceID,
	}, slogger)

	observer, err := tracker.NewObserver(prof)
	if err != nil {
		log.Fatalf("Failed to build observer: %v", err)
	}
	classifier, err := tracker.NewClassifier(prof)
	if err != nil {
		log.Fatalf("Failed to build classifier: %v", err)
	}
	menu := tracker.NewCardMenu(prof)
	materializer := materialize.New(materialize.ParseTier(cfg.DownloadQuality), prof, menu,
		&http.Client{Timeout: 5 * time.Minute}, slogger)
	log.Println("✓ Tracker components initialized")

	st, err := store.Open(filepath.Join(cfg.DataDir, "badger"))
	if err != nil {
		log.Fatalf("Failed to open batch store: %v", err)
	}
	defer st.Close()
	log.Println("✓ Batch store opened")

	rateLimiter := ratelimit.NewLimiter(cfg.SubmitsPerHour, cfg.SubmitBurst)
	log.Printf("✓ Rate limiter initialized (%d submissions/hour per workspace)", cfg.SubmitsPerHour)

	orch := orchestrator.New(orchestrator.Deps{
		Submitter:    tracker.NewSubmitter(prof, observer, classifier, slogger),
		Detector:     tracker.NewDetector(classifier, observer, bootstrapper, cfg.PollInterval, slogger),
		Resolver:     tracker.NewResolver(observer, slogger),
		Queue:        tracker.NewQueueSampler(classifier, cfg.QueueLimit),
		Materializer: materializer,
		Navigator:    bootstrapper,
		Remover:      tracker.NewRemover(menu, slogger),
		Settings:     tracker.NewSettings(prof, slogger),
		Limiter:      rateLimiter,
		Checkpoint:   st,
		Metrics:      metrics,
	}, orchestrator.Config{
		GenerationTimeout: cfg.GenerationTimeout,
		QueueLimit:        cfg.QueueLimit,
		QueueWaitTimeout:  cfg.QueueWaitTimeout,
		QueuePollInterval: cfg.QueuePollInterval,
		DataDir:           cfg.DataDir,
	}, slogger)

	cookieMgr, err := credentials.NewManager(filepath.Join(cfg.DataDir, "cookies"))
	if err != nil {
		log.Fatalf("Failed to create cookie manager: %v", err)
	}

	batchMgr := batch.NewManager(batch.Options{
		Starter: bootstrapper,
		Runner:  orch,
		Store:   st,
		Script: script.NewClient(script.Config{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
		}, slogger),
		Assembler:   assemble.NewFFmpeg(slogger),
		Cookies:     cookieMgr,
		IdleTimeout: cfg.SessionIdleTimeout,
	}, slogger)
	orch.OnProgress = batchMgr.RecordProgress

	restored, err := batchMgr.Restore(context.Background())
	if err != nil {
		log.Fatalf("Failed to restore batches: %v", err)
	}
	log.Printf("✓ Batch manager initialized (%d batches restored)", restored)

	proxyServer := proxy.NewServer(batchMgr, slogger)
	handler := api.NewHandler(batchMgr, slogger)
	router := handler.SetupRoutes(proxyServer, rateLimiter, metricsHandler)
	log.Println("✓ HTTP routes configured")

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: the debug proxy holds long-lived connections
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("🚀 Server starting on http://localhost:%d", cfg.Port)
		log.Printf("📍 API endpoints available at http://localhost:%d/v1", cfg.Port)
		log.Println("🔍 Debug: Live WebSocket proxy for CDP debugging")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return batchMgr.Reap(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("\n⏳ Shutting down server gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		batchMgr.Shutdown(shutdownCtx)
		shutdownMetrics(shutdownCtx)
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("✅ Server stopped cleanly")
}
