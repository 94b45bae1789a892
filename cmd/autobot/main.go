// Command autobot runs the bank-portal supervisor: per-alias workers, the
// balance monitor, the Telegram command front end and the read-only ops
// HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/moshano/autobot/internal/adapter/bank"
	"github.com/moshano/autobot/internal/adapter/browser/webdriver"
	"github.com/moshano/autobot/internal/adapter/captcha/twocaptcha"
	"github.com/moshano/autobot/internal/adapter/credstore/csvstore"
	httpserver "github.com/moshano/autobot/internal/adapter/httpserver"
	"github.com/moshano/autobot/internal/adapter/observability"
	"github.com/moshano/autobot/internal/adapter/sink/autobank"
	"github.com/moshano/autobot/internal/adapter/telegram"
	"github.com/moshano/autobot/internal/app"
	"github.com/moshano/autobot/internal/config"
	"github.com/moshano/autobot/internal/domain"
	"github.com/moshano/autobot/internal/ladder"
	"github.com/moshano/autobot/internal/usecase"
)

// sessionFactory builds one Chrome session per alias, with the alias's own
// profile and download directories.
type sessionFactory struct {
	client       *webdriver.Client
	profileRoot  string
	downloadRoot string
	headless     bool
}

func (f *sessionFactory) NewSession(ctx context.Context, alias string) (domain.BrowserSession, error) {
	profile := filepath.Join(f.profileRoot, alias)
	download := filepath.Join(f.downloadRoot, alias)
	for _, dir := range []string{profile, download} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("op=main.new_session: %w", err)
		}
	}
	return f.client.NewSession(ctx, webdriver.Options{
		ProfileDir:  profile,
		DownloadDir: download,
		Headless:    f.headless,
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Credential store
	store := csvstore.New(cfg.CredentialsCSV)

	// Chat transport and messenger
	tg := telegram.New(cfg.TelegramBaseURL, cfg.TelegramToken)
	messenger := usecase.NewMessenger(tg, cfg.TelegramChatID, cfg.DebugMode)

	// Statement sink and CAPTCHA solver
	sink, err := autobank.New(cfg.AutobankUploadURL)
	if err != nil {
		slog.Error("statement sink config invalid", slog.Any("error", err))
		os.Exit(1)
	}
	solver := twocaptcha.New(cfg.TwoCaptchaBaseURL, cfg.TwoCaptchaAPIKey)

	// Browser sessions: headless in normal operation, visible in debug.
	sessions := &sessionFactory{
		client:       webdriver.New(cfg.WebDriverURL),
		profileRoot:  cfg.ProfileRoot,
		downloadRoot: cfg.DownloadRoot,
		headless:     !cfg.DebugMode,
	}

	adapters := func(b domain.Bank, deps usecase.AdapterDeps) (domain.BankAdapter, error) {
		return bank.New(b, bank.Deps{
			Alias:    deps.Alias,
			Session:  deps.Session,
			Solver:   deps.Solver,
			Codes:    deps.Codes,
			Notifier: deps.Notifier,
		})
	}

	sup := usecase.NewSupervisor(store, sessions, adapters, sink, solver, messenger)
	if err := sup.LoadCredentials(ctx); err != nil {
		slog.Error("credential load failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Balance monitor over the alert ladder
	lad, err := ladder.Load(cfg.LadderFile)
	if err != nil {
		slog.Error("ladder load failed", slog.Any("error", err))
		os.Exit(1)
	}
	targets := append([]int64{cfg.TelegramChatID}, cfg.AlertGroupIDs...)
	mon := usecase.NewMonitor(sup, tg, targets, lad, cfg.BalanceCheckPeriod())

	// Command front end
	bot := telegram.NewBot(tg, tg, sup, mon, cfg.TelegramChatID, cfg.AlertGroupIDs, cfg.DownloadRoot)

	// Ops HTTP server
	srv := httpserver.NewServer(sup, mon,
		httpserver.ReadyCheck{Name: "store", Check: func(ctx context.Context) error {
			_, err := store.Load(ctx)
			return err
		}},
		httpserver.ReadyCheck{Name: "telegram", Check: tg.GetMe},
	)
	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.BuildRouter(cfg, srv),
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go messenger.Run(ctx)
	go mon.Run(ctx)
	go bot.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ops server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server error", slog.Any("error", err))
		}
	}

	// Stop workers first so sessions quit cleanly, then the poller and
	// messenger, then the listener.
	if stopped, err := sup.StopAll(context.Background()); err != nil {
		slog.Error("stopall finished with errors", slog.Any("error", err), slog.Any("stopped", stopped))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer shutdownCancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
