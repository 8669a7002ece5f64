package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"koloda/internal/config"
	"koloda/internal/domain"
	"koloda/internal/logging"
	"koloda/internal/secret"
	"koloda/internal/service"
	"koloda/internal/storage"
)

// App is the main Wails application struct.
// All exported methods are available as Wails bindings.
type App struct {
	ctx context.Context
	cfg *config.Config
	log *zap.Logger

	db       *storage.DB
	vault    *secret.Vault
	profiles *service.AIProfileService

	// startErr is returned by every binding when Startup failed.
	startErr error
	emitFn   func(ctx context.Context, event string, data ...any)
}

// New creates a new App.
func New(cfg *config.Config, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		log:    log,
		emitFn: wailsRuntime.EventsEmit,
	}
}

// Startup is called when the app starts.
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx
	start := time.Now()
	if err := a.open(); err != nil {
		a.startErr = err
		a.log.Error("startup failed", zap.Error(err))
		return
	}
	a.log.Info("app started",
		zap.String("db", a.db.Path()),
		zap.String("secretBackend", a.vault.BackendName()),
		logging.Since(start))
}

func (a *App) open() error {
	db, err := storage.New(a.cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	opts := a.cfg.SecretOptions()
	opts.Logger = a.log.Named("secret")
	vault, err := secret.Open(opts)
	if err != nil {
		db.Close()
		return fmt.Errorf("open secret vault: %w", err)
	}

	a.db = db
	a.vault = vault
	a.profiles = service.NewAIProfileService(storage.NewAIProfileStore(db), vault, a, a.log)
	return nil
}

// Shutdown is called when the app is closing.
func (a *App) Shutdown(ctx context.Context) {
	if a.vault != nil {
		if err := a.vault.Close(); err != nil {
			a.log.Warn("close secret vault", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("close database", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

// Emit implements service.EventEmitter by forwarding to the frontend.
func (a *App) Emit(ctx context.Context, event string, data any) {
	a.emitFn(ctx, event, data)
}

func (a *App) ready() error {
	if a.startErr != nil {
		return domain.WrapAppError(domain.ErrCodeUnknown, a.startErr)
	}
	if a.profiles == nil {
		return domain.WrapAppError(domain.ErrCodeUnknown, errors.New("app is not started"))
	}
	return nil
}
