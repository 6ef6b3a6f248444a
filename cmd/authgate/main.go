// Command authgate serves the authentication endpoints over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
	"github.com/glebarez/sqlite"
	"github.com/gorilla/mux"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/panyam/authgate"
	"github.com/panyam/authgate/oauth2"
	gormstore "github.com/panyam/authgate/stores/gorm"
	redisstore "github.com/panyam/authgate/stores/redis"
)

func main() {
	app := NewApp()

	if err := app.Start(context.Background()); err != nil {
		log.Printf("Failed to start app: %v\n", err)
		os.Exit(1)
	}

	<-app.Done()

	if err := app.Stop(context.Background()); err != nil {
		log.Printf("Failed to stop app gracefully: %v\n", err)
		os.Exit(1)
	}
}

// NewApp wires the server
func NewApp() *fx.App {
	return fx.New(
		fx.Provide(
			func() (*Config, error) { return LoadConfig(configPath()) },
			NewLogger,
			NewDB,
			NewRedis,
			NewDirectory,
			NewChallengeStore,
			NewSessionManager,
			NewEmailSender,
			NewProviders,
			NewAuthenticator,
			NewHandler,
			NewHTTPServer,
		),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Invoke(
			func(cfg *Config) error { return cfg.Validate() },
			RunHTTPServer,
		),
	)
}

// NewLogger builds the zap logger and routes slog through it
func NewLogger(cfg *Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Log.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(zapslog.NewHandler(logger.Core())))
	return logger, nil
}

func NewDB(lc fx.Lifecycle, cfg *Config, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.DSN)
	default:
		dialector = postgres.Open(cfg.Database.DSN)
	}
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connect to database failed: %w", err)
	}
	if err := gormstore.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database failed: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("Closing database connection...")
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

// NewRedis returns nil when redis is not configured
func NewRedis(lc fx.Lifecycle, cfg *Config, logger *zap.Logger) (*goredis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("Closing Redis connection...")
			return rdb.Close()
		},
	})
	return rdb, nil
}

func NewDirectory(db *gorm.DB) authgate.UserDirectory {
	return gormstore.NewDirectory(db)
}

func NewChallengeStore(db *gorm.DB, rdb *goredis.Client) authgate.ChallengeStore {
	if rdb != nil {
		return redisstore.NewChallengeStore(rdb)
	}
	return gormstore.NewChallengeStore(db)
}

func NewSessionManager(cfg *Config, rdb *goredis.Client) *scs.SessionManager {
	sm := scs.New()
	sm.Lifetime = cfg.Session.Lifetime
	sm.Cookie.Name = cfg.Session.CookieName
	sm.Cookie.HttpOnly = true
	sm.Cookie.Secure = cfg.Session.Secure
	sm.Cookie.SameSite = http.SameSiteLaxMode
	if rdb != nil {
		sm.Store = redisstore.NewSessionStore(rdb)
	} else {
		sm.Store = memstore.New()
	}
	return sm
}

func NewEmailSender(cfg *Config) authgate.SendEmail {
	if cfg.SMTP.Addr == "" {
		return &authgate.ConsoleEmailSender{}
	}
	return &authgate.SMTPEmailSender{
		Addr:     cfg.SMTP.Addr,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}
}

func NewProviders(cfg *Config, logger *zap.Logger) (*authgate.ProviderRegistry, error) {
	var providers []authgate.IdentityProvider
	if p := cfg.Providers.Github; p.Enabled() {
		providers = append(providers, oauth2.NewGithubProvider(p.ClientID, p.ClientSecret, p.CallbackURL))
	}
	if p := cfg.Providers.Google; p.Enabled() {
		providers = append(providers, oauth2.NewGoogleProvider(p.ClientID, p.ClientSecret, p.CallbackURL))
	}
	registry, err := authgate.NewProviderRegistry(providers...)
	if err != nil {
		return nil, err
	}
	for _, name := range registry.Names() {
		logger.Info("Identity provider enabled", zap.String("provider", string(name)))
	}
	return registry, nil
}

func NewAuthenticator(cfg *Config, directory authgate.UserDirectory, challenges authgate.ChallengeStore,
	sm *scs.SessionManager, sender authgate.SendEmail, providers *authgate.ProviderRegistry) *authgate.Authenticator {
	var hasher authgate.PasswordHasher = authgate.DefaultArgon2Hasher()
	if cfg.Auth.Hasher == "bcrypt" {
		hasher = &authgate.BcryptHasher{}
	}
	return (&authgate.Authenticator{
		Directory: directory,
		Hasher:    hasher,
		Sessions:  authgate.NewSCSSessions(sm),
		Providers: providers,
		Verification: &authgate.VerificationIssuer{
			Store:       challenges,
			EmailSender: sender,
			BaseURL:     cfg.BaseURL,
		},
		SecondFactor: &authgate.SecondFactorIssuer{
			Store:       challenges,
			EmailSender: sender,
		},
		ProviderTimeout: cfg.Auth.ProviderTimeout,
		EmailTimeout:    cfg.Auth.EmailTimeout,
		Logger:          slog.Default(),
	}).EnsureDefaults()
}

func NewHandler(cfg *Config, auth *authgate.Authenticator, sm *scs.SessionManager) *authgate.Handler {
	return (&authgate.Handler{
		Auth:    auth,
		Session: sm,
		State: &authgate.StateSigner{
			Secret: []byte(cfg.Auth.StateSecret),
			Issuer: cfg.BaseURL,
		},
		BaseURL: cfg.BaseURL,
	}).EnsureDefaults()
}

func NewHTTPServer(cfg *Config, handler *authgate.Handler, sm *scs.SessionManager) *http.Server {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	handler.Routes(router)
	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           sm.LoadAndSave(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func RunHTTPServer(lc fx.Lifecycle, cfg *Config, logger *zap.Logger, srv *http.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal("Failed to start HTTP server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping HTTP server...")
			ctx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	})
}
