// Package runtime assembles the developer portal from configuration:
// storage, catalog, workflow engine, external clients, services and the
// HTTP surface.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/openapim/devportal/internal/api/httpserver"
	"github.com/openapim/devportal/internal/api/httpserver/router"
	"github.com/openapim/devportal/internal/app/catalog"
	"github.com/openapim/devportal/internal/app/domain/workflow"
	"github.com/openapim/devportal/internal/app/services/applications"
	"github.com/openapim/devportal/internal/app/services/approvals"
	"github.com/openapim/devportal/internal/app/services/keys"
	"github.com/openapim/devportal/internal/app/services/subscriptions"
	"github.com/openapim/devportal/internal/app/services/tags"
	"github.com/openapim/devportal/internal/app/storage"
	"github.com/openapim/devportal/internal/app/storage/postgres"
	"github.com/openapim/devportal/internal/clients/gateway"
	"github.com/openapim/devportal/internal/clients/keymanager"
	workflowclient "github.com/openapim/devportal/internal/clients/workflow"
	"github.com/openapim/devportal/internal/config"
	"github.com/openapim/devportal/internal/metrics"
	"github.com/openapim/devportal/internal/middleware"
	"github.com/openapim/devportal/internal/platform/migrations"
	"github.com/openapim/devportal/pkg/logger"
)

// stores groups the ledger interfaces one backend satisfies together.
type stores struct {
	subscriptions storage.SubscriptionStore
	applications  storage.ApplicationStore
	registrations storage.RegistrationStore
	permissions   storage.TierPermissionStore
}

// instrumentedExecutor counts workflow submissions around the wrapped
// executor.
type instrumentedExecutor struct {
	workflow.Executor
	metrics *metrics.Metrics
}

func (e instrumentedExecutor) Execute(ctx context.Context, req workflow.Request) error {
	err := e.Executor.Execute(ctx, req)
	e.metrics.RecordWorkflowSubmission(req.Kind.String(), err)
	return err
}

// instrumentedGateway counts invalidation attempts per environment.
type instrumentedGateway struct {
	gateway.AdminClient
	metrics *metrics.Metrics
}

func (g instrumentedGateway) InvalidateKeys(ctx context.Context, mappings []gateway.KeyMapping) error {
	err := g.AdminClient.InvalidateKeys(ctx, mappings)
	g.metrics.RecordInvalidation(g.Environment(), err)
	return err
}

// Application is the assembled portal process.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *sql.DB
	server  *httpserver.Server
	metrics *metrics.Metrics

	Subscriptions *subscriptions.Service
	Applications  *applications.Service
	Keys          *keys.Service
	Tags          *tags.Service
	Approvals     *approvals.Service
	Catalog       *catalog.Static
}

// New wires the application. The returned instance is not yet serving;
// call Run.
func New(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	}).WithField("service", "devportal")

	app := &Application{cfg: cfg, log: log, metrics: metrics.New("devportal")}

	st, err := app.openStores()
	if err != nil {
		return nil, err
	}

	cat := catalog.NewStatic()
	app.Catalog = cat

	app.Approvals = approvals.New(st.subscriptions, st.applications, st.registrations, log.WithField("component", "approvals"))

	engine, err := app.buildEngine()
	if err != nil {
		return nil, err
	}

	gateways, err := buildGateways(cfg.Gateways, app.metrics)
	if err != nil {
		return nil, err
	}

	app.Subscriptions = subscriptions.New(cat, st.subscriptions, st.applications, st.registrations, st.permissions, engine,
		subscriptions.WithGateways(gateways...),
		subscriptions.WithLogger(log.WithField("component", "subscriptions")),
	)

	app.Applications = applications.New(st.applications, st.subscriptions, st.registrations, cat, engine,
		applications.WithGateways(gateways...),
		applications.WithLogger(log.WithField("component", "applications")),
	)

	km, err := app.buildKeyManager()
	if err != nil {
		return nil, err
	}
	app.Keys = keys.New(st.applications, st.registrations, engine, km,
		keys.Defaults{
			DefaultValiditySecs: cfg.Tokens.DefaultValiditySecs,
			DefaultScope:        cfg.Tokens.DefaultScope,
		},
		keys.WithLogger(log.WithField("component", "keys")),
	)

	app.Tags = tags.New(cat, time.Duration(cfg.TagCache.TTLSeconds)*time.Second,
		tags.WithLogger(log.WithField("component", "tags")),
	)

	app.server = httpserver.New(cfg.Server, log, app.buildHandler())

	return app, nil
}

func (a *Application) openStores() (stores, error) {
	switch strings.ToLower(a.cfg.Database.Driver) {
	case "", "memory":
		mem := storage.NewMemory()
		return stores{
			subscriptions: mem,
			applications:  mem,
			registrations: mem,
			permissions:   mem,
		}, nil
	case "postgres":
		db, err := sql.Open("postgres", a.cfg.Database.DSN)
		if err != nil {
			return stores{}, fmt.Errorf("could not open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return stores{}, fmt.Errorf("could not reach database: %w", err)
		}
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return stores{}, fmt.Errorf("could not apply migrations: %w", err)
		}

		a.db = db
		pg := postgres.New(db)
		return stores{
			subscriptions: pg,
			applications:  pg,
			registrations: pg,
			permissions:   pg,
		}, nil
	default:
		return stores{}, fmt.Errorf("unknown database driver %q", a.cfg.Database.Driver)
	}
}

func (a *Application) buildEngine() (*workflowclient.Registry, error) {
	var exec workflow.Executor
	switch strings.ToLower(a.cfg.Workflow.Mode) {
	case "", "auto":
		exec = workflowclient.NewAutoApprove(a.Approvals, a.cfg.Workflow.CallbackURL)
	case "http":
		httpExec, err := workflowclient.NewHTTP(workflowclient.HTTPConfig{
			EngineURL:   a.cfg.Workflow.EngineURL,
			CallbackURL: a.cfg.Workflow.CallbackURL,
		})
		if err != nil {
			return nil, fmt.Errorf("could not build workflow executor: %w", err)
		}
		exec = httpExec
	default:
		return nil, fmt.Errorf("unknown workflow mode %q", a.cfg.Workflow.Mode)
	}
	return workflowclient.NewRegistry(instrumentedExecutor{Executor: exec, metrics: a.metrics}), nil
}

func (a *Application) buildKeyManager() (keys.KeyManager, error) {
	if strings.TrimSpace(a.cfg.KeyManager.BaseURL) == "" {
		return nil, fmt.Errorf("key_manager.base_url is required")
	}
	km, err := keymanager.New(keymanager.Config{
		BaseURL: a.cfg.KeyManager.BaseURL,
		APIKey:  a.cfg.KeyManager.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("could not build key-manager client: %w", err)
	}
	return km, nil
}

func buildGateways(envs []config.GatewayEnvironment, m *metrics.Metrics) ([]gateway.AdminClient, error) {
	clients := make([]gateway.AdminClient, 0, len(envs))
	for _, env := range envs {
		client, err := gateway.NewHTTPAdminClient(gateway.Config{
			Name:     env.Name,
			AdminURL: env.AdminURL,
		})
		if err != nil {
			return nil, fmt.Errorf("could not build gateway client %s: %w", env.Name, err)
		}
		clients = append(clients, instrumentedGateway{AdminClient: client, metrics: m})
	}
	return clients, nil
}

func (a *Application) buildHandler() http.Handler {
	var auth *middleware.AuthMiddleware
	if secret := strings.TrimSpace(a.cfg.Auth.JWTSecret); secret != "" {
		skipPaths := a.cfg.Auth.SkipPaths
		if a.cfg.Workflow.CallbackToken != "" {
			// The callback authenticates with its own shared token, not a
			// caller JWT.
			skipPaths = append(append([]string(nil), skipPaths...), "/workflows/callback")
		}
		auth = middleware.NewAuthMiddleware([]byte(secret), a.log.WithField("component", "auth"), skipPaths)
	}

	return router.New(router.Deps{
		Log:           a.log,
		Metrics:       a.metrics,
		Subscriptions: a.Subscriptions,
		Applications:  a.Applications,
		Keys:          a.Keys,
		Tags:          a.Tags,
		Approvals:     a.Approvals,
		Auth:          auth,
		CORS:          middleware.NewCORSMiddleware(a.cfg.AllowedOrigins),
		CallbackToken: a.cfg.Workflow.CallbackToken,
	})
}

// Run serves HTTP until the context is canceled or the listener fails.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("port", a.cfg.Server.Port).Info("http server starting")
		errCh <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		return a.Shutdown()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}
}

// Shutdown drains the server and closes the database.
func (a *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := a.server.Shutdown(ctx)
	if a.db != nil {
		if closeErr := a.db.Close(); err == nil {
			err = closeErr
		}
	}
	a.log.Info("shutdown complete")
	return err
}
