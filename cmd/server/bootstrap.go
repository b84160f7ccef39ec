package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/tandem/internal/api"
	"github.com/charlesng35/tandem/internal/app"
	"github.com/charlesng35/tandem/internal/app/maintenance"
	iauth "github.com/charlesng35/tandem/internal/auth"
	"github.com/charlesng35/tandem/internal/cache"
	"github.com/charlesng35/tandem/internal/database"
	"github.com/charlesng35/tandem/internal/handlers"
	"github.com/charlesng35/tandem/internal/models"
	"github.com/charlesng35/tandem/internal/monitoring"
	"github.com/charlesng35/tandem/internal/monitoring/checks"
	"github.com/charlesng35/tandem/internal/notifications"
	"github.com/charlesng35/tandem/internal/reconcile"
	"github.com/charlesng35/tandem/internal/storage"
	"github.com/charlesng35/tandem/internal/stores"
	"github.com/charlesng35/tandem/internal/stores/analytics"
	"github.com/charlesng35/tandem/internal/stores/backup"
	"github.com/charlesng35/tandem/internal/stores/primary"
	"github.com/charlesng35/tandem/internal/stores/realtime"
)

const storeConnectTimeout = 5 * time.Second

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Realtime   *realtime.Store
	Analytics  *analytics.Store
	Backup     *backup.Store
	Hub        *notifications.Hub
	Registry   *stores.Registry
	Cache      *cache.Manager
	Storage    *storage.Service
	Sessions   *iauth.SessionManager
	Resets     *iauth.ResetManager
	Reconciler *reconcile.Reconciler
	Scheduler  *maintenance.Scheduler
	Router     *gin.Engine
}

// bootstrapRuntime opens the stores, builds the storage facade and its consumers, starts the
// maintenance scheduler and assembles the HTTP router. Only the primary store is mandatory;
// the others are skipped with a warning when they cannot be reached.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, mon *monitoring.Module, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg.Stores.DatabaseConfig(), log)
	if err != nil {
		return nil, err
	}

	stack.Hub = notifications.NewHub()
	stack.Registry = stores.NewRegistry(append(cfg.Stores.RegistryOptions(), stores.WithAlertSink(stack.Hub))...)
	if err := stack.Registry.Register(primary.New(stack.DB, primary.WithListScope(models.EntityPost, primary.PostFeed))); err != nil {
		return nil, err
	}
	stack.openOptionalStores(ctx, cfg, log)

	router, err := stores.NewRouter(stack.Registry, storage.DefaultRoutes())
	if err != nil {
		return nil, fmt.Errorf("build store router: %w", err)
	}
	stack.Registry.HealthCheck(ctx)

	stack.Cache, err = cache.NewManager(cfg.Cache.ClassConfigs())
	if err != nil {
		return nil, fmt.Errorf("initialise cache: %w", err)
	}

	var storageOpts []storage.Option
	if cfg.Sync.ReplicationTimeout > 0 {
		storageOpts = append(storageOpts, storage.WithReplicationTimeout(cfg.Sync.ReplicationTimeout))
	}
	stack.Storage, err = storage.New(router, stack.Cache, storageOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise storage: %w", err)
	}

	stack.Sessions, err = iauth.NewSessionManager(stack.Storage, cfg.Auth.SessionManagerConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise session manager: %w", err)
	}
	stack.Resets, err = iauth.NewResetManager(stack.Storage, stack.Sessions, cfg.Auth.ResetManagerConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise reset manager: %w", err)
	}

	stack.Reconciler = reconcile.New(router, reconcile.WithRecordLock(stack.Storage))

	deps := maintenance.Dependencies{
		Stores:     stack.Registry,
		Reconciler: stack.Reconciler,
		Sessions:   stack.Sessions,
		Resets:     stack.Resets,
		Cache:      stack.Cache,
	}
	if stack.Backup != nil {
		deps.Backup = stack.Backup
	}
	stack.Scheduler = maintenance.NewScheduler(deps, maintenance.WithSchedules(cfg.MaintenanceSchedules()))
	if err := stack.Scheduler.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	registerProbes(mon, stack)

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:     cfg,
		Monitoring: mon,
		Stores:     stack.Registry,
		Sessions:   stack.Sessions,
		Admin: handlers.AdminDependencies{
			Cache:      stack.Cache,
			Reconciler: stack.Reconciler,
			Alerts:     stack.Hub,
			Stats:      stack.Storage,
			Statuses:   stack.Registry,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func (s *runtimeStack) openOptionalStores(ctx context.Context, cfg *app.Config, log *zap.Logger) {
	if cfg.Stores.Realtime.Enabled {
		connectCtx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
		store, err := realtime.Open(connectCtx, cfg.Stores.RealtimeConfig())
		cancel()
		if err != nil {
			log.Warn("realtime store unavailable; continuing without it", zap.Error(err))
		} else {
			s.Realtime = store
			s.register(store, log)
			log.Info("realtime store connected", zap.String("addr", cfg.Stores.Realtime.Address))
		}
	}

	if cfg.Stores.Analytics.Enabled {
		store, err := analytics.Open(cfg.Stores.AnalyticsConfig())
		if err != nil {
			log.Warn("analytics store unavailable; continuing without it", zap.Error(err))
		} else {
			s.Analytics = store
			s.register(store, log)
			log.Info("analytics store configured", zap.String("bucket", cfg.Stores.Analytics.Bucket))
		}
	}

	if cfg.Stores.Backup.Enabled {
		store, err := backup.Open(cfg.BackupConfig())
		if err != nil {
			log.Warn("backup store unavailable; continuing without it", zap.Error(err))
		} else {
			s.Backup = store
			s.register(store, log)
			log.Info("backup store opened", zap.Bool("in_memory", cfg.Stores.Backup.InMemory))
		}
	}
}

func (s *runtimeStack) register(store stores.Store, log *zap.Logger) {
	if err := s.Registry.Register(store); err != nil {
		log.Warn("store registration failed", zap.String("store", string(store.Name())), zap.Error(err))
	}
}

func registerProbes(mon *monitoring.Module, stack *runtimeStack) {
	health := mon.Health()
	if health == nil {
		return
	}
	health.RegisterLiveness(checks.Maintenance(stack.Scheduler.Windows()))
	health.RegisterReadiness(checks.PrimarySchema(stack.DB, 0))
	for _, store := range stack.Registry.Stores() {
		health.RegisterReadiness(checks.Store(string(store.Name()), store, 0))
	}
}

// Shutdown stops background jobs, drains in-flight replication and releases the stores.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Scheduler != nil {
		select {
		case <-s.Scheduler.Stop().Done():
		case <-ctx.Done():
			log.Warn("maintenance jobs still running at shutdown")
		}
	}

	if s.Storage != nil {
		s.Storage.Wait()
	}
	if s.Hub != nil {
		s.Hub.Wait()
	}

	if s.Realtime != nil {
		if err := s.Realtime.Close(); err != nil {
			log.Warn("realtime shutdown", zap.Error(err))
		}
	}
	if s.Analytics != nil {
		s.Analytics.Close()
	}
	if s.Backup != nil {
		if err := s.Backup.Close(); err != nil {
			log.Warn("backup shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}

func initialiseDatabase(dbCfg database.Config, log *zap.Logger) (*gorm.DB, error) {
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	installation, _ := database.GetSystemSetting(context.Background(), db, database.InstallationIDSetting)
	log.Info("database connected",
		zap.String("driver", dbCfg.Driver),
		zap.String("installation_id", installation),
		zap.String("schema_version", database.SchemaVersion),
	)

	return db, nil
}
