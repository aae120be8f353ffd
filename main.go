package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/appforge-labs/marketplace-engine/pkg/assets"
	"github.com/appforge-labs/marketplace-engine/pkg/auth"
	"github.com/appforge-labs/marketplace-engine/pkg/config"
	"github.com/appforge-labs/marketplace-engine/pkg/database"
	"github.com/appforge-labs/marketplace-engine/pkg/events"
	"github.com/appforge-labs/marketplace-engine/pkg/handlers"
	"github.com/appforge-labs/marketplace-engine/pkg/logging"
	"github.com/appforge-labs/marketplace-engine/pkg/middleware"
	"github.com/appforge-labs/marketplace-engine/pkg/repositories"
	"github.com/appforge-labs/marketplace-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load("config.yaml", Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", cfg.Database.Host))

	ctx := context.Background()

	// Migrations run over database/sql; the pool below is pgx-native.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database",
			zap.String("error", logging.SanitizeError(err)),
			zap.String("dsn", logging.SanitizeConnectionString(cfg.Database.ConnectionString())))
	}
	defer db.Close()

	// Repositories
	appRepo := repositories.NewApplicationRepository(db)
	versionRepo := repositories.NewVersionRepository(db)
	installRepo := repositories.NewInstallationRepository(db)
	workflowRepo := repositories.NewWorkflowRepository(db)
	associationRepo := repositories.NewAssociationRepository(db)
	teamRepo := repositories.NewTeamRepository(db)

	// Asset handlers: one per packageable type. Orchestration only ever sees
	// the registry.
	registry := assets.NewRegistry(
		assets.NewWorkflowHandler(workflowRepo, versionRepo, logger),
		assets.NewAssociationHandler(associationRepo, logger),
	)
	builder := assets.NewSnapshotBuilder(registry)

	// Events
	bus := events.NewBus(logger, events.DefaultRetryConfig())
	defer bus.Close()

	// Services
	submissionSvc := services.NewSubmissionService(appRepo, versionRepo, workflowRepo, builder, db, bus, logger)
	updateSvc := services.NewUpdateService(versionRepo, installRepo, registry, db, logger)
	installSvc := services.NewInstallService(appRepo, versionRepo, installRepo, teamRepo, registry, updateSvc, db, bus, logger)
	lookupSvc := services.NewLookupService(versionRepo, installRepo)
	placementSvc := services.NewPlacementService(appRepo, installRepo, logger)

	// Approval fans out to stale-installation flagging through the bus, so a
	// flagging failure can never roll back an approval.
	bus.Subscribe(events.TopicVersionApproved, updateSvc.HandleVersionApproved)

	// Auth
	jwksClient, err := auth.NewJWKSClient(ctx, &auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("Failed to initialize JWKS client", zap.Error(err))
	}
	authService := auth.NewAuthService(jwksClient, logger)
	authMiddleware := auth.NewMiddleware(authService, logger)

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(cfg, logger)
	healthHandler.RegisterRoutes(mux)

	submissionHandler := handlers.NewSubmissionHandler(submissionSvc, &cfg.Marketplace, logger)
	submissionHandler.RegisterRoutes(mux, authMiddleware)

	marketplaceHandler := handlers.NewMarketplaceHandler(submissionSvc, installSvc, updateSvc, lookupSvc, placementSvc, &cfg.Marketplace, logger)
	marketplaceHandler.RegisterRoutes(mux, authMiddleware)

	lookupHandler := handlers.NewLookupHandler(lookupSvc, logger)
	lookupHandler.RegisterRoutes(mux, authMiddleware)

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting marketplace-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
