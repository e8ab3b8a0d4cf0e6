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

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"callrelay-backend/internal/database"
	callHandler "callrelay-backend/internal/handler/http/call"
	presenceHandler "callrelay-backend/internal/handler/http/presence"
	pushHandler "callrelay-backend/internal/handler/http/push"
	wsHandler "callrelay-backend/internal/handler/ws"
	"callrelay-backend/internal/middleware"
	"callrelay-backend/internal/presence"
	"callrelay-backend/internal/registry"
	"callrelay-backend/internal/repository/cockroach"
	"callrelay-backend/internal/repository/memory"
	redisRepo "callrelay-backend/internal/repository/redis"
	"callrelay-backend/internal/ringtimer"
	"callrelay-backend/internal/service/call"
	"callrelay-backend/internal/service/relay"
	"callrelay-backend/internal/signaling"
	"callrelay-backend/pkg/config"
	"callrelay-backend/pkg/constants"
	"callrelay-backend/pkg/jwt"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
	"callrelay-backend/pkg/push"
)

// devJWTSecret is only used outside production when JWT_SECRET is unset
const devJWTSecret = "development-only-signing-secret-change-me"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("Signaling service stopped with error", zap.Error(err))
	}
	logger.Info("Signaling service stopped")
}

// stores groups the persistence collaborators of the call service
type stores struct {
	calls call.CallRepository
	users call.UserRepository
	convs call.ConversationRepository
	// memUsers is set when running without CockroachDB
	memUsers *memory.UserRepository
}

func run(ctx context.Context, cfg *config.Config) error {
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	// 1. Storage
	st, db, err := openStores(ctx, cfg, appMetrics)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	// 2. Redis with degraded mode support
	redisDB := database.NewRedisDB(&database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	}, appMetrics)
	defer redisDB.Close()
	if err := redisDB.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unavailable, starting in degraded mode", zap.Error(err))
	}
	redisDB.StartHealthCheck(ctx, 10*time.Second)

	// 3. Push notifications for unreachable callees
	provider, err := push.NewProvider(ctx, cfg.Push)
	if err != nil {
		return fmt.Errorf("failed to initialize push provider: %w", err)
	}
	pushSvc := push.NewService(provider, redisRepo.NewPushTokenRepository(redisDB), appMetrics)

	// 4. Signaling core
	conns := registry.NewConnectionRegistry()
	routes := registry.NewCallRoutes()
	timers := ringtimer.NewScheduler(appMetrics)
	defer timers.Stop()

	hub := wsHandler.NewSignalingHub(wsHandler.Options{
		MaxConnections: cfg.Signaling.MaxConnections,
		SendBufferSize: cfg.Signaling.SendBufferSize,
		PingInterval:   cfg.Signaling.PingInterval,
		WriteWait:      cfg.Signaling.WriteWait,
		MaxMessageSize: cfg.Signaling.MaxMessageSize,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, appMetrics)
	dispatcher := signaling.NewDispatcher(conns, hub, appMetrics)

	tracker := presence.NewTracker(conns, dispatcher, redisRepo.NewPresenceRepository(redisDB), appMetrics)
	callSvc := call.NewService(call.Deps{
		Calls:         st.calls,
		Users:         st.users,
		Conversations: st.convs,
		Emitter:       dispatcher,
		Routes:        routes,
		Timers:        timers,
		Online:        conns,
		Notifier:      pushSvc,
		Metrics:       appMetrics,
	}, call.Config{
		RingTimeout:    cfg.Signaling.RingTimeout,
		EndedCallTTL:   cfg.Signaling.EndedCallTTL,
		StorageTimeout: cfg.Signaling.StorageTimeout,
	})
	stopCleanup := callSvc.StartCleanup(time.Minute)
	defer stopCleanup()

	relaySvc := relay.NewService(callSvc, routes, conns, dispatcher, appMetrics)
	gateway := signaling.NewGateway(signaling.GatewayDeps{
		Registry: conns,
		Presence: tracker,
		Calls:    callSvc,
		Relay:    relaySvc,
		Routes:   routes,
		Emitter:  dispatcher,
		Metrics:  appMetrics,
	}, signaling.Limits{
		EventsPerSecond: cfg.Signaling.EventsPerSecond,
		Burst:           cfg.Signaling.EventBurst,
	})

	// 5. HTTP surface
	jwtManager, err := newJWTManager(cfg)
	if err != nil {
		return err
	}
	auth := middleware.AuthMiddleware(jwtManager, redisRepo.NewRevocationRepository(redisDB))

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "healthy",
			"service":        cfg.Server.ServiceName,
			"redis_degraded": redisDB.IsDegraded(),
			"connections":    hub.Len(),
			"live_calls":     callSvc.LiveCount(),
			"time":           time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	v1 := router.Group("/v1")
	v1.Use(auth)
	if st.memUsers != nil {
		v1.Use(provisionUser(st.memUsers))
	}

	// WebSocket endpoint; its connection outlives the request, so no timeout
	v1.GET("/ws", wsHandler.NewSignalingHandler(hub, gateway).ServeWS)

	api := v1.Group("")
	api.Use(middleware.Timeout(constants.DefaultTimeout * 2))
	api.Use(middleware.NewRateLimiter(redisDB, 120, time.Minute).Middleware())
	if db != nil {
		api.Use(middleware.NewDBPoolLimiter(db.Pool).Middleware())
	}
	{
		calls := callHandler.NewHandler(callSvc)
		api.POST("/calls/initiate", calls.InitiateCall)
		api.POST("/calls/:id/accept", calls.AcceptCall)
		api.POST("/calls/:id/reject", calls.RejectCall)
		api.POST("/calls/:id/end", calls.EndCall)
		api.GET("/calls/:id", calls.GetCallStatus)

		presences := presenceHandler.NewHandler(tracker)
		api.GET("/presence", presences.GetPresence)
		api.GET("/presence/:id", presences.GetUserPresence)

		tokens := pushHandler.NewHandler(pushSvc)
		api.POST("/push/tokens", tokens.RegisterToken)
		api.DELETE("/push/tokens", tokens.UnregisterToken)
		api.GET("/push/tokens", tokens.GetTokens)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Signaling service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.Server.Environment),
			zap.Bool("database", db != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down signaling service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
		defer cancel()
		hub.CloseAll()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStores connects to CockroachDB when configured and falls back to the
// in-memory store otherwise
func openStores(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*stores, *database.CockroachDB, error) {
	if !cfg.UsesDatabase() {
		if cfg.Server.Environment == "production" {
			return nil, nil, errors.New("DB_HOST must be set in production")
		}
		logger.Warn("DB_HOST not set, using in-memory call store")
		users := memory.NewUserRepository()
		return &stores{
			calls:    memory.NewCallRepository(),
			users:    users,
			convs:    memory.NewConversationRepository(),
			memUsers: users,
		}, nil, nil
	}

	dbCfg := &database.CockroachConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	}
	if cfg.Database.RunMigrations {
		if err := database.RunMigrations(dbCfg); err != nil {
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	db, err := database.NewCockroachDB(ctx, dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to CockroachDB: %w", err)
	}
	logger.Info("Connected to CockroachDB",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database))

	return &stores{
		calls: cockroach.NewCallRepository(db.Pool, m),
		users: cockroach.NewUserRepository(db.Pool, m),
		convs: cockroach.NewConversationRepository(db.Pool, m),
	}, db, nil
}

func newJWTManager(cfg *config.Config) (*jwt.JWTManager, error) {
	secret := cfg.JWT.Secret
	if secret == "" {
		if cfg.Server.Environment == "production" {
			return nil, errors.New("JWT_SECRET is required")
		}
		logger.Warn("JWT_SECRET not set, using the development signing secret")
		secret = devJWTSecret
	}
	return jwt.NewJWTManager(secret, cfg.JWT.Issuer, 15*time.Minute), nil
}

// provisionUser registers authenticated users in the in-memory user store so
// they can place and receive calls without an external user service
func provisionUser(users *memory.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID, ok := c.Get("user_id"); ok {
			if id, ok := userID.(uuid.UUID); ok {
				users.Ensure(id, c.GetString("username"))
			}
		}
		c.Next()
	}
}
