package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spotiqueue/server/internal/admin"
	"github.com/spotiqueue/server/internal/admission"
	"github.com/spotiqueue/server/internal/audit"
	"github.com/spotiqueue/server/internal/auth"
	"github.com/spotiqueue/server/internal/config"
	"github.com/spotiqueue/server/internal/cooldown"
	"github.com/spotiqueue/server/internal/identity"
	"github.com/spotiqueue/server/internal/lock"
	"github.com/spotiqueue/server/internal/moderation"
	"github.com/spotiqueue/server/internal/prequeue"
	"github.com/spotiqueue/server/internal/queueview"
	"github.com/spotiqueue/server/internal/settings"
	"github.com/spotiqueue/server/internal/spotify"
	"github.com/spotiqueue/server/internal/store"
	"github.com/spotiqueue/server/internal/voting"
	"github.com/spotiqueue/server/internal/ws"
	"github.com/spotiqueue/server/pkg/database"
	"github.com/spotiqueue/server/pkg/events"
	"github.com/spotiqueue/server/pkg/jwt"
	"github.com/spotiqueue/server/pkg/logger"
	"github.com/spotiqueue/server/pkg/metrics"
	"github.com/spotiqueue/server/pkg/redis"
)

const (
	adminSessionTTL = 12 * time.Hour
	lockTTL         = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	var db store.Store
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		db = store.NewMemory()
	default:
		mysql, err := database.NewMySQLDB(cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.User, cfg.MySQL.Password, cfg.MySQL.Database, log)
		if err != nil {
			return err
		}
		defer mysql.Close()
		db = mysql
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       0,
	})
	defer redisClient.Close()

	var locker lock.Locker = lock.NewLocal()
	if cfg.LockDriver == "redis" {
		locker = redis.NewLocker(redisClient, lockTTL)
	}

	hub := ws.NewHub(cfg.CORSOrigins, log)
	var publisher events.Publisher = hub
	if cfg.Kafka.Enabled() {
		kafka := events.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.Topic, events.InstanceGroup(cfg.Kafka.GroupID))
		defer kafka.Close()
		publisher = kafka
		go func() {
			if err := hub.Run(ctx, kafka); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("event relay stopped", zap.Error(err))
			}
		}()
	}

	catalog := spotify.NewClient(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret, cfg.Spotify.RedirectURI,
		redis.NewTokenStore(redisClient), cfg.UpstreamTimeout)

	cfgSvc := settings.NewService(db, publisher, log)
	ledger := identity.NewLedger(db, log)
	bans := moderation.NewBans(db, log)
	engine := cooldown.NewEngine(db, ledger, locker, log)
	recorder := audit.NewRecorder(db, publisher, log)
	view := queueview.New(catalog, db, cfgSvc, cfg.QueueCacheTTL, log)
	cfgSvc.OnChange(view.OnSettingsChange)

	workflow := prequeue.NewWorkflow(prequeue.Deps{
		Store:     db,
		Catalog:   catalog,
		Ledger:    ledger,
		Cooldown:  engine,
		Recorder:  recorder,
		Locker:    locker,
		Settings:  cfgSvc,
		Publisher: publisher,
		Queue:     view,
		Log:       log,
	})
	coord := admission.NewCoordinator(admission.Deps{
		Store:    db,
		Catalog:  catalog,
		Ledger:   ledger,
		Bans:     bans,
		Cooldown: engine,
		Prequeue: workflow,
		Recorder: recorder,
		Settings: cfgSvc,
		Queue:    view,
		Log:      log,
	})
	votes := voting.NewLedger(db, ledger, locker, cfgSvc, view, publisher, log)
	adminSvc := admin.NewService(db, ledger, engine, bans, cfgSvc, view, publisher, log)

	signer := jwt.NewSigner(cfg.JWTSecret, adminSessionTTL)
	authHandler, err := auth.NewHandler(catalog, signer, auth.Options{
		PasswordHash: cfg.AdminPasswordHash,
		Password:     cfg.AdminPassword,
		FrontendURL:  cfg.FrontendURL,
		Secure:       cfg.Env == "production",
	}, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		return err
	}

	router := gin.New()
	router.Use(gin.Recovery(), logger.GinLogger(log), metrics.GinMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	authHandler.RegisterRoutes(api)
	admission.NewHandler(coord, view, cfgSvc, admission.OAuth{
		GithubConfigured: cfg.GithubOAuthConfigured,
		GoogleConfigured: cfg.GoogleOAuthConfigured,
	}, log).RegisterRoutes(api)
	voting.NewHandler(votes).RegisterRoutes(api)
	api.GET("/ws", hub.HandleWebSocket)

	protected := api.Group("")
	protected.Use(auth.AuthMiddleware(signer))
	{
		prequeue.NewHandler(workflow).RegisterRoutes(protected)
		admin.NewHandler(adminSvc).RegisterRoutes(protected)
	}

	// Serve frontend static files and SPA fallback
	router.NoRoute(func(c *gin.Context) {
		cleanPath := filepath.Clean(c.Request.URL.Path)
		filePath := filepath.Join("frontend/dist", cleanPath)
		if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
			c.File(filePath)
		} else {
			c.File("frontend/dist/index.html")
		}
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", zap.Error(err))
		}
	}()

	log.Info("server starting",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.StoreDriver),
		zap.String("lock", cfg.LockDriver),
		zap.Bool("kafka", cfg.Kafka.Enabled()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
