// Package main runs the QBox HTTP server with WebSocket rooms and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qbox-app/backend/config"
	"github.com/qbox-app/backend/internal/archive"
	"github.com/qbox-app/backend/internal/auth"
	"github.com/qbox-app/backend/internal/middleware"
	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/internal/moderation"
	"github.com/qbox-app/backend/internal/questions"
	"github.com/qbox-app/backend/internal/realtime"
	"github.com/qbox-app/backend/internal/rooms"
	"github.com/qbox-app/backend/pkg/database"
	"github.com/qbox-app/backend/pkg/queue"
	"github.com/qbox-app/backend/pkg/redis"
	"github.com/qbox-app/backend/pkg/response"
	"github.com/qbox-app/backend/pkg/storage"
)

type stores struct {
	users     auth.Store
	rooms     rooms.Store
	questions questions.Store
}

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	var st stores
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		st = stores{users: auth.NewMemoryStore(), rooms: rooms.NewMemoryStore(), questions: questions.NewMemoryStore()}
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		st = stores{users: auth.NewRepository(pool), rooms: rooms.NewRepository(pool), questions: questions.NewRepository(pool)}
	}

	var (
		hub      *realtime.Hub
		tags     rooms.TagIssuer = rooms.NewMemoryTagIssuer()
		jobQueue *queue.Queue
	)
	if cfg.Redis.Enabled() {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, redisPubSub, redisPubSub)
		tags = rooms.NewRedisTagIssuer(rdb.Client)
		jobQueue = queue.NewQueue(rdb.Client, logger)
	} else {
		logger.Info("redis disabled; broadcasting to local sessions only")
		hub = realtime.NewHub(logger, nil, nil)
	}

	var s3Client *storage.S3
	if cfg.AWS.Enabled() {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ArchivesBucket:       cfg.AWS.ArchivesBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	moderator, err := moderation.NewModerator(cfg.Moderation.CensoredWords, cfg.Moderation.CensorChar)
	if err != nil {
		logger.Fatal("moderation", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	authHandler := auth.NewHandler(st.users, jwtService, logger)

	var roomOpts []rooms.Option
	if s3Client != nil {
		roomOpts = append(roomOpts, rooms.WithArchivePresigner(s3Client))
		if jobQueue != nil {
			roomOpts = append(roomOpts, rooms.WithArchiveQueue(jobQueue))
		}
	}
	roomService := rooms.NewService(st.rooms, st.users, tags, hub, logger, roomOpts...)
	roomHandler := rooms.NewHandler(roomService)

	questionService := questions.NewService(st.questions, st.rooms, hub, moderator, logger)
	questionHandler := questions.NewHandler(questionService)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := router.Group("")
	authHandler.Register(public)

	lecturer := router.Group("")
	lecturer.Use(middleware.JWT(jwtService), middleware.RequireRole(models.RoleLecturer, models.RoleAdmin))

	roomHandler.Register(public, lecturer)
	questionHandler.Register(public, lecturer)

	// WebSocket (students anonymous; lecturers may pass ?token=)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtService.Identify, cfg.Realtime.SendBuffer))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background archive worker, when both the queue and S3 are available
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if jobQueue != nil && s3Client != nil {
		processor := archive.NewProcessor(st.rooms, st.questions, s3Client, jobQueue, logger)
		go processor.Run(workerCtx)
		logger.Info("archive worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
