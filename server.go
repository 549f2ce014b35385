package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EvgeniiGolubev/backend-test-task/api/handlers"
	"github.com/EvgeniiGolubev/backend-test-task/api/middleware"
	"github.com/EvgeniiGolubev/backend-test-task/api/routes"
	"github.com/EvgeniiGolubev/backend-test-task/config"
	"github.com/EvgeniiGolubev/backend-test-task/db"
	"github.com/EvgeniiGolubev/backend-test-task/services"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithField("level", level).Warn("unknown log level, using info")
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	if err := config.LoadConfig(configPath); err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	conf := config.AppConfig
	setupLogging(conf.Logs.Level)
	logrus.WithField("driver", conf.Databases.Driver).Info("starting server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.ConnectDB(conf); err != nil {
		logrus.WithError(err).Fatal("failed to connect to the database")
	}
	defer db.Close()

	var redisClient *redis.Client
	if conf.RedisEnabled() {
		client, err := services.NewRedisClient(ctx, conf)
		if err != nil {
			logrus.WithError(err).Warn("redis is unavailable, friends are read from the database")
		} else {
			redisClient = client
			defer redisClient.Close()
		}
	}

	ws := services.NewWSConnManager()

	var publisher services.EventPublisher
	if conf.RabbitMQ.URL != "" {
		rabbit, err := services.NewRabbitPublisher(conf.RabbitMQ.URL, conf.RabbitMQ.Exchange)
		if err != nil {
			logrus.WithError(err).Warn("RabbitMQ is unavailable, notifications go straight to websocket")
		} else {
			defer rabbit.Close()
			if err := rabbit.StartConsumer(ctx, conf.RabbitMQ.Queue, ws); err != nil {
				logrus.WithError(err).Warn("failed to start relation event consumer")
			}
			publisher = rabbit
		}
	}

	friends := services.NewFriendMirror(services.NewFriendshipCache(db.ORM), redisClient)

	engineOpts := []services.EngineOption{
		services.WithFriendMirror(friends),
		services.WithNotifier(services.NewRelationNotifier(publisher, ws)),
		services.WithOperationRecorder(middleware.RecordRelationOperation),
	}
	if redisClient != nil {
		ttl := time.Duration(conf.Redis.LockTTLSeconds) * time.Second
		engineOpts = append(engineOpts, services.WithPairLocker(services.NewRedisPairLocker(redisClient, ttl)))
	}

	users := services.NewUserService(db.ORM)
	h := handlers.NewHandler(handlers.Deps{
		Users:    users,
		Profile:  services.NewProfileService(db.ORM, friends),
		Engine:   services.NewRelationEngine(services.NewGormRelationStore(db.ORM), engineOpts...),
		Posts:    services.NewPostService(db.ORM),
		Messages: services.NewMessageService(db.ORM, friends),
		WS:       ws,
	})

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.PrometheusMiddleware("social"))

	routes.PublicApi(router, h)
	routes.ProtectedApi(router, h, users)
	routes.MetricsApi(router)

	srv := &http.Server{
		Addr:    conf.ListenAddr(),
		Handler: router,
	}
	go func() {
		logrus.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("graceful shutdown failed")
	}
}
