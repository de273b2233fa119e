package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/cardiorisk/pkg/common/config"
	"github.com/synaptica-ai/cardiorisk/pkg/common/database"
	"github.com/synaptica-ai/cardiorisk/pkg/common/kafka"
	"github.com/synaptica-ai/cardiorisk/pkg/common/logger"
	"github.com/synaptica-ai/cardiorisk/pkg/common/middleware"
	"github.com/synaptica-ai/cardiorisk/pkg/features"
	"github.com/synaptica-ai/cardiorisk/pkg/pipeline"
	"github.com/synaptica-ai/cardiorisk/pkg/riskservice"
	"github.com/synaptica-ai/cardiorisk/pkg/storage"
)

func main() {
	logger.Init()
	cfg, err := config.Load()
	if err != nil {
		logger.Log.WithError(err).Fatal("Invalid configuration")
	}

	rules, err := features.LoadRules(cfg.RulesPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load classification rules")
	}
	p, err := pipeline.New(pipeline.OptionsFromConfig(cfg, rules))
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to build pipeline")
	}

	var opts []riskservice.Option
	if cfg.PostgresEnabled {
		db, err := database.GetPostgres(cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("Failed to connect to PostgreSQL")
		}
		defer database.ClosePostgres()
		repo := storage.NewRunRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("Failed to migrate risk tables")
		}
		opts = append(opts, riskservice.WithStore(repo))
	}
	if cfg.RedisEnabled {
		client := database.GetRedis(cfg)
		defer database.CloseRedis()
		opts = append(opts, riskservice.WithCache(storage.NewScoreCache(client, cfg.ScoreCacheTTL)))
	}
	var producer *kafka.Producer
	if cfg.KafkaEnabled {
		producer = kafka.NewProducer(cfg, cfg.ScoredTopic)
		defer producer.Close()
		opts = append(opts, riskservice.WithPublisher(producer))
	}

	service := riskservice.NewService(p, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.KafkaEnabled {
		consumer := kafka.NewConsumer(cfg, cfg.RunRequestTopic, "")
		defer consumer.Close()
		go func() {
			if err := consumer.Consume(ctx, service.HandleRunRequest); err != nil && ctx.Err() == nil {
				logger.Log.WithError(err).Error("Run request consumer stopped")
			}
		}()
	}

	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging, middleware.CORS)
	riskservice.NewHTTPHandler(service, cfg.MaxRequestBody).
		LimitUploads(cfg.RateLimitRPS, cfg.RateLimitBurst).
		Register(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":           cfg.ServerHost,
			"port":           cfg.ServerPort,
			"reference_date": cfg.ReferenceDate.Format(config.DateLayout),
		}).Info("Risk Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Risk Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Risk Service stopped")
}
