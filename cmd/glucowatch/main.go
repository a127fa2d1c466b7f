package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"glucowatch/internal/config"
	"glucowatch/internal/database"
	"glucowatch/internal/dexcom"
	"glucowatch/internal/glucose"
	httpapi "glucowatch/internal/http"
	"glucowatch/internal/logger"
	"glucowatch/internal/notifier"
	"glucowatch/internal/poller"
	"glucowatch/internal/repository"
	"glucowatch/internal/service"
	"glucowatch/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	// Redis（最新状态缓存 + 事件流）
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	kv := store.NewRedisKV(redisClient)

	// Repositories
	usersRepo := repository.NewPostgresUsersRepository(db)
	tokensRepo := repository.NewPostgresTokensRepository(db)
	readingsRepo := repository.NewPostgresReadingsRepository(db)
	prefsRepo := repository.NewPostgresPreferencesRepository(db)
	messagesRepo := repository.NewPostgresMessagesRepository(db)

	// 通知链路：WebSocket Hub + Redis + 可选 MQTT
	hub := notifier.NewHub(log)
	defer hub.Close()

	var mqttPub *notifier.MQTTPublisher
	if cfg.MQTT.Enabled {
		mqttPub, err = notifier.NewMQTTPublisher(&cfg.MQTT, log)
		if err != nil {
			log.Warn("MQTT publisher disabled", zap.Error(err))
		} else {
			defer mqttPub.Disconnect()
		}
	}
	broadcaster := notifier.NewBroadcaster(cfg, kv, redisClient, hub, mqttPub, log)

	// Dexcom 客户端和服务层
	dexcomClient := dexcom.NewClient(&cfg.Dexcom, cfg.Poll.FetchWindow, log)
	tokenSvc := service.NewTokenService(tokensRepo, dexcomClient, cfg.Poll.RefreshAhead, log)
	readingSvc := service.NewReadingService(
		readingsRepo,
		prefsRepo,
		usersRepo,
		messagesRepo,
		glucose.NewDedupGuard(cfg.Poll.DedupEpsilon, cfg.Poll.DedupWindow),
		broadcaster,
		log,
	)
	messageSvc := service.NewMessageService(messagesRepo, usersRepo, log)

	// 轮询循环
	p := poller.New(cfg.Poll.Interval, usersRepo, tokenSvc, dexcomClient, readingSvc, broadcaster, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// HTTP 路由
	router := httpapi.NewRouter(log)
	httpapi.NewReadingHandler(readingSvc, log).Register(router)
	httpapi.NewPollHandler(p, log).Register(router)
	httpapi.NewWebhookHandler(readingSvc, log).Register(router)
	httpapi.NewPreferencesHandler(prefsRepo, log).Register(router)
	httpapi.NewMessageHandler(messageSvc, log).Register(router)
	httpapi.NewDexcomHandler(tokenSvc, dexcomClient, usersRepo, p, kv, cfg.Cache.LatestKeyPrefix, cfg.Cache.LatestSuffix, log).Register(router)
	httpapi.NewStatusHandler(kv, cfg.Cache.LatestKeyPrefix, cfg.Cache.LatestSuffix, log).Register(router)
	httpapi.NewUserHandler(usersRepo, log).Register(router)
	httpapi.NewWSHandler(hub, log).Register(router)

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		cancel()
	case err := <-errCh:
		log.Error("HTTP server exited", zap.Error(err))
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}
