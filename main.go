package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"IMCore/global"
	"IMCore/logger"
	"IMCore/module/chat/message"
	"IMCore/service/batcher"
	"IMCore/service/chat"
	kafkax "IMCore/service/dispatcher/kafka"
	"IMCore/service/mgo"
	"IMCore/service/natsx"
	redisx "IMCore/service/storage/redis"
	"IMCore/tools/ids"
	"IMCore/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func main() {
	cfgPath := flag.String("config", "", "path to the YAML config")
	flag.Parse()

	if err := global.Load(*cfgPath); err != nil {
		logger.Errorf("[boot] config: %v", err)
		os.Exit(1)
	}
	conf := global.Conf
	ids.SetNodeID(conf.Gateway.Node)

	gatewayID := conf.Gateway.ID
	if gatewayID == "" {
		gatewayID = "gw-" + uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// shared stores
	if err := redisx.InitRedis(redisx.Config{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
		PoolSize: conf.Redis.PoolSize,
	}); err != nil {
		logger.Errorf("[boot] redis: %v", err)
		os.Exit(1)
	}
	defer func() { _ = redisx.CloseRedis() }()

	mgo.StartAsync(ctx, &mgo.Config{
		Uri:         conf.Mongo.Uri,
		Database:    conf.Mongo.Database,
		Username:    conf.Mongo.Username,
		Password:    conf.Mongo.Password,
		MaxPoolSize: conf.Mongo.MaxPoolSize,
	})
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := mgo.WaitReady(waitCtx); err != nil {
		cancel()
		logger.Errorf("[boot] mongo: %v", err)
		os.Exit(1)
	}
	cancel()

	// fanout bus
	bus, err := natsx.NewNatsBus(natsx.Config{
		Servers:  conf.Nats.Servers,
		Name:     gatewayID,
		Username: conf.Nats.Username,
		Password: conf.Nats.Password,
	})
	if err != nil {
		logger.Errorf("[boot] nats: %v", err)
		os.Exit(1)
	}
	defer func() { _ = bus.Close() }()

	// optional archive mirror
	var archive func(*batcher.FlushResult)
	if conf.Kafka.Enabled {
		if err := kafkax.InitKafkaClient(kafkax.Config{
			Brokers:             conf.Kafka.Brokers,
			ProducerRetries:     conf.Kafka.Retries,
			ProducerCompression: conf.Kafka.Compression,
		}); err != nil {
			logger.Errorf("[boot] kafka: %v", err)
			os.Exit(1)
		}
		if err := kafkax.InitSyncProducerFromClient(); err != nil {
			logger.Errorf("[boot] kafka producer: %v", err)
			os.Exit(1)
		}
		defer kafkax.CloseProducer()
		archive = func(res *batcher.FlushResult) {
			kafkax.ArchiveBatch(res.ConvKey, res.Msgs)
		}
	}

	srv, err := chat.NewServer(chat.Options{
		Conf: chat.Conf{
			GatewayID:       gatewayID,
			SendQueueSize:   conf.Limits.SendQueueSize,
			PresenceTTL:     time.Duration(conf.Limits.PresenceTTLSec) * time.Second,
			RateLimit:       conf.Limits.RateLimit,
			RateWindow:      time.Duration(conf.Limits.RateWindowSec) * time.Second,
			BatchSize:       conf.Limits.BatchSize,
			BatchTimeout:    time.Duration(conf.Limits.BatchTimeoutMS) * time.Millisecond,
			TypingStopDelay: time.Duration(conf.Limits.TypingStopDelayMS) * time.Millisecond,
			ConvCacheTTL:    time.Duration(conf.Limits.ConvCacheTTLSec) * time.Second,
			UserCacheTTL:    time.Duration(conf.Limits.UserCacheTTLSec) * time.Second,
			PageLimit:       conf.Limits.PageLimit,
		},
		Auth: security.Options{
			Secret: global.JwtSecret(),
			Alg:    conf.Auth.Alg,
			TTL:    global.AuthTTL(),
		},
		Store:   message.NewStore(),
		Bus:     bus,
		Archive: archive,
	})
	if err != nil {
		logger.Errorf("[boot] gate: %v", err)
		os.Exit(1)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	srv.Routes(engine)

	go func() {
		logger.Infof("[boot] gateway %s listening on %s", gatewayID, conf.Gateway.Addr)
		if err := engine.Run(conf.Gateway.Addr); err != nil {
			logger.Errorf("[boot] listen: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("[boot] shutting down")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	srv.Close(shutCtx)
}
