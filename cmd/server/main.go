package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/remora-io/catalog-relay/modules/catalog"
	"github.com/remora-io/catalog-relay/pkg/configuration"
	"github.com/remora-io/catalog-relay/pkg/mq"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), time.Second*5)
	defer bootCancel()
	pool, err := pgxpool.New(bootCtx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: conf.RedisURL})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis client")
		}
	}()

	transport, err := mq.DialAMQP(conf.Broker.URL)
	if err != nil {
		log.Fatalf("failed to connect to broker at %s: %v", conf.Broker.URL, err)
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logger.WithError(err).Warn("failed to close broker connection")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	module := catalog.NewModule(&catalog.ModuleOptions{
		Pool:      pool,
		Redis:     rdb,
		Transport: transport,
		Broker:    conf.Broker,
		Sync:      conf.Sync,
		Logger:    logger.WithField("module", "catalog"),
	})
	if err := module.Run(ctx); err != nil {
		log.Fatalf("failed to start catalog module: %v", err)
	}

	if conf.Prometheus.Enabled {
		go serveMetrics(conf, logger.WithField("component", "metrics"))
	}

	logger.WithField("queue", conf.Broker.RPCQueue).Info("catalog relay is up")
	<-ctx.Done()
	logger.Info("shutting down")
	conf.Unload()
}

func serveMetrics(conf *configuration.Configuration, logger *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle(conf.Prometheus.Path, promhttp.Handler())
	logger.Infof("metrics exposed on %s%s", conf.SocketAddress, conf.Prometheus.Path)
	if err := http.ListenAndServe(conf.SocketAddress, mux); err != nil {
		logger.WithError(err).Error("metrics server stopped")
	}
}
