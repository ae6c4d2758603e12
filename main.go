package graphqlapp

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/graph-gophers/graphql-go"
	log "github.com/sirupsen/logrus"
)

// Main serves schema with the configuration given on the command line. This
// function is exported so that services only need to provide their schema
// and import the plugins they use.
func Main(schema *graphql.Schema) {
	ctx := context.Background()

	var configFiles arrayFlags
	flag.Var(&configFiles, "config", "Config file (can appear multiple times)")
	flag.Parse()

	log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	cfg, err := GetConfig(configFiles)
	if err != nil {
		log.WithError(err).Fatal("failed to get config")
	}
	go cfg.Watch()

	shutdown, err := InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		log.WithError(err).Error("error creating telemetry")
	}

	defer func() {
		if shutdown == nil {
			return
		}
		log.Info("flushing and shutting down telemetry")
		if err := shutdown(context.Background()); err != nil {
			log.WithError(err).Error("shutting down telemetry")
		}
	}()

	err = cfg.Init(schema)
	if err != nil {
		log.WithError(err).Fatal("failed to configure")
	}

	log.WithField("config", cfg).Debug("configuration")

	RegisterMetrics()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go runHandler(ctx, &wg, "metrics", cfg.MetricAddress(), cfg.DefaultTimeouts, NewMetricsHandler())
	go runHandler(ctx, &wg, "public", cfg.Address(), cfg.PublicTimeouts, cfg.App().Router())

	wg.Wait()
}

func runHandler(ctx context.Context, wg *sync.WaitGroup, name, addr string, timeouts TimeoutConfig, handler http.Handler) {
	defer wg.Done()

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  timeouts.ReadTimeoutDuration,
		WriteTimeout: timeouts.WriteTimeoutDuration,
		IdleTimeout:  timeouts.IdleTimeoutDuration,
	}

	go func() {
		log.WithField("addr", addr).Infof("serving %s handler", name)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Fatal("server terminated unexpectedly")
		}
	}()

	<-ctx.Done()

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Infof("shutting down %s handler", name)
	if err := srv.Shutdown(timeoutCtx); err != nil {
		log.WithError(err).Error("error shutting down server")
	}
	log.Infof("shut down %s handler", name)
}
