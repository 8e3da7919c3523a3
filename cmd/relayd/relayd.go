package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ultrazend/relay/internal/api"
	"github.com/ultrazend/relay/internal/audit"
	"github.com/ultrazend/relay/internal/config"
	"github.com/ultrazend/relay/internal/dao"
	"github.com/ultrazend/relay/internal/dispatch"
	"github.com/ultrazend/relay/internal/metrics"
	"github.com/ultrazend/relay/internal/msa"
	"github.com/ultrazend/relay/internal/quota"
	"github.com/ultrazend/relay/internal/retry"
	"github.com/ultrazend/relay/internal/sender"
	"github.com/ultrazend/relay/internal/signals"
	"github.com/ultrazend/relay/internal/verp"
	"github.com/ultrazend/relay/tools"
	"github.com/urfave/cli/v2"
)

func main() {

	app := &cli.App{
		Name:   "relayd",
		Usage:  "a service for sending transactional emails",
		Action: start,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Action: start,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type Stoppable interface {
	Stop(ctx context.Context) error
}

// stopFunc adapts services whose shutdown takes no context.
type stopFunc func()

func (f stopFunc) Stop(ctx context.Context) error {
	f()
	return nil
}

// stopAll stops the given services concurrently and returns once all of them
// have finished.
func stopAll(ctx context.Context, l *log.Logger, services ...Stoppable) {
	wg := &sync.WaitGroup{}
	for _, service := range services {
		wg.Add(1)
		service := service
		go func() {
			defer wg.Done()
			err := service.Stop(ctx)
			if err != nil {
				l.WithError(err).Error("failed to stop service")
			}
		}()
	}
	wg.Wait()
}

func start(c *cli.Context) error {

	cfg, err := config.New()
	if err != nil {
		return err
	}

	l := log.New()
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	l.SetLevel(level)
	l.AddHook(tools.LoggerWho{Name: "relayd"})
	lc := tools.LoggerCloner(l)

	l.Infof("starting relay on %s", cfg.Hostname)

	db, err := dao.NewSQLite(cfg.DbURI)
	if err != nil {
		return err
	}

	hub := signals.NewHub()

	m := metrics.New(metrics.Config{
		ServiceName:  "relayd",
		Push:         cfg.MetricsPush,
		PushInterval: cfg.MetricsPushInterval,
		Poll:         cfg.MetricsPoll,
		PollUser:     cfg.MetricsPollUser,
		PollPassword: cfg.MetricsPollPassword,
	}, lc)
	m.Start()

	collector := metrics.NewCollector(metrics.CollectorConfig{
		QueueSize:      cfg.MetricsQueueSize,
		FailureRatePct: cfg.AlertFailureRatePct,
		MinSample:      cfg.AlertMinSample,
		Window:         cfg.AlertWindow,
		LatencyCeiling: cfg.AlertLatencyCeiling,
	}, db, m, lc)
	collector.Start()

	auditLog := audit.New(cfg.AuditQueueSize, db, lc)
	auditLog.Start()

	gen := verp.New(cfg.Hostname)

	validator := sender.New(sender.Config{
		InternalDomains: cfg.InternalDomains,
		PlatformDomain:  cfg.PlatformDomain,
	}, db, lc)

	guard := quota.New(db, lc)

	scheduler := retry.New(retry.Config{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
	}, db, hub, lc)

	transport := dispatch.NewSMTPRelay(cfg.SMTPRelayHost, cfg.SMTPRelayPort, cfg.SMTPRelayUser, cfg.SMTPRelayPass)

	dispatcher := dispatch.New(dispatch.Config{
		Hostname:         cfg.Hostname,
		ServiceName:      "ultrazend-relay",
		Workers:          cfg.Workers,
		TransportTimeout: cfg.TransportTimeout,
	}, db, transport, scheduler, collector, lc)
	dispatcher.Start()
	scheduler.Start(dispatcher)

	server := api.New(api.Config{
		Port:           cfg.APIPort,
		AutoTLS:        cfg.APIAutoTLS,
		AutoTLSEmail:   cfg.APIAutoTLSEmail,
		Hostname:       cfg.Hostname,
		RequestMetrics: true,
	}, db, validator, guard, gen, dispatcher, collector, auditLog, m, lc)
	server.Start()

	receiver, err := msa.New(msa.Config{
		Hostname: cfg.Hostname,
		Port:     cfg.MXPort,
	}, db, gen, collector, lc)
	if err != nil {
		return err
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	sig := <-sigc
	l.Infof("got signal %s, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	go func() {
		<-shutdownCtx.Done()
		l.WithError(shutdownCtx.Err()).Warn("shutdown was forced, terminating now")
		os.Exit(1)
	}()

	// stop taking in new work first, then drain the pipeline and observers
	stopAll(shutdownCtx, l, server, stopFunc(receiver.Stop))
	stopAll(shutdownCtx, l, scheduler, dispatcher, collector, auditLog, m)

	err = db.Close()
	if err != nil {
		l.WithError(err).Error("failed to close database")
	}

	l.Info("shutdown complete")
	return nil
}
