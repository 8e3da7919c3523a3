// Package api is the http surface of the relay, message submission, status
// queries and the metrics endpoint.
package api

import (
	"context"
	"fmt"
	"sync"

	echoprom "github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/ultrazend/relay/internal/audit"
	"github.com/ultrazend/relay/internal/dao"
	"github.com/ultrazend/relay/internal/dispatch"
	"github.com/ultrazend/relay/internal/metrics"
	"github.com/ultrazend/relay/internal/quota"
	"github.com/ultrazend/relay/internal/sender"
	"github.com/ultrazend/relay/internal/verp"
	"github.com/ultrazend/relay/tools"
	"golang.org/x/crypto/acme/autocert"
)

type Config struct {
	Port int

	// AutoTLS obtains a certificate for Hostname through Let's Encrypt and
	// serves on :443 instead of Port.
	AutoTLS      bool
	AutoTLSEmail string
	Hostname     string

	// RequestMetrics adds the echo prometheus middleware, which registers on
	// the process global registry and so is enabled only by the daemon.
	RequestMetrics bool
}

type Server struct {
	cfg Config
	e   *echo.Echo
	log *logrus.Logger

	db         dao.DAO
	validator  *sender.Validator
	guard      *quota.Guard
	verp       *verp.Generator
	dispatcher *dispatch.Dispatcher
	collector  *metrics.Collector
	audit      *audit.Log

	ostart sync.Once
	ostop  sync.Once
}

func New(cfg Config, db dao.DAO, validator *sender.Validator, guard *quota.Guard, gen *verp.Generator,
	dispatcher *dispatch.Dispatcher, collector *metrics.Collector, auditLog *audit.Log,
	m *metrics.Metrics, lc *tools.Logger) *Server {

	s := &Server{
		cfg:        cfg,
		log:        lc.New("api"),
		db:         db,
		validator:  validator,
		guard:      guard,
		verp:       gen,
		dispatcher: dispatcher,
		collector:  collector,
		audit:      auditLog,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	if cfg.RequestMetrics {
		prom := echoprom.NewPrometheus("relay", nil)
		e.Use(prom.HandlerFunc)
	}

	e.POST("/send", s.Send)
	e.POST("/send/batch", s.SendBatch)
	e.GET("/emails/:messageId", s.GetEmail)
	e.GET("/metrics", echo.WrapHandler(m.HttpMetrics()))

	s.e = e
	return s
}

func (s *Server) Start() {
	s.ostart.Do(func() {
		go func() {
			var err error
			if s.cfg.AutoTLS {
				s.e.AutoTLSManager.HostPolicy = autocert.HostWhitelist(s.cfg.Hostname)
				s.e.AutoTLSManager.Cache = autocert.DirCache(".cache")
				s.e.AutoTLSManager.Email = s.cfg.AutoTLSEmail
				s.log.Infof("starting api with auto tls for %s", s.cfg.Hostname)
				err = s.e.StartAutoTLS(":443")
			} else {
				s.log.Infof("starting api on :%d", s.cfg.Port)
				err = s.e.Start(fmt.Sprintf(":%d", s.cfg.Port))
			}
			if err != nil {
				s.log.WithError(err).Error("api server stopped")
			}
		}()
	})
}

func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.ostop.Do(func() {
		err = s.e.Shutdown(ctx)
		if err == nil {
			s.log.Info("api has been shut down")
		}
	})
	return err
}
