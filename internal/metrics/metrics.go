package metrics

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/sirupsen/logrus"
	"github.com/ultrazend/relay/tools"
)

type Config struct {
	ServiceName  string
	Push         string
	PushInterval time.Duration
	Poll         bool
	PollUser     string
	PollPassword string
}

// Metrics owns the prometheus plumbing, either pushed to a gateway or polled
// from an endpoint with optional basic auth.
func New(c Config, lc *tools.Logger) *Metrics {
	p := &Metrics{
		config:   c,
		logger:   lc.New("prometheus"),
		registry: prometheus.NewRegistry(),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if c.Push != "" {
		p.pusher = push.New(c.Push, c.ServiceName).Gatherer(p.registry)
	}
	return p
}

type Metrics struct {
	done    chan struct{}
	stopped chan struct{}

	config   Config
	registry *prometheus.Registry
	pusher   *push.Pusher
	logger   *logrus.Logger

	once sync.Once
	stop sync.Once
}

func (p *Metrics) Start() {
	p.once.Do(func() {
		if p.config.PushInterval.Seconds() < 10 {
			p.config.PushInterval = 1 * time.Minute
		}
		if p.pusher == nil {
			close(p.stopped)
			return
		}
		go func() {
			defer close(p.stopped)

			ticker := time.NewTicker(p.config.PushInterval)
			defer ticker.Stop()
			for {
				select {
				case <-p.done:
					return
				case <-ticker.C:
					p.push()
				}
			}
		}()
	})
}

func (p *Metrics) Stop(ctx context.Context) error {
	p.stop.Do(func() {
		close(p.done)
	})
	select {
	case <-p.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *Metrics) Register() promauto.Factory {
	return promauto.With(p.registry)
}

func (p *Metrics) HttpMetrics() http.HandlerFunc {

	if !p.config.Poll {
		p.logger.Infof("metrics polling is disabled")
		return func(writer http.ResponseWriter, request *http.Request) {
			http.Error(writer, "Not Found", http.StatusNotFound)
		}
	}
	p.logger.Infof("metrics polling is enabled")

	if p.config.PollUser != "" || p.config.PollPassword != "" {
		p.logger.WithField("user", p.config.PollUser).Infof("basic auth enabled for metrics polling endpoint")
	}

	return func(writer http.ResponseWriter, request *http.Request) {
		if p.config.PollUser != "" || p.config.PollPassword != "" {
			user, pass, ok := request.BasicAuth()
			if !ok || user != p.config.PollUser || subtle.ConstantTimeCompare([]byte(pass), []byte(p.config.PollPassword)) != 1 {
				http.Error(writer, "Unauthorized.", http.StatusUnauthorized)
				return
			}
		}
		promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}).ServeHTTP(writer, request)
	}
}

func (p *Metrics) push() {
	if p.pusher == nil {
		return
	}
	p.logger.Infof("pushing metrics to %s", p.config.Push)
	err := p.pusher.Push()
	if err != nil {
		p.logger.Errorf("failed to push metrics: %v", err)
	}
}
