package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	// Hostname of this node, used for message ids and VERP return paths,
	// eg mx0.ultrazend.com
	Hostname string `env:"RELAY_HOSTNAME" envDefault:"localhost"`

	// PlatformDomain is the domain unverified senders are rewritten onto,
	// eg ultrazend.com
	PlatformDomain string `env:"RELAY_PLATFORM_DOMAIN" envDefault:"ultrazend.com"`

	// InternalDomains are platform owned domains whose senders always pass
	// validation unchanged.
	InternalDomains []string `env:"RELAY_INTERNAL_DOMAINS" envSeparator:"," envDefault:"ultrazend.com,mail.ultrazend.com"`

	DbURI string `env:"RELAY_DB_URI" envDefault:"./relay.sqlite"`

	// Workers bounds how many dispatches run concurrently.
	Workers int `env:"RELAY_WORKERS" envDefault:"10"`

	MaxRetries     int           `env:"RELAY_MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay time.Duration `env:"RELAY_RETRY_BASE_DELAY" envDefault:"1m"`
	RetryMaxDelay  time.Duration `env:"RELAY_RETRY_MAX_DELAY" envDefault:"1h"`

	TransportTimeout time.Duration `env:"RELAY_TRANSPORT_TIMEOUT" envDefault:"30s"`

	SMTPRelayHost string `env:"RELAY_SMTP_HOST" envDefault:"localhost"`
	SMTPRelayPort int    `env:"RELAY_SMTP_PORT" envDefault:"25"`
	SMTPRelayUser string `env:"RELAY_SMTP_USER"`
	SMTPRelayPass string `env:"RELAY_SMTP_PASS"`

	// MXPort is where the bounce receiver listens for inbound DSNs.
	MXPort int `env:"RELAY_MX_PORT" envDefault:"2525"`

	APIPort         int    `env:"RELAY_API_PORT" envDefault:"8080"`
	APIAutoTLS      bool   `env:"RELAY_API_AUTO_TLS" envDefault:"false"` // use echo AutoTLSManager for getting a certificate for RELAY_HOSTNAME
	APIAutoTLSEmail string `env:"RELAY_API_AUTO_TLS_EMAIL"`              // account email for Let's Encrypt

	AlertFailureRatePct float64       `env:"RELAY_ALERT_FAILURE_RATE_PCT" envDefault:"25"`
	AlertMinSample      int           `env:"RELAY_ALERT_MIN_SAMPLE" envDefault:"10"`
	AlertWindow         time.Duration `env:"RELAY_ALERT_WINDOW" envDefault:"15m"`
	AlertLatencyCeiling time.Duration `env:"RELAY_ALERT_LATENCY_CEILING" envDefault:"10s"`

	AuditQueueSize   int `env:"RELAY_AUDIT_QUEUE_SIZE" envDefault:"1024"`
	MetricsQueueSize int `env:"RELAY_METRICS_QUEUE_SIZE" envDefault:"4096"`

	MetricsPush         string        `env:"RELAY_METRICS_PUSH_URL"`
	MetricsPushInterval time.Duration `env:"RELAY_METRICS_PUSH_INTERVAL" envDefault:"1m"`
	MetricsPoll         bool          `env:"RELAY_METRICS_POLL" envDefault:"true"`
	MetricsPollUser     string        `env:"RELAY_METRICS_POLL_BASIC_AUTH_USER"`
	MetricsPollPassword string        `env:"RELAY_METRICS_POLL_BASIC_AUTH_PASS"`

	LogLevel string `env:"RELAY_LOG_LEVEL" envDefault:"info"`
}

func New() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("could not parse config from env, %w", err)
	}
	return cfg, nil
}
