package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// StoreConfig selects and configures the queue persistence backend.
type StoreConfig struct {
	QueueBackend string `envconfig:"QUEUE_BACKEND" default:"file" validate:"oneof=file postgres redis memory"`
	QueueKey     string `envconfig:"QUEUE_KEY" default:"sms_queue" validate:"required"`

	// file
	QueueDir string `envconfig:"QUEUE_DIR" default:"./data"`

	// postgres
	DBDSN             string        `envconfig:"DB_DSN" validate:"required_if=QueueBackend postgres"`
	DBMaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"4"`
	DBMinConns        int32         `envconfig:"DB_MIN_CONNS" default:"1"`
	DBMaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`

	// redis
	RedisAddr     string `envconfig:"REDIS_ADDR" validate:"required_if=QueueBackend redis"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

type RelayConfig struct {
	StoreConfig

	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`

	// Delivery API
	APIEndpoint     string        `envconfig:"SMS_API_ENDPOINT" required:"true" validate:"url"`
	APIHealthURL    string        `envconfig:"SMS_API_HEALTH_URL" validate:"omitempty,url"`
	APIToken        string        `envconfig:"SMS_API_TOKEN"`
	APITokenFile    string        `envconfig:"SMS_API_TOKEN_FILE"`
	DeliveryTimeout time.Duration `envconfig:"DELIVERY_TIMEOUT" default:"10s" validate:"gt=0"`
	ProbeTimeout    time.Duration `envconfig:"PROBE_TIMEOUT" default:"3s" validate:"gt=0"`
	APIRPS          float64       `envconfig:"SMS_API_RPS" default:"5" validate:"gt=0"`
	APIBurst        int           `envconfig:"SMS_API_BURST" default:"10" validate:"gt=0"`

	// Ingestion
	Grants        []string `envconfig:"SMS_GRANTS" default:"read_sms,receive_sms"`
	WebhookSecret string   `envconfig:"WEBHOOK_SECRET"`
	AdminToken    string   `envconfig:"ADMIN_TOKEN"`

	// Triggers
	DrainInterval   time.Duration `envconfig:"DRAIN_INTERVAL" default:"15m" validate:"gte=15m"`
	MonitorInterval time.Duration `envconfig:"MONITOR_INTERVAL" default:"30s" validate:"gt=0"`

	// AWS / SQS inbound source; disabled when SQS_QUEUE_URL is empty.
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20" validate:"gte=0,lte=20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10" validate:"gte=1,lte=10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`
	SQSConcurrency     int    `envconfig:"SQS_CONCURRENCY" default:"4" validate:"gte=1"`
}

// CtlConfig drives queuectl, which talks to a running relay over HTTP.
type CtlConfig struct {
	RelayURL      string `envconfig:"RELAY_URL" default:"http://localhost:8080" validate:"url"`
	AdminToken    string `envconfig:"ADMIN_TOKEN"`
	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`

	// publish only
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

var validate = validator.New()

// Load reads .env (if present) and the environment into cfg and validates it.
func Load(cfg any) error {
	_ = godotenv.Load()

	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if v, ok := cfg.(interface{ check() error }); ok {
		if err := v.check(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

func (c *RelayConfig) check() error {
	if c.APIToken != "" && c.APITokenFile != "" {
		return errors.New("SMS_API_TOKEN and SMS_API_TOKEN_FILE are mutually exclusive")
	}
	return nil
}

func LoadRelay() RelayConfig {
	var cfg RelayConfig
	if err := Load(&cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadCtl() CtlConfig {
	var cfg CtlConfig
	if err := Load(&cfg); err != nil {
		panic(err)
	}
	return cfg
}
