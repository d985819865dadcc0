package global

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// AppConfig is the single YAML config for the gateway. Every tunable
// has a default matching the production values.
type AppConfig struct {
	Gateway struct {
		ID   string `yaml:"id"`   // empty = generated at boot
		Addr string `yaml:"addr"` // listen address
		Node int64  `yaml:"node"` // snowflake node id
	} `yaml:"gateway"`

	Auth struct {
		Secret string `yaml:"secret"`
		Alg    string `yaml:"alg"`
		TTLSec int    `yaml:"ttl_sec"`
	} `yaml:"auth"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Mongo struct {
		Uri         string `yaml:"uri"`
		Database    string `yaml:"database"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		MaxPoolSize uint64 `yaml:"max_pool_size"`
	} `yaml:"mongo"`

	Nats struct {
		Servers  []string `yaml:"servers"`
		Username string   `yaml:"username"`
		Password string   `yaml:"password"`
	} `yaml:"nats"`

	Kafka struct {
		Enabled     bool     `yaml:"enabled"`
		Brokers     []string `yaml:"brokers"`
		Compression string   `yaml:"compression"`
		Retries     int      `yaml:"retries"`
	} `yaml:"kafka"`

	Limits struct {
		RateLimit         int   `yaml:"rate_limit"`
		RateWindowSec     int   `yaml:"rate_window_sec"`
		BatchSize         int   `yaml:"batch_size"`
		BatchTimeoutMS    int   `yaml:"batch_timeout_ms"`
		TypingStopDelayMS int   `yaml:"typing_stop_delay_ms"`
		PresenceTTLSec    int   `yaml:"presence_ttl_sec"`
		ConvCacheTTLSec   int   `yaml:"conv_cache_ttl_sec"`
		UserCacheTTLSec   int   `yaml:"user_cache_ttl_sec"`
		SendQueueSize     int   `yaml:"send_queue_size"`
		PageLimit         int64 `yaml:"page_limit"`
	} `yaml:"limits"`
}

var Conf AppConfig

func defaults(c *AppConfig) {
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = ":8080"
	}
	if c.Gateway.Node <= 0 {
		c.Gateway.Node = 1
	}
	if c.Auth.Alg == "" {
		c.Auth.Alg = "HS256"
	}
	if c.Auth.TTLSec <= 0 {
		c.Auth.TTLSec = 7200
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Redis.PoolSize <= 0 {
		c.Redis.PoolSize = 64
	}
	if c.Mongo.Uri == "" {
		c.Mongo.Uri = "mongodb://localhost:27017"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "im"
	}
	if c.Mongo.MaxPoolSize == 0 {
		c.Mongo.MaxPoolSize = 20
	}
	if len(c.Nats.Servers) == 0 {
		c.Nats.Servers = []string{"nats://127.0.0.1:4222"}
	}
	if c.Limits.RateLimit <= 0 {
		c.Limits.RateLimit = 100
	}
	if c.Limits.RateWindowSec <= 0 {
		c.Limits.RateWindowSec = 60
	}
	if c.Limits.BatchSize <= 0 {
		c.Limits.BatchSize = 50
	}
	if c.Limits.BatchTimeoutMS <= 0 {
		c.Limits.BatchTimeoutMS = 100
	}
	if c.Limits.TypingStopDelayMS <= 0 {
		c.Limits.TypingStopDelayMS = 1000
	}
	if c.Limits.PresenceTTLSec <= 0 {
		c.Limits.PresenceTTLSec = 300
	}
	if c.Limits.ConvCacheTTLSec <= 0 {
		c.Limits.ConvCacheTTLSec = 300
	}
	if c.Limits.UserCacheTTLSec <= 0 {
		c.Limits.UserCacheTTLSec = 600
	}
	if c.Limits.SendQueueSize <= 0 {
		c.Limits.SendQueueSize = 256
	}
	if c.Limits.PageLimit <= 0 {
		c.Limits.PageLimit = 50
	}
}

// Load reads the config file into the package-level Conf. A missing
// path yields pure defaults (local development).
func Load(path string) error {
	var c AppConfig
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return errors.Wrapf(err, "parse config %s", path)
		}
	}
	defaults(&c)
	if c.Auth.Secret == "" {
		return errors.New("auth.secret is required")
	}
	Conf = c
	return nil
}

func JwtSecret() []byte { return []byte(Conf.Auth.Secret) }

func AuthTTL() time.Duration { return time.Duration(Conf.Auth.TTLSec) * time.Second }
