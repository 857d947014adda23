package config

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	PublicURL  string `mapstructure:"PUBLIC_URL"`
	Otel       struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	TLS struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Database struct {
		Type           string        `mapstructure:"TYPE"`
		Host           string        `mapstructure:"HOST"`
		Port           string        `mapstructure:"PORT"`
		DBNAME         string        `mapstructure:"DBNAME"`
		User           string        `mapstructure:"USER"`
		Password       string        `mapstructure:"PASSWORD"`
		SSLMode        string        `mapstructure:"SSLMODE"`
		Timezone       string        `mapstructure:"TIMEZONE"`
		SlowQuery      time.Duration `mapstructure:"SLOW_QUERY"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Consul struct {
		Addr        string `mapstructure:"ADDR"`
		ServiceHost string `mapstructure:"SERVICE_HOST"`
	} `mapstructure:"CONSUL"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Trust      Trust      `mapstructure:"TRUST"`
	Validation Validation `mapstructure:"VALIDATION"`
	Ledger     Ledger     `mapstructure:"LEDGER"`
	Advisory   Advisory   `mapstructure:"ADVISORY"`
	Sweep      Sweep      `mapstructure:"SWEEP"`
	Retention  Retention  `mapstructure:"RETENTION"`
}

type Trust struct {
	BehaviorWindow       time.Duration `mapstructure:"BEHAVIOR_WINDOW"`
	BehaviorMaxRequests  int           `mapstructure:"BEHAVIOR_MAX_REQUESTS"`
	RegularityMinSamples int           `mapstructure:"REGULARITY_MIN_SAMPLES"`
	RegularityMaxCV      float64       `mapstructure:"REGULARITY_MAX_CV"`
	ValidThreshold       float64       `mapstructure:"VALID_THRESHOLD"`
	RequestLogBackend    string        `mapstructure:"REQUEST_LOG_BACKEND"`
}

type Validation struct {
	ClickMinuteLimit int           `mapstructure:"CLICK_MINUTE_LIMIT"`
	ClickDailyLimit  int           `mapstructure:"CLICK_DAILY_LIMIT"`
	MinWatchTime     int           `mapstructure:"MIN_WATCH_TIME"`
	ShortWatchTime   int           `mapstructure:"SHORT_WATCH_TIME"`
	ViewDailyLimit   int           `mapstructure:"VIEW_DAILY_LIMIT"`
	ViewRepeatLimit  int           `mapstructure:"VIEW_REPEAT_LIMIT"`
	ReevaluateAfter  time.Duration `mapstructure:"REEVALUATE_AFTER"`
}

type Ledger struct {
	ReferralBonus string `mapstructure:"REFERRAL_BONUS"`
	CreatorBonus  string `mapstructure:"CREATOR_BONUS"`
}

type Advisory struct {
	Enabled bool          `mapstructure:"ENABLED"`
	URL     string        `mapstructure:"URL"`
	ApiKey  string        `mapstructure:"API_KEY"`
	Timeout time.Duration `mapstructure:"TIMEOUT"`
}

type Sweep struct {
	Interval    time.Duration `mapstructure:"INTERVAL"`
	PageSize    int           `mapstructure:"PAGE_SIZE"`
	Concurrency int           `mapstructure:"CONCURRENCY"`
}

type Retention struct {
	LogMaxAge time.Duration `mapstructure:"LOG_MAX_AGE"`
	Interval  time.Duration `mapstructure:"INTERVAL"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "trustcore")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("PUBLIC_URL", "http://localhost:8080")
	v.SetDefault("OTEL.PROTOCOL", "http")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 10*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 10*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.SLOW_QUERY", 200*time.Millisecond)

	v.SetDefault("TRUST.BEHAVIOR_WINDOW", time.Minute)
	v.SetDefault("TRUST.BEHAVIOR_MAX_REQUESTS", 50)
	v.SetDefault("TRUST.REGULARITY_MIN_SAMPLES", 5)
	v.SetDefault("TRUST.REGULARITY_MAX_CV", 0.1)
	v.SetDefault("TRUST.VALID_THRESHOLD", 0.7)
	v.SetDefault("TRUST.REQUEST_LOG_BACKEND", "database")

	v.SetDefault("VALIDATION.CLICK_MINUTE_LIMIT", 3)
	v.SetDefault("VALIDATION.CLICK_DAILY_LIMIT", 10)
	v.SetDefault("VALIDATION.MIN_WATCH_TIME", 30)
	v.SetDefault("VALIDATION.SHORT_WATCH_TIME", 60)
	v.SetDefault("VALIDATION.VIEW_DAILY_LIMIT", 5)
	v.SetDefault("VALIDATION.VIEW_REPEAT_LIMIT", 2)
	v.SetDefault("VALIDATION.REEVALUATE_AFTER", 24*time.Hour)

	v.SetDefault("LEDGER.REFERRAL_BONUS", "1000")
	v.SetDefault("LEDGER.CREATOR_BONUS", "100")

	v.SetDefault("ADVISORY.TIMEOUT", 800*time.Millisecond)

	v.SetDefault("SWEEP.INTERVAL", 5*time.Minute)
	v.SetDefault("SWEEP.PAGE_SIZE", 100)
	v.SetDefault("SWEEP.CONCURRENCY", 4)

	v.SetDefault("RETENTION.LOG_MAX_AGE", 90*24*time.Hour)
	v.SetDefault("RETENTION.INTERVAL", 24*time.Hour)
}

// Default returns a Config populated only with defaults. Tests and tools use it
// when no config file is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

func LoadConfig(p Params) *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()
	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Warn("config file not found, using defaults and environment")
	}

	// CONFIG_REMOTE_PROVIDER (etcd3 or consul) overlays a remote document on the file.
	if provider := os.Getenv("CONFIG_REMOTE_PROVIDER"); provider != "" {
		endpoint, path := os.Getenv("CONFIG_REMOTE_ENDPOINT"), os.Getenv("CONFIG_REMOTE_PATH")
		if err := config.AddRemoteProvider(provider, endpoint, path); err != nil {
			zap.L().Error("failed to add remote config provider", zap.String("provider", provider), zap.Error(err))
			os.Exit(1)
		}
		if err := config.ReadRemoteConfig(); err != nil {
			zap.L().Error("failed to read remote config", zap.String("provider", provider), zap.String("path", path), zap.Error(err))
			os.Exit(1)
		}
		zap.L().Info("remote config loaded", zap.String("provider", provider), zap.String("path", path))
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		// START - Vault
		client := p.Vault
		ctx := context.Background()

		zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
		secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
		if err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Info("Success Get Secret")

		get := func(key string) string {
			if val, ok := secret.Data.Data[key].(string); ok {
				return val
			}
			return ""
		}

		cfg.Database.User = get("postgres_user")
		cfg.Database.Password = get("postgres_password")
		cfg.Redis.Password = get("redis_password")
		cfg.Advisory.ApiKey = get("advisory_api_key")
		cfg.Flagsmith.ApiKey = get("flagsmith_api_key")
		// END - Vault
	}

	configHolder.Store(&cfg)

	// Thresholds may be tuned without a restart; connection settings are read once.
	config.OnConfigChange(func(e fsnotify.Event) {
		var next Config
		if err := config.Unmarshal(&next); err != nil {
			zap.L().Error("unable to reload config", zap.String("file", e.Name), zap.Error(err))
			return
		}
		current := Current()
		current.Trust = next.Trust
		current.Validation = next.Validation
		configHolder.Store(current)
		zap.L().Info("config reloaded", zap.String("file", e.Name))
	})
	config.WatchConfig()

	return &cfg
}

// Current returns the most recently loaded configuration snapshot.
func Current() *Config {
	if cfg, ok := configHolder.Load().(*Config); ok {
		copied := *cfg
		return &copied
	}
	return Default()
}
