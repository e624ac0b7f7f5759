package config

import (
	"errors"
	"evgateway/utility"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	IsDebug bool   `yaml:"is_debug" env:"IS_DEBUG" env-default:"false"`
	ApiKey  string `yaml:"api_key" env:"API_KEY" env-description:"bearer token for /api endpoints, empty disables the check"`
	Listen  struct {
		BindIP   string `yaml:"bind_ip" env:"HOST" env-default:"0.0.0.0"`
		Port     string `yaml:"port" env:"PORT" env-default:"8080"`
		TLS      bool   `yaml:"tls_enabled" env:"TLS_ENABLED" env-default:"false"`
		CertFile string `yaml:"cert_file" env:"TLS_CERT_FILE" env-default:""`
		KeyFile  string `yaml:"key_file" env:"TLS_KEY_FILE" env-default:""`
	} `yaml:"listen"`
	Gateway struct {
		Url            string `yaml:"url" env:"GATEWAY_URL" env-default:"ws://localhost:9000"`
		ConnectTimeout int    `yaml:"connect_timeout" env:"GATEWAY_CONNECT_TIMEOUT" env-default:"10000" env-description:"ms"`
		CallTimeout    int    `yaml:"call_timeout" env:"GATEWAY_CALL_TIMEOUT" env-default:"30000" env-description:"ms"`
		ReconnectDelay int    `yaml:"reconnect_delay" env:"GATEWAY_RECONNECT_DELAY" env-default:"5000" env-description:"ms"`
	} `yaml:"gateway"`
	Auth struct {
		JwtSecret      string `yaml:"jwt_secret" env:"JWT_SECRET"`
		Issuer         string `yaml:"issuer" env:"JWT_ISSUER" env-default:"evgateway"`
		SessionTimeout int    `yaml:"session_timeout" env:"SESSION_TIMEOUT" env-default:"3600000" env-description:"ms"`
		AuthTimeout    int    `yaml:"auth_timeout" env:"AUTH_TIMEOUT" env-default:"300000" env-description:"ms"`
		AttemptsPerMin int    `yaml:"attempts_per_min" env:"AUTH_ATTEMPTS_PER_MIN" env-default:"10"`
	} `yaml:"auth"`
	HeartbeatInterval int `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL" env-default:"30000" env-description:"ms"`
	MaxConnections    int `yaml:"max_connections" env:"MAX_CONNECTIONS" env-default:"1000"`
	Mongo             struct {
		Enabled  bool   `yaml:"enabled" env:"MONGO_ENABLED" env-default:"false"`
		Host     string `yaml:"host" env:"MONGO_HOST" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env:"MONGO_PORT" env-default:"27017"`
		User     string `yaml:"user" env:"MONGO_USER" env-default:""`
		Password string `yaml:"password" env:"MONGO_PASSWORD" env-default:""`
		Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"evgateway"`
	} `yaml:"mongo"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED" env-default:"false"`
		BindIP  string `yaml:"bind_ip" env:"METRICS_HOST" env-default:"127.0.0.1"`
		Port    string `yaml:"port" env:"METRICS_PORT" env-default:"9100"`
	} `yaml:"metrics"`
	Telegram struct {
		Enabled bool   `yaml:"enabled" env:"TELEGRAM_ENABLED" env-default:"false"`
		ApiKey  string `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:""`
	} `yaml:"telegram"`
}

// Load reads the yaml file when it exists, then applies the environment on top.
func Load(path string) (*Config, error) {
	conf := &Config{}
	var err error
	if _, statErr := os.Stat(path); path != "" && statErr == nil {
		err = cleanenv.ReadConfig(path, conf)
	} else {
		err = cleanenv.ReadEnv(conf)
	}
	if err != nil {
		return nil, err
	}
	if err = conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Usage describes every recognized environment variable.
func Usage() string {
	desc, _ := cleanenv.GetDescription(&Config{}, nil)
	return desc
}

func (c *Config) Validate() error {
	if c.Auth.JwtSecret == "" {
		return errors.New("jwt secret is not configured")
	}
	if c.Gateway.Url == "" {
		return errors.New("gateway url is not configured")
	}
	if c.HeartbeatInterval <= 0 {
		return utility.Errf("heartbeat interval must be positive, got %d", c.HeartbeatInterval)
	}
	if c.MaxConnections <= 0 {
		return utility.Errf("max connections must be positive, got %d", c.MaxConnections)
	}
	if c.Listen.TLS && (c.Listen.CertFile == "" || c.Listen.KeyFile == "") {
		return errors.New("tls enabled without cert_file and key_file")
	}
	return nil
}

func (c *Config) Heartbeat() time.Duration {
	return millis(c.HeartbeatInterval)
}

func (c *Config) SessionTimeout() time.Duration {
	return millis(c.Auth.SessionTimeout)
}

func (c *Config) AuthTimeout() time.Duration {
	return millis(c.Auth.AuthTimeout)
}

func (c *Config) ConnectTimeout() time.Duration {
	return millis(c.Gateway.ConnectTimeout)
}

func (c *Config) CallTimeout() time.Duration {
	return millis(c.Gateway.CallTimeout)
}

func (c *Config) ReconnectDelay() time.Duration {
	return millis(c.Gateway.ReconnectDelay)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
