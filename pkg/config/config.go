package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the bridge router service configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Fees       FeesConfig       `mapstructure:"fees"`
	Security   SecurityConfig   `mapstructure:"security"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// BridgeConfig contains the local chain identity and the protocol adapters
// available to the router.
type BridgeConfig struct {
	LocalChain string           `mapstructure:"local_chain"`
	Protocols  []ProtocolConfig `mapstructure:"protocols"`
}

// ProtocolConfig describes one bridge protocol adapter.
type ProtocolConfig struct {
	Name   string `mapstructure:"name"`
	FeeBps int64  `mapstructure:"fee_bps"`
	// Chains lists the destination chains this protocol can reach.
	Chains []string `mapstructure:"chains"`
	// Counterparts maps a remote chain id to the trusted bridge identity on
	// that chain. Inbound messages from any other identity are rejected.
	Counterparts map[string]string `mapstructure:"counterparts"`
}

// FeesConfig contains fee policy settings
type FeesConfig struct {
	// MaxFeeBps is the hard cap on protocol fee percentage, in basis points.
	MaxFeeBps int64 `mapstructure:"max_fee_bps"`
	// ChainMultipliers scale transport fee estimates per destination chain.
	ChainMultipliers map[string]float64 `mapstructure:"chain_multipliers"`
}

// SecurityConfig contains rate limiting and anomaly detection settings
type SecurityConfig struct {
	PerTxCeiling       string        `mapstructure:"per_tx_ceiling"`
	ChainDailyCeiling  string        `mapstructure:"chain_daily_ceiling"`
	GlobalDailyCeiling string        `mapstructure:"global_daily_ceiling"`
	WindowPeriod       time.Duration `mapstructure:"window_period"`
	FlagThreshold      int           `mapstructure:"flag_threshold"`
	FlagWindow         time.Duration `mapstructure:"flag_window"`
	AutoBlacklist      bool          `mapstructure:"auto_blacklist"`
}

// OracleConfig contains supply oracle settings
type OracleConfig struct {
	SignatureThreshold    int           `mapstructure:"signature_threshold"`
	DeviationToleranceBps int64         `mapstructure:"deviation_tolerance_bps"`
	ExpectedSupply        string        `mapstructure:"expected_supply"`
	AutoPause             bool          `mapstructure:"auto_pause"`
	PendingTTL            time.Duration `mapstructure:"pending_ttl"`
	Reporters             []string      `mapstructure:"reporters"`
}

// AuthConfig contains admin API authentication settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// ReporterConfig represents the supply reporter daemon configuration
type ReporterConfig struct {
	RouterURL      string        `mapstructure:"router_url"`
	ChainID        string        `mapstructure:"chain_id"`
	Interval       time.Duration `mapstructure:"interval"`
	SubmitTimeout  time.Duration `mapstructure:"submit_timeout"`
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time"`
	// PrivateKey is the hex-encoded secp256k1 reporter key. When empty the
	// key is derived from reporter_id and key_seed instead.
	PrivateKey string        `mapstructure:"private_key"`
	ReporterID string        `mapstructure:"reporter_id"`
	KeySeed    string        `mapstructure:"key_seed"`
	Logging    LoggingConfig `mapstructure:"logging"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// LoadReporter loads the reporter daemon configuration from file
func LoadReporter(configPath string) (*ReporterConfig, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setReporterDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config ReporterConfig
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.RouterURL == "" {
		return nil, fmt.Errorf("router_url is required")
	}
	if config.ChainID == "" {
		return nil, fmt.Errorf("chain_id is required")
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.database", "bridge_router")

	// Fee defaults
	viper.SetDefault("fees.max_fee_bps", 500)

	// Security defaults
	viper.SetDefault("security.per_tx_ceiling", "100000")
	viper.SetDefault("security.chain_daily_ceiling", "1000000")
	viper.SetDefault("security.global_daily_ceiling", "5000000")
	viper.SetDefault("security.window_period", "24h")
	viper.SetDefault("security.flag_threshold", 10)
	viper.SetDefault("security.flag_window", "1h")
	viper.SetDefault("security.auto_blacklist", false)

	// Oracle defaults
	viper.SetDefault("oracle.signature_threshold", 3)
	viper.SetDefault("oracle.deviation_tolerance_bps", 100)
	viper.SetDefault("oracle.auto_pause", true)
	viper.SetDefault("oracle.pending_ttl", "10m")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")
}

func setReporterDefaults() {
	viper.SetDefault("interval", "5m")
	viper.SetDefault("submit_timeout", "30s")
	viper.SetDefault("max_elapsed_time", "2m")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")
}

func validate(config *Config) error {
	if config.Bridge.LocalChain == "" {
		return fmt.Errorf("bridge.local_chain is required")
	}
	if len(config.Bridge.Protocols) == 0 {
		return fmt.Errorf("at least one bridge protocol must be configured")
	}
	for _, p := range config.Bridge.Protocols {
		if p.Name == "" {
			return fmt.Errorf("bridge protocol name is required")
		}
		if len(p.Chains) == 0 {
			return fmt.Errorf("bridge protocol %s supports no chains", p.Name)
		}
	}
	if config.Oracle.SignatureThreshold < 1 {
		return fmt.Errorf("oracle.signature_threshold must be at least 1")
	}
	if config.Fees.MaxFeeBps <= 0 {
		return fmt.Errorf("fees.max_fee_bps must be positive")
	}
	return nil
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
