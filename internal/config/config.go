package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"vault-sentinel/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs metrics feeder cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// VaultConfig parameterises the custodial vault instance.
type VaultConfig struct {
	ID                 string        `mapstructure:"id"`
	MaxDepositPerTx    uint64        `mapstructure:"max_deposit_per_tx"`
	MaxWithdrawalPerTx uint64        `mapstructure:"max_withdrawal_per_tx"`
	DailyLimit         uint64        `mapstructure:"daily_limit"`
	EmergencyCap       uint64        `mapstructure:"emergency_cap"`
	TimelockDelay      time.Duration `mapstructure:"timelock_delay"`
	Signers            []string      `mapstructure:"signers"`
	Threshold          int           `mapstructure:"threshold"`
}

// OracleConfig parameterises the risk oracle.
type OracleConfig struct {
	Updaters        []string `mapstructure:"updaters"`
	Operators       []string `mapstructure:"operators"`
	MinTVL          float64  `mapstructure:"min_tvl"`
	VolumeTVLRatio  float64  `mapstructure:"volume_tvl_ratio"`
	MaxAPY          float64  `mapstructure:"max_apy"`
	TVLDropFraction float64  `mapstructure:"tvl_drop_fraction"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VAULTSENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "vault-sentinel")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x76617553))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("vault.id", "main")
	v.SetDefault("vault.max_deposit_per_tx", uint64(5_000_000000))
	v.SetDefault("vault.max_withdrawal_per_tx", uint64(2_000_000000))
	v.SetDefault("vault.daily_limit", uint64(10_000_000000))
	v.SetDefault("vault.emergency_cap", uint64(500_000000))
	v.SetDefault("vault.timelock_delay", "24h")
	v.SetDefault("vault.threshold", 2)

	v.SetDefault("oracle.min_tvl", 100_000.0)
	v.SetDefault("oracle.volume_tvl_ratio", 3.0)
	v.SetDefault("oracle.max_apy", 100.0)
	v.SetDefault("oracle.tvl_drop_fraction", 0.3)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Vault.ID == "" {
		return fmt.Errorf("vault.id must be set")
	}
	if c.Vault.Threshold <= 0 {
		return fmt.Errorf("vault.threshold must be greater than zero")
	}
	if len(c.Vault.Signers) < c.Vault.Threshold {
		return fmt.Errorf("vault.signers must contain at least vault.threshold entries")
	}
	for _, s := range c.Vault.Signers {
		if !common.IsHexAddress(s) {
			return fmt.Errorf("vault.signers entry %q is not a hex address", s)
		}
	}
	if c.Vault.TimelockDelay < 0 {
		return fmt.Errorf("vault.timelock_delay cannot be negative")
	}
	if len(c.Oracle.Updaters) == 0 {
		return fmt.Errorf("oracle.updaters must contain at least one entry")
	}
	for _, u := range append(append([]string{}, c.Oracle.Updaters...), c.Oracle.Operators...) {
		if !common.IsHexAddress(u) {
			return fmt.Errorf("oracle allowlist entry %q is not a hex address", u)
		}
	}
	if c.Oracle.TVLDropFraction < 0 || c.Oracle.TVLDropFraction >= 1 {
		return fmt.Errorf("oracle.tvl_drop_fraction must be in [0, 1)")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	return nil
}

// SignerAddresses parses the configured signer set.
func (c *VaultConfig) SignerAddresses() []common.Address {
	return parseAddresses(c.Signers)
}

// UpdaterAddresses parses the oracle updater allowlist.
func (c *OracleConfig) UpdaterAddresses() []common.Address {
	return parseAddresses(c.Updaters)
}

// OperatorAddresses parses the oracle operator allowlist.
func (c *OracleConfig) OperatorAddresses() []common.Address {
	return parseAddresses(c.Operators)
}

func parseAddresses(hexes []string) []common.Address {
	out := make([]common.Address, 0, len(hexes))
	for _, h := range hexes {
		out = append(out, common.HexToAddress(h))
	}
	return out
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
