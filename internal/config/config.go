// Package config loads server settings from a file and OBRESERVE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	. "obreserve/internal/common"
	"obreserve/internal/engine"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const EnvPrefix = "OBRESERVE"

const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

var ErrBadAmount = errors.New("invalid amount")

type Config struct {
	LogLevel  string `mapstructure:"log_level" toml:"log_level"`
	LogFormat string `mapstructure:"log_format" toml:"log_format"`

	Server  ServerConfig  `mapstructure:"server" toml:"server"`
	Store   StoreConfig   `mapstructure:"store" toml:"store"`
	Kafka   KafkaConfig   `mapstructure:"kafka" toml:"kafka"`
	Metrics MetricsConfig `mapstructure:"metrics" toml:"metrics"`
	Vault   VaultConfig   `mapstructure:"vault" toml:"vault"`
	Reserve ReserveConfig `mapstructure:"reserve" toml:"reserve"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" toml:"address"`
	Port    int    `mapstructure:"port" toml:"port"`
	Workers uint   `mapstructure:"workers" toml:"workers"`
	// SnapshotInterval is how often state is persisted. Zero saves only on
	// shutdown.
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval" toml:"snapshot_interval"`
}

type StoreConfig struct {
	Dir      string `mapstructure:"dir" toml:"dir"`
	InMemory bool   `mapstructure:"in_memory" toml:"in_memory"`
}

// KafkaConfig enables event publishing when Brokers is set.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" toml:"brokers"`
	Topic   string   `mapstructure:"topic" toml:"topic"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address string `mapstructure:"address" toml:"address"`
}

type VaultConfig struct {
	// Faucet lets clients mint test balances.
	Faucet bool `mapstructure:"faucet" toml:"faucet"`
}

// ReserveConfig mirrors engine.Config. Order sizes and the fee rate are in
// whole units, e.g. "2.5"; MaxQty and MaxRate are in base units.
type ReserveConfig struct {
	EthAsset        string `mapstructure:"eth_asset" toml:"eth_asset"`
	TokenAsset      string `mapstructure:"token_asset" toml:"token_asset"`
	CollateralAsset string `mapstructure:"collateral_asset" toml:"collateral_asset"`
	Account         string `mapstructure:"account" toml:"account"`
	BurnRecipient   string `mapstructure:"burn_recipient" toml:"burn_recipient"`

	OrdersPerMaker    uint32 `mapstructure:"orders_per_maker" toml:"orders_per_maker"`
	MaxOrdersPerTrade int    `mapstructure:"max_orders_per_trade" toml:"max_orders_per_trade"`
	MinNewOrderSize   string `mapstructure:"min_new_order_size" toml:"min_new_order_size"`
	MinOrderSize      string `mapstructure:"min_order_size" toml:"min_order_size"`
	StakeRateBps      uint64 `mapstructure:"stake_rate_bps" toml:"stake_rate_bps"`
	BurnFeeBps        uint64 `mapstructure:"burn_fee_bps" toml:"burn_fee_bps"`
	MaxQty            string `mapstructure:"max_qty" toml:"max_qty"`
	MaxRate           string `mapstructure:"max_rate" toml:"max_rate"`
	FeeRate           string `mapstructure:"fee_rate" toml:"fee_rate"`
}

func setDefaults(v *viper.Viper) {
	d := engine.DefaultConfig()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", LogFormatConsole)

	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 9440)
	v.SetDefault("server.workers", 10)
	v.SetDefault("server.snapshot_interval", 30*time.Second)

	v.SetDefault("store.dir", "data")
	v.SetDefault("store.in_memory", false)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "reserve-events")

	v.SetDefault("metrics.address", "")
	v.SetDefault("vault.faucet", false)

	v.SetDefault("reserve.eth_asset", EthAddress.Hex())
	v.SetDefault("reserve.token_asset", "")
	v.SetDefault("reserve.collateral_asset", "")
	v.SetDefault("reserve.account", "")
	v.SetDefault("reserve.burn_recipient", "")
	v.SetDefault("reserve.orders_per_maker", d.OrdersPerMaker)
	v.SetDefault("reserve.max_orders_per_trade", d.MaxOrdersPerTrade)
	v.SetDefault("reserve.min_new_order_size", "2")
	v.SetDefault("reserve.min_order_size", "1")
	v.SetDefault("reserve.stake_rate_bps", d.StakeRateBps)
	v.SetDefault("reserve.burn_fee_bps", d.BurnFeeBps)
	v.SetDefault("reserve.max_qty", d.MaxQty.Dec())
	v.SetDefault("reserve.max_rate", d.MaxRate.Dec())
	v.SetDefault("reserve.fee_rate", "1")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, or ./config.* when path is empty. A missing default file
// is not an error.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return decode(v)
}

// Read parses a config of the given type ("toml", "yaml", "json") from r.
func Read(r io.Reader, typ string) (Config, error) {
	v := newViper()
	v.SetConfigType(typ)
	if err := v.ReadConfig(r); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	switch c.LogFormat {
	case LogFormatConsole, LogFormatJSON:
	default:
		return Config{}, fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return c, nil
}

// Write encodes c as TOML.
func (c Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Engine converts the reserve section into a validated engine config.
func (c Config) Engine() (engine.Config, error) {
	r := c.Reserve
	cfg := engine.DefaultConfig()
	var errs []error

	addr := func(name, s string) Address {
		if !IsHexAddress(s) {
			errs = append(errs, fmt.Errorf("reserve.%s: invalid address %q", name, s))
			return Address{}
		}
		return HexToAddress(s)
	}
	units := func(name, s string, shift int32) uint256.Int {
		v, err := ParseUnits(s, shift)
		if err != nil {
			errs = append(errs, fmt.Errorf("reserve.%s: %w", name, err))
		}
		return v
	}

	cfg.EthAsset = addr("eth_asset", r.EthAsset)
	cfg.TokenAsset = addr("token_asset", r.TokenAsset)
	cfg.CollateralAsset = addr("collateral_asset", r.CollateralAsset)
	cfg.Reserve = addr("account", r.Account)
	if r.BurnRecipient != "" {
		cfg.BurnRecipient = addr("burn_recipient", r.BurnRecipient)
	}
	cfg.OrdersPerMaker = r.OrdersPerMaker
	cfg.MaxOrdersPerTrade = r.MaxOrdersPerTrade
	cfg.MinNewOrderSize = units("min_new_order_size", r.MinNewOrderSize, Decimals)
	cfg.MinOrderSize = units("min_order_size", r.MinOrderSize, Decimals)
	cfg.StakeRateBps = r.StakeRateBps
	cfg.BurnFeeBps = r.BurnFeeBps
	cfg.MaxQty = units("max_qty", r.MaxQty, 0)
	cfg.MaxRate = units("max_rate", r.MaxRate, 0)

	if err := errors.Join(errs...); err != nil {
		return engine.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

// FeeRate returns the collateral-per-ETH rate used to price burns.
func (c Config) FeeRate() (engine.StaticFeeRate, error) {
	rate, err := ParseUnits(c.Reserve.FeeRate, Decimals)
	if err != nil {
		return engine.StaticFeeRate{}, fmt.Errorf("reserve.fee_rate: %w", err)
	}
	return engine.StaticFeeRate{Rate: rate}, nil
}

// ParseUnits converts a decimal string into base units, shifting it by
// shift digits. The result must be a non-negative integer below 2^256.
func ParseUnits(s string, shift int32) (uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return uint256.Int{}, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	d = d.Shift(shift)
	if d.IsNegative() || !d.IsInteger() {
		return uint256.Int{}, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	v, overflow := uint256.FromBig(d.BigInt())
	if overflow {
		return uint256.Int{}, fmt.Errorf("%w: %q overflows", ErrBadAmount, s)
	}
	return *v, nil
}

// FormatUnits is the inverse of ParseUnits.
func FormatUnits(v *uint256.Int, shift int32) string {
	return decimal.NewFromBigInt(v.ToBig(), -shift).String()
}
