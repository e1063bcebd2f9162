package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL      string
	IndexerURL  string
	Dapp        string
	Marketplace string
	PrivateKey  string

	FromBlock        uint64
	BatchSize        uint64
	MaxRetries       int
	RetryBackoff     time.Duration
	ReconnectBackoff time.Duration
	IndexerTimeout   time.Duration

	ConfirmTimeout time.Duration
	CheckExecuted  bool
	PollInterval   time.Duration

	Out      string
	PGDSN    string
	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
// Flags win over env, env wins over the file.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("reconnect-backoff", time.Second)
	v.SetDefault("indexer-timeout", 15*time.Second)
	v.SetDefault("confirm-timeout", 2*time.Minute)
	v.SetDefault("check-executed", true)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:           v.GetString("rpc"),
		IndexerURL:       v.GetString("indexer"),
		Dapp:             v.GetString("dapp"),
		Marketplace:      v.GetString("marketplace"),
		PrivateKey:       v.GetString("private-key"),
		FromBlock:        v.GetUint64("from-block"),
		BatchSize:        v.GetUint64("batch-size"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		ReconnectBackoff: v.GetDuration("reconnect-backoff"),
		IndexerTimeout:   v.GetDuration("indexer-timeout"),
		ConfirmTimeout:   v.GetDuration("confirm-timeout"),
		CheckExecuted:    v.GetBool("check-executed"),
		PollInterval:     v.GetDuration("poll-interval"),
		Out:              v.GetString("out"),
		PGDSN:            v.GetString("pg-dsn"),
		LogLevel:         v.GetString("log-level"),
	}

	return cfg, nil
}

// ParseAddress validates a required hex contract address.
func ParseAddress(name, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, fmt.Errorf("%s address is required", name)
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s address: %s", name, value)
	}
	return common.HexToAddress(value), nil
}
