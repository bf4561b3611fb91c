package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the fulfillment engine needs to start. Every field
// can be set via YAML (./config.yaml or ./configs/config.yaml) or via the
// environment keys named in each SetDefault/BindEnv call below.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Relayer  RelayerConfig  `mapstructure:"relayer"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ChainConfig struct {
	RPCURL          string `mapstructure:"rpc_url"`
	ContractAddress string `mapstructure:"contract_address"`
	// RequestsPerSecond throttles every call the RPC client makes.
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	ReceiptTimeout    time.Duration `mapstructure:"receipt_timeout"`
}

type RelayerConfig struct {
	// PrivateKeys is the pool of signing keys, hex-encoded, 0x-optional.
	PrivateKeys []string `mapstructure:"private_keys"`
	// LegacyPrivateKey is ORACLE_PRIVATE_KEY, folded into PrivateKeys when
	// the pool would otherwise be empty (spec.md §6 "legacy single-relayer
	// mode").
	LegacyPrivateKey string `mapstructure:"legacy_private_key"`
	MinGasWei        string `mapstructure:"min_gas_wei"`
	Scheduler        string `mapstructure:"scheduler"` // "round_robin" | "random"
	PendingThreshold int    `mapstructure:"pending_block_threshold"`
	FailureCooldown  time.Duration `mapstructure:"failure_cooldown"`
	// BatchExecutorAddress is BEBE_ADDRESS; its presence enables the batch
	// path for every account in the pool (one executor, delegated-to by
	// each EOA independently via EIP-7702).
	BatchExecutorAddress string `mapstructure:"batch_executor_address"`
}

type BatchConfig struct {
	Size             int           `mapstructure:"size"`
	PartialTimeout   time.Duration `mapstructure:"partial_timeout"`
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	ReclaimEvery     int           `mapstructure:"reclaim_every_iterations"`
	ReclaimThreshold time.Duration `mapstructure:"reclaim_threshold"`
	Network          string        `mapstructure:"network"`
	// ShutdownGrace bounds how long Processor.Shutdown waits for in-flight
	// batches to finish on their own before the process exits out from under
	// them. Batches still running when it elapses are never cancelled; their
	// rows stay in "processing" for the next process's reclaim_stuck pass.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads config.yaml (if present) and overlays environment variables
// named per spec.md §6, then defaults for everything optional.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	bindEnv("database.url", "DATABASE_URL")
	bindEnv("chain.rpc_url", "RPC_URL")
	bindEnv("chain.contract_address", "CONTRACT_ADDRESS")
	bindEnv("relayer.legacy_private_key", "ORACLE_PRIVATE_KEY")
	bindEnv("relayer.min_gas_wei", "RELAYER_MIN_GAS_WEI")
	bindEnv("relayer.scheduler", "RELAYER_SCHEDULER")
	bindEnv("relayer.pending_block_threshold", "RELAYER_PENDING_BLOCK_THRESHOLD")
	bindEnv("relayer.batch_executor_address", "BEBE_ADDRESS")
	bindEnv("batch.size", "BATCH_SIZE")
	bindEnv("redis.addr", "REDIS_ADDR")
	bindEnv("redis.password", "REDIS_PASSWORD")
	bindEnv("metrics.addr", "METRICS_ADDR")

	viper.SetDefault("relayer.min_gas_wei", "5000000000000000") // 0.005 ETH
	viper.SetDefault("relayer.scheduler", "round_robin")
	viper.SetDefault("relayer.pending_block_threshold", 3)
	viper.SetDefault("relayer.failure_cooldown", 30*time.Second)
	viper.SetDefault("batch.size", 10)
	viper.SetDefault("batch.partial_timeout", 500*time.Millisecond)
	viper.SetDefault("batch.max_concurrent", 4)
	viper.SetDefault("batch.reclaim_every_iterations", 12)
	viper.SetDefault("batch.reclaim_threshold", 5*time.Minute)
	viper.SetDefault("batch.network", "anvil")
	viper.SetDefault("batch.shutdown_grace", 20*time.Second)
	viper.SetDefault("chain.requests_per_second", 20.0)
	viper.SetDefault("chain.receipt_timeout", 60*time.Second)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.addr", ":9100")

	relayerKeysFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("no config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Relayer.LegacyPrivateKey != "" && len(cfg.Relayer.PrivateKeys) == 0 {
		cfg.Relayer.PrivateKeys = []string{cfg.Relayer.LegacyPrivateKey}
	}

	return &cfg, nil
}

// Validate reports the fatal configuration errors spec.md §6 requires the
// process to exit non-zero on: a missing DATABASE_URL, and an engine with
// no usable relayer keys at all.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if len(c.Relayer.PrivateKeys) == 0 {
		return fmt.Errorf("no relayer private keys configured (RELAYER_PRIVATE_KEYS or ORACLE_PRIVATE_KEY)")
	}
	return nil
}

func bindEnv(key, env string) {
	_ = viper.BindEnv(key, env)
}

// relayerKeysFromEnv parses the comma-separated RELAYER_PRIVATE_KEYS list
// by hand: viper's automatic env binding does not split CSV env values into
// a []string, so this mirrors what BindEnv does for scalar keys above.
func relayerKeysFromEnv() {
	raw, ok := os.LookupEnv("RELAYER_PRIVATE_KEYS")
	if !ok || strings.TrimSpace(raw) == "" {
		return
	}
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			keys = append(keys, p)
		}
	}
	viper.Set("relayer.private_keys", keys)
}
