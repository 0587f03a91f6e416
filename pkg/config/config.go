package config

// Package config provides a reusable loader for fvnode configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fractal-vortex-chain/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for one fvnode process. It mirrors the
// structure of the YAML files under cmd/config and the supported
// environment variable overrides.
type Config struct {
	Network struct {
		P2PPort        int      `mapstructure:"p2p_port" json:"p2p_port"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
	} `mapstructure:"network" json:"network"`

	Consensus struct {
		EnergyThreshold float64 `mapstructure:"energy_threshold" json:"energy_threshold"`
		FractalLevels   int     `mapstructure:"fractal_levels" json:"fractal_levels"`
		SyncIntervalSec int     `mapstructure:"sync_interval" json:"sync_interval"`
	} `mapstructure:"consensus" json:"consensus"`

	Device struct {
		HeartbeatTimeoutSec int `mapstructure:"heartbeat_timeout" json:"heartbeat_timeout"`
		GracePeriodSec      int `mapstructure:"grace_period" json:"grace_period"`
	} `mapstructure:"device" json:"device"`

	Cluster struct {
		Size int `mapstructure:"size" json:"size"`
	} `mapstructure:"cluster" json:"cluster"`

	Storage struct {
		DataDir string `mapstructure:"data_dir" json:"data_dir"`
		Prune   bool   `mapstructure:"prune" json:"prune"`
	} `mapstructure:"storage" json:"storage"`

	Mining struct {
		DefaultAddress string `mapstructure:"default_address" json:"default_address"`
	} `mapstructure:"mining" json:"mining"`

	HTTP struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"http" json:"http"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load loads a local .env file, reads cmd/config/default.yaml, merges an
// optional env-named overlay, then applies the P2P_PORT / MINING_ADDRESS /
// RPC_DATA_DIR environment overrides. The resulting configuration is stored
// in AppConfig and returned.
func Load(env string) (*Config, error) {
	_ = godotenv.Load() // a missing .env is not an error

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()
	viper.BindEnv("network.p2p_port", "P2P_PORT")
	viper.BindEnv("mining.default_address", "MINING_ADDRESS")
	viper.BindEnv("storage.data_dir", "RPC_DATA_DIR")

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	applyDefaults(&AppConfig)
	return &AppConfig, nil
}

// applyDefaults fills in sane defaults for any field left at its zero value
// after unmarshalling, so a process with no config file at all (env vars
// only) still boots with sane behaviour.
func applyDefaults(c *Config) {
	if c.Network.P2PPort == 0 {
		c.Network.P2PPort = utils.EnvOrDefaultInt("P2P_PORT", 30333)
	}
	if c.Mining.DefaultAddress == "" {
		c.Mining.DefaultAddress = utils.EnvOrDefault("MINING_ADDRESS", "")
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = utils.EnvOrDefault("RPC_DATA_DIR", "./data/rpc_storage")
	}
	if c.Consensus.SyncIntervalSec == 0 {
		c.Consensus.SyncIntervalSec = 30
	}
	if c.Device.HeartbeatTimeoutSec == 0 {
		c.Device.HeartbeatTimeoutSec = 45
	}
	if c.Device.GracePeriodSec == 0 {
		c.Device.GracePeriodSec = 90
	}
	if c.Cluster.Size == 0 {
		c.Cluster.Size = 3
	}
	if c.Consensus.FractalLevels == 0 {
		c.Consensus.FractalLevels = 4
	}
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration using the FVC_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("FVC_ENV", ""))
}
