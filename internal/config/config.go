// Package config loads Aid's runtime configuration from the environment,
// with an optional YAML file for operational tunables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Tunables are operational knobs left to the deployer.
type Tunables struct {
	ClaimTTL             time.Duration `yaml:"claim_ttl"`
	TimeoutMonitorPeriod time.Duration `yaml:"timeout_monitor_period"`
	HealerPeriod         time.Duration `yaml:"healer_period"`
	HealerJobWindow      time.Duration `yaml:"healer_job_window"`
	HealerRecordWindow   time.Duration `yaml:"healer_record_window"`
	ListJobsLimit        int           `yaml:"list_jobs_limit"`
	StoreConnectBudget   time.Duration `yaml:"store_connect_budget"`
	StorePoolSize        int           `yaml:"store_pool_size"`
}

func defaultTunables() Tunables {
	return Tunables{
		ClaimTTL:             60 * time.Minute,
		TimeoutMonitorPeriod: 5 * time.Minute,
		HealerPeriod:         60 * time.Minute,
		HealerJobWindow:      1 * time.Hour,
		HealerRecordWindow:   24 * time.Hour,
		ListJobsLimit:        100,
		StoreConnectBudget:   5 * time.Second,
		StorePoolSize:        getEnvInt("AID_STORE_POOL_SIZE", 10),
	}
}

// Config is Aid's full runtime configuration.
type Config struct {
	ListenAddr       string
	DBDSN            string
	RegistryPath     string
	WebhookURL       string
	AdminToken       string
	MetricsAddr      string
	NodeDirectoryURL string
	Tunables         Tunables
}

// Load reads configuration from the environment, optionally overlaying
// operational tunables from a YAML file named by AID_CONFIG_FILE.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:       getEnv("AID_LISTEN_ADDR", ":8443"),
		DBDSN:            getEnv("AID_DB_DSN", ""),
		RegistryPath:     getEnv("AID_REGISTRY_PATH", "encoders.json"),
		WebhookURL:       getEnv("AID_WEBHOOK_URL", ""),
		AdminToken:       getEnv("AID_ADMIN_TOKEN", ""),
		MetricsAddr:      getEnv("AID_METRICS_ADDR", ":9090"),
		NodeDirectoryURL: getEnv("AID_NODE_DIRECTORY_URL", ""),
		Tunables:         defaultTunables(),
	}

	if path := os.Getenv("AID_CONFIG_FILE"); path != "" {
		if err := loadTunablesFile(path, &cfg.Tunables); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	// The environment wins over the YAML file for the tunable both can set.
	cfg.Tunables.StorePoolSize = getEnvInt("AID_STORE_POOL_SIZE", cfg.Tunables.StorePoolSize)

	if cfg.DBDSN == "" {
		return Config{}, fmt.Errorf("AID_DB_DSN is required")
	}

	return cfg, nil
}

func loadTunablesFile(path string, t *Tunables) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, t)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
