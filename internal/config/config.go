// Package config loads Logamizer's runtime settings from environment
// variables and an optional YAML file, using viper. No command-line flags
// are bound.
//
// Grounded on allensuvorov-tenexlog's cmd/api/main.go, which reads PORT,
// ADDR, CORS_ORIGIN, BASIC_USER and BASIC_PASS straight from os.Getenv with
// the same defaulting rules kept here; viper replaces the direct
// os.Getenv calls so the same keys can also come from a config file, and
// adds the six site-analytics options spec.md §6 names.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/allensuvorov/logamizer/internal/model"
)

// Config is every tunable Logamizer reads at startup.
type Config struct {
	Addr         string
	Port         string
	CORSOrigin   string
	BasicUser    string
	BasicPass    string
	DatabaseURL  string // empty = use the in-memory store

	LogFormat              string
	AnomalyBaselineDays     int
	AnomalyMinBaselineHours int
	AnomalyZThreshold       float64
	AnomalyNewPathMinCount  int
	FilteredIPs             []string
}

// Load reads configuration from (in increasing precedence) built-in
// defaults, an optional YAML file, and environment variables. The viper
// instance is private to Load, so no flags are bound to it. configFile may
// be empty, in which case only env/defaults apply.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", "")
	v.SetDefault("port", "8080")
	v.SetDefault("cors_origin", "http://localhost:3000")
	v.SetDefault("database_url", "")

	defaults := model.DefaultAnomalyParams()
	v.SetDefault("log_format", string(model.FormatAuto))
	v.SetDefault("anomaly_baseline_days", defaults.BaselineDays)
	v.SetDefault("anomaly_min_baseline_hours", defaults.MinBaselineHours)
	v.SetDefault("anomaly_z_threshold", defaults.ZThreshold)
	v.SetDefault("anomaly_new_path_min_count", defaults.NewPathMinCount)
	v.SetDefault("filtered_ips", []string{})

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	cfg := Config{
		Addr:                    v.GetString("addr"),
		Port:                    v.GetString("port"),
		CORSOrigin:              v.GetString("cors_origin"),
		BasicUser:               v.GetString("basic_user"),
		BasicPass:               v.GetString("basic_pass"),
		DatabaseURL:             v.GetString("database_url"),
		LogFormat:               v.GetString("log_format"),
		AnomalyBaselineDays:     v.GetInt("anomaly_baseline_days"),
		AnomalyMinBaselineHours: v.GetInt("anomaly_min_baseline_hours"),
		AnomalyZThreshold:       v.GetFloat64("anomaly_z_threshold"),
		AnomalyNewPathMinCount:  v.GetInt("anomaly_new_path_min_count"),
		FilteredIPs:             v.GetStringSlice("filtered_ips"),
	}
	return cfg, nil
}

// ListenAddr mirrors the teacher's PORT/ADDR precedence: ADDR wins when
// set, otherwise ":"+PORT.
func (c Config) ListenAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	return ":" + c.Port
}

// AnomalyParams builds the per-site defaults from the loaded config; a
// site record can still override any of these per spec.md §6.
func (c Config) AnomalyParams() model.AnomalyParams {
	return model.AnomalyParams{
		BaselineDays:     c.AnomalyBaselineDays,
		MinBaselineHours: c.AnomalyMinBaselineHours,
		ZThreshold:       c.AnomalyZThreshold,
		NewPathMinCount:  c.AnomalyNewPathMinCount,
	}
}
