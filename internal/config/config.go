// Package config loads the engine's typed configuration from Viper,
// mirroring the teacher's per-module Config-struct-plus-defaults pattern
// (internal/insight/config.go, internal/pulse/config.go in the teacher):
// one struct, mapstructure tags, a DefaultConfig constructor, and a thin
// Load wrapper around Viper's file/env/default precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalmesh/fleetwatch/internal/anomaly"
	"github.com/signalmesh/fleetwatch/internal/cluster"
	"github.com/signalmesh/fleetwatch/internal/eventbus"
	"github.com/signalmesh/fleetwatch/internal/locate"
	"github.com/signalmesh/fleetwatch/internal/ring"
	"github.com/signalmesh/fleetwatch/internal/smoothing"
)

// Config is the fully assembled, typed configuration for one engine
// process. Every nested struct carries the spec §6 defaults and can be
// overridden via a config file or env (FLEETWATCH_*); env takes
// precedence over the file. No command-line flags are bound to keys.
type Config struct {
	RingCapacity int              `mapstructure:"ring_capacity"`
	Smoothing    smoothing.Config `mapstructure:"smoothing"`
	Anomaly      anomaly.Config   `mapstructure:"anomaly"`
	Locate       locate.Config    `mapstructure:"locate"`
	Cluster      cluster.Config   `mapstructure:"cluster"`

	ClusteringInterval     time.Duration `mapstructure:"clustering_interval"`
	ClusteringFreshCount   int           `mapstructure:"clustering_fresh_anomaly_count"`
	HealthSweepInterval    time.Duration `mapstructure:"health_sweep_interval"`
	IdleEvictionInterval   time.Duration `mapstructure:"idle_eviction_interval"`
	IdleEvictionTimeout    time.Duration `mapstructure:"idle_eviction_timeout"`
	HealthRecomputeStride  int           `mapstructure:"health_recompute_stride"`
	InboxCapacity          int           `mapstructure:"inbox_capacity"`
	SinkTimeout            time.Duration `mapstructure:"sink_timeout"`
	WebsocketWriteDeadline time.Duration `mapstructure:"websocket_write_deadline"`
	TaskGracePeriod        time.Duration `mapstructure:"task_grace_period"`

	StorePath string `mapstructure:"store_path"`
	Listen    string `mapstructure:"listen"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig() Config {
	var c Config
	c.RingCapacity = ring.DefaultCapacity
	c.Smoothing = smoothing.DefaultConfig()
	c.Anomaly = anomaly.DefaultConfig()
	c.Locate = locate.DefaultConfig()
	c.Cluster = cluster.DefaultConfig()

	c.ClusteringInterval = 60 * time.Second
	c.ClusteringFreshCount = 5
	c.HealthSweepInterval = 5 * time.Minute
	c.IdleEvictionInterval = 10 * time.Minute
	c.IdleEvictionTimeout = 7 * 24 * time.Hour
	c.HealthRecomputeStride = 1
	c.InboxCapacity = eventbus.DefaultInboxCapacity
	c.SinkTimeout = 2 * time.Second
	c.WebsocketWriteDeadline = 1 * time.Second
	c.TaskGracePeriod = 2 * time.Second

	c.StorePath = "fleetwatch.db"
	c.Listen = ":8088"

	c.Logging.Level = "info"
	c.Logging.Format = "json"
	return c
}

// Load builds a Viper instance bound to the given config file path (if
// non-empty), the FLEETWATCH_ env prefix, and the spec defaults, then
// unmarshals it into a Config. The returned *viper.Viper is handed to
// NewLogger, which reads logging.level/logging.format from it directly.
func Load(path string) (Config, *viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("fleetwatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	setDefaults(v, def)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, nil, fmt.Errorf("read config %q: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, v, nil
}

func setDefaults(v *viper.Viper, def Config) {
	v.SetDefault("ring_capacity", def.RingCapacity)
	v.SetDefault("smoothing.kalman_q", def.Smoothing.KalmanQ)
	v.SetDefault("smoothing.kalman_r", def.Smoothing.KalmanR)
	v.SetDefault("smoothing.ewma_alpha", def.Smoothing.EWMAAlpha)
	v.SetDefault("anomaly.zscore_cutoff", def.Anomaly.ZScoreCutoff)
	v.SetDefault("anomaly.drop_threshold_dbm", def.Anomaly.DropThresholdDBm)
	v.SetDefault("anomaly.oscillation_threshold_dbm", def.Anomaly.OscillationThresholdDBm)
	v.SetDefault("anomaly.recent_window", def.Anomaly.RecentWindow)
	v.SetDefault("locate.path_loss_exponent", def.Locate.PathLossExponent)
	v.SetDefault("locate.min_distance_m", def.Locate.MinDistanceM)
	v.SetDefault("locate.max_distance_m", def.Locate.MaxDistanceM)
	v.SetDefault("locate.convergence_tolerance", def.Locate.ConvergenceTol)
	v.SetDefault("locate.max_iterations", def.Locate.MaxIterations)
	v.SetDefault("locate.historical_window", def.Locate.HistoricalWindow)
	v.SetDefault("cluster.eps_meters", def.Cluster.EpsMeters)
	v.SetDefault("cluster.min_samples", def.Cluster.MinSamples)

	v.SetDefault("clustering_interval", def.ClusteringInterval)
	v.SetDefault("clustering_fresh_anomaly_count", def.ClusteringFreshCount)
	v.SetDefault("health_sweep_interval", def.HealthSweepInterval)
	v.SetDefault("idle_eviction_interval", def.IdleEvictionInterval)
	v.SetDefault("idle_eviction_timeout", def.IdleEvictionTimeout)
	v.SetDefault("health_recompute_stride", def.HealthRecomputeStride)
	v.SetDefault("inbox_capacity", def.InboxCapacity)
	v.SetDefault("sink_timeout", def.SinkTimeout)
	v.SetDefault("websocket_write_deadline", def.WebsocketWriteDeadline)
	v.SetDefault("task_grace_period", def.TaskGracePeriod)

	v.SetDefault("store_path", def.StorePath)
	v.SetDefault("listen", def.Listen)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
}
