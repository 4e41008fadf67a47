// Package config resolves mlstore settings from built-in defaults, the YAML
// config file, environment variables and CLI flags, in that order. Every
// resolved value remembers where it came from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// Built-in defaults.
const (
	DefaultDriver   = "sqlite"
	DefaultDBPath   = "~/.mlstore/mlstore.db"
	DefaultLogLevel = "info"
	DefaultClusters = 3
	DefaultSeed     = 42
	DefaultLinkage  = "ward"
	DefaultMetric   = "euclidean"
)

// ResolveOptions carries the raw CLI flag values; empty means unset.
type ResolveOptions struct {
	ConfigPath  string
	CLIDriver   string
	CLIDBPath   string
	CLILogLevel string
	CLISeed     string
	CLIClusters string
	CLILinkage  string
	CLIMetric   string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBDriver ResolvedValue `json:"db_driver"`
	DBPath   ResolvedValue `json:"db_path"`
	LogLevel ResolvedValue `json:"log_level"`

	Seed     ResolvedValue `json:"seed"`
	Clusters ResolvedValue `json:"clusters"`
	Linkage  ResolvedValue `json:"linkage"`
	Metric   ResolvedValue `json:"metric"`
}

type fileConfig struct {
	DB struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"db"`
	LogLevel string `yaml:"log_level"`
	Analysis struct {
		Seed     *uint64 `yaml:"seed"`
		Clusters *int    `yaml:"clusters"`
		Linkage  string  `yaml:"linkage"`
		Metric   string  `yaml:"metric"`
	} `yaml:"analysis"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mlstore", "config.yaml")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}
	def := func(dst *ResolvedValue, v string) {
		*dst = ResolvedValue{Value: v, Source: SourceDefault, From: "built-in default"}
	}
	def(&out.DBDriver, DefaultDriver)
	def(&out.DBPath, DefaultDBPath)
	def(&out.LogLevel, DefaultLogLevel)
	def(&out.Seed, strconv.Itoa(DefaultSeed))
	def(&out.Clusters, strconv.Itoa(DefaultClusters))
	def(&out.Linkage, DefaultLinkage)
	def(&out.Metric, DefaultMetric)

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBDriver, cfg.DB.Driver, SourceConfig, path)
		apply(&out.DBPath, cfg.DB.Path, SourceConfig, path)
		apply(&out.LogLevel, cfg.LogLevel, SourceConfig, path)
		if cfg.Analysis.Seed != nil {
			apply(&out.Seed, strconv.FormatUint(*cfg.Analysis.Seed, 10), SourceConfig, path)
		}
		if cfg.Analysis.Clusters != nil {
			apply(&out.Clusters, strconv.Itoa(*cfg.Analysis.Clusters), SourceConfig, path)
		}
		apply(&out.Linkage, cfg.Analysis.Linkage, SourceConfig, path)
		apply(&out.Metric, cfg.Analysis.Metric, SourceConfig, path)
	}

	applyEnv(&out.DBDriver, "MLSTORE_DB_DRIVER")
	applyEnv(&out.DBPath, "MLSTORE_DB")
	applyEnv(&out.LogLevel, "MLSTORE_LOG_LEVEL")
	applyEnv(&out.Seed, "MLSTORE_SEED")
	applyEnv(&out.Clusters, "MLSTORE_CLUSTERS")
	applyEnv(&out.Linkage, "MLSTORE_LINKAGE")
	applyEnv(&out.Metric, "MLSTORE_METRIC")

	apply(&out.DBDriver, opts.CLIDriver, SourceCLI, "--driver")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.LogLevel, opts.CLILogLevel, SourceCLI, "--log-level")
	apply(&out.Seed, opts.CLISeed, SourceCLI, "--seed")
	apply(&out.Clusters, opts.CLIClusters, SourceCLI, "--k")
	apply(&out.Linkage, opts.CLILinkage, SourceCLI, "--linkage")
	apply(&out.Metric, opts.CLIMetric, SourceCLI, "--metric")

	out.DBDriver.Value = strings.ToLower(out.DBDriver.Value)
	switch out.DBDriver.Value {
	case "sqlite", "postgres":
	default:
		return out, invalid("driver", out.DBDriver, "want sqlite or postgres")
	}
	// Postgres takes a connection string; only sqlite paths are expanded.
	if out.DBDriver.Value == "sqlite" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	} else if out.DBPath.Source == SourceDefault {
		return out, invalid("db", out.DBPath, "postgres requires a connection string")
	}

	if _, err := out.SeedValue(); err != nil {
		return out, err
	}
	if _, err := out.ClustersValue(); err != nil {
		return out, err
	}
	return out, nil
}

// SeedValue parses the resolved random seed.
func (r ResolvedConfig) SeedValue() (uint64, error) {
	v, err := strconv.ParseUint(r.Seed.Value, 10, 64)
	if err != nil {
		return 0, invalid("seed", r.Seed, "want a non-negative integer")
	}
	return v, nil
}

// ClustersValue parses the resolved cluster count.
func (r ResolvedConfig) ClustersValue() (int, error) {
	v, err := strconv.Atoi(r.Clusters.Value)
	if err != nil || v < 1 {
		return 0, invalid("clusters", r.Clusters, "want a positive integer")
	}
	return v, nil
}

func invalid(key string, v ResolvedValue, want string) error {
	return fmt.Errorf("invalid %s %q from %s %s: %s", key, v.Value, v.Source, v.From, want)
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
