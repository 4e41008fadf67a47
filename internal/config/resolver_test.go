package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestResolveConfig_Defaults(t *testing.T) {
	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if resolved.DBDriver.Value != "sqlite" || resolved.DBDriver.Source != SourceDefault {
		t.Fatalf("unexpected driver: %+v", resolved.DBDriver)
	}
	if !strings.HasSuffix(resolved.DBPath.Value, filepath.Join(".mlstore", "mlstore.db")) || strings.HasPrefix(resolved.DBPath.Value, "~") {
		t.Fatalf("expected expanded default db path, got %q", resolved.DBPath.Value)
	}
	k, _ := resolved.ClustersValue()
	seed, _ := resolved.SeedValue()
	if k != 3 || seed != 42 {
		t.Fatalf("expected k=3 seed=42, got k=%d seed=%d", k, seed)
	}
	if resolved.Linkage.Value != "ward" || resolved.Metric.Value != "euclidean" || resolved.LogLevel.Value != "info" {
		t.Fatalf("unexpected analysis defaults: %+v", resolved)
	}
}

func TestResolveConfig_Precedence_ConfigEnvCLI(t *testing.T) {
	cfgPath := writeConfig(t, `db:
  path: ~/from-config.db
log_level: debug
analysis:
  clusters: 5
  seed: 7
  linkage: average
  metric: cityblock
`)

	t.Setenv("MLSTORE_DB", "~/from-env.db")
	t.Setenv("MLSTORE_CLUSTERS", "4")

	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: cfgPath,
		CLIDBPath:  "~/from-cli.db",
		CLILinkage: "single",
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}

	if resolved.DBPath.Source != SourceCLI {
		t.Fatalf("expected DB path source cli, got %s", resolved.DBPath.Source)
	}
	if resolved.Clusters.Source != SourceEnv || resolved.Clusters.From != "MLSTORE_CLUSTERS" {
		t.Fatalf("expected clusters from env, got %+v", resolved.Clusters)
	}
	if resolved.Linkage.Value != "single" || resolved.Linkage.Source != SourceCLI {
		t.Fatalf("expected linkage from cli, got %+v", resolved.Linkage)
	}
	if resolved.Metric.Value != "cityblock" || resolved.Metric.Source != SourceConfig || resolved.Metric.From != cfgPath {
		t.Fatalf("expected metric from config, got %+v", resolved.Metric)
	}
	if seed, _ := resolved.SeedValue(); seed != 7 {
		t.Fatalf("expected seed 7 from config, got %d", seed)
	}
	if resolved.LogLevel.Value != "debug" {
		t.Fatalf("expected log level debug, got %q", resolved.LogLevel.Value)
	}
}

func TestResolveConfig_PostgresKeepsConnectionString(t *testing.T) {
	t.Setenv("MLSTORE_DB_DRIVER", "Postgres")
	dsn := "postgres://ml:ml@localhost:5432/grafana_ml_model?sslmode=disable"
	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"),
		CLIDBPath:  dsn,
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if resolved.DBDriver.Value != "postgres" || resolved.DBPath.Value != dsn {
		t.Fatalf("unexpected db settings: %+v %+v", resolved.DBDriver, resolved.DBPath)
	}
}

func TestResolveConfig_Invalid(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	tests := []struct {
		name string
		opts ResolveOptions
		want string
	}{
		{"driver", ResolveOptions{ConfigPath: missing, CLIDriver: "mysql"}, "invalid driver"},
		{"postgres without dsn", ResolveOptions{ConfigPath: missing, CLIDriver: "postgres"}, "connection string"},
		{"seed", ResolveOptions{ConfigPath: missing, CLISeed: "-1"}, "invalid seed"},
		{"clusters", ResolveOptions{ConfigPath: missing, CLIClusters: "zero"}, "--k"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveConfig(tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestResolveConfig_MalformedFile(t *testing.T) {
	cfgPath := writeConfig(t, "analysis: [unclosed\n")
	if _, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath}); err == nil {
		t.Fatal("expected parse error")
	}
}
