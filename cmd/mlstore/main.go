package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hurttlocker/mlstore/internal/analysis"
	"github.com/hurttlocker/mlstore/internal/config"
	"github.com/hurttlocker/mlstore/internal/logging"
	"github.com/hurttlocker/mlstore/internal/mcp"
	"github.com/hurttlocker/mlstore/internal/pipeline"
	"github.com/hurttlocker/mlstore/internal/seed"
	"github.com/hurttlocker/mlstore/internal/store"
	"github.com/hurttlocker/mlstore/internal/tree"
)

const version = "0.1.0-dev"

var (
	globalDBPath     string
	globalDriver     string
	globalConfigPath string
	globalLogLevel   string
	globalVerbose    bool
)

func main() {
	args := parseGlobalFlags(os.Args[1:])
	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch args[0] {
	case "seed":
		err = runSeed(args[1:])
	case "analyze":
		err = runAnalyze(args[1:])
	case "tree":
		err = runTree(args[1:])
	case "datasets":
		err = runDatasets(args[1:])
	case "stats":
		err = runStats(args[1:])
	case "config":
		err = runConfig(args[1:])
	case "serve", "mcp":
		err = runServe(args[1:])
	case "version", "--version", "-v":
		fmt.Printf("mlstore %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseGlobalFlags strips global flags (valid before or after the command)
// and returns the remaining arguments.
func parseGlobalFlags(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--verbose":
			globalVerbose = true
		case takeFlag(args, &i, "--db", &globalDBPath):
		case takeFlag(args, &i, "--driver", &globalDriver):
		case takeFlag(args, &i, "--config", &globalConfigPath):
		case takeFlag(args, &i, "--log-level", &globalLogLevel):
		default:
			out = append(out, arg)
		}
	}
	return out
}

// takeFlag consumes "--name value" or "--name=value" at args[*i] into dst.
func takeFlag(args []string, i *int, name string, dst *string) bool {
	arg := args[*i]
	if v, ok := strings.CutPrefix(arg, name+"="); ok {
		*dst = v
		return true
	}
	if arg == name && *i+1 < len(args) {
		*i++
		*dst = args[*i]
		return true
	}
	return false
}

// analysisFlags are the per-run overrides shared by analyze and serve.
type analysisFlags struct {
	seed, clusters, linkage, metric string
}

func resolveConfig(af analysisFlags) (config.ResolvedConfig, error) {
	return config.ResolveConfig(config.ResolveOptions{
		ConfigPath:  globalConfigPath,
		CLIDriver:   globalDriver,
		CLIDBPath:   globalDBPath,
		CLILogLevel: globalLogLevel,
		CLISeed:     af.seed,
		CLIClusters: af.clusters,
		CLILinkage:  af.linkage,
		CLIMetric:   af.metric,
	})
}

func openStore(cfg config.ResolvedConfig) (store.Store, error) {
	s, err := store.NewStore(store.StoreConfig{Driver: cfg.DBDriver.Value, DBPath: cfg.DBPath.Value})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

func newLogger(cfg config.ResolvedConfig) *logging.Logger {
	level := logging.ParseLevel(cfg.LogLevel.Value)
	if globalVerbose {
		level = slog.LevelDebug
	}
	return logging.NewTextLogger(os.Stderr, level)
}

// pipelineOptions converts resolved config into runner options.
func pipelineOptions(cfg config.ResolvedConfig, target string) (pipeline.Options, error) {
	k, err := cfg.ClustersValue()
	if err != nil {
		return pipeline.Options{}, err
	}
	s, err := cfg.SeedValue()
	if err != nil {
		return pipeline.Options{}, err
	}
	linkage, err := analysis.ParseLinkage(cfg.Linkage.Value)
	if err != nil {
		return pipeline.Options{}, err
	}
	metric, err := analysis.ParseMetric(cfg.Metric.Value)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{Clusters: k, Seed: s, Linkage: linkage, Metric: metric, Target: target}, nil
}

func parseDatasetID(v string) (int64, error) {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid dataset id %q", v)
	}
	return id, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ==================== seed ====================

func runSeed(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: mlstore seed <file.csv> --name <name> [--description D] [--creator C] [--columns a,b] [--filter col=value] [--categorical a,b] [--json]")
	}

	var (
		path, columns, filter, categorical string
		meta                               seed.Meta
		jsonOut                            bool
	)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--json":
			jsonOut = true
		case takeFlag(args, &i, "--name", &meta.Name):
		case takeFlag(args, &i, "--description", &meta.Description):
		case takeFlag(args, &i, "--creator", &meta.Creator):
		case takeFlag(args, &i, "--columns", &columns):
		case takeFlag(args, &i, "--filter", &filter):
		case takeFlag(args, &i, "--categorical", &categorical):
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		case path == "":
			path = arg
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if path == "" {
		return fmt.Errorf("no file specified")
	}
	if meta.Name == "" {
		meta.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if meta.Creator == "" {
		meta.Creator = "mlstore seed"
	}

	opts := seed.LoadOptions{Columns: splitList(columns), Categorical: splitList(categorical)}
	if filter != "" {
		col, val, ok := strings.Cut(filter, "=")
		if !ok {
			return fmt.Errorf("--filter wants column=value, got %q", filter)
		}
		opts.Filter = &seed.Filter{Column: strings.TrimSpace(col), Value: strings.TrimSpace(val)}
	}

	tbl, err := seed.LoadCSV(path, opts)
	if err != nil {
		return err
	}
	if rows, cols := tbl.Dims(); rows == 0 || cols == 0 {
		return fmt.Errorf("%s has no complete rows after filtering (%d×%d)", path, rows, cols)
	}

	cfg, err := resolveConfig(analysisFlags{})
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := seed.Write(context.Background(), s, tbl, meta)
	if err != nil {
		return err
	}
	newLogger(cfg).WithDataset(res.DatasetID).Info("dataset seeded", "file", path, "points", res.Points, "features", res.Features)

	if jsonOut {
		return printJSON(res)
	}
	fmt.Printf("Seeded dataset %d (%s): %d points × %d features, %d values\n",
		res.DatasetID, meta.Name, res.Points, res.Features, res.Values)
	return nil
}

// ==================== analyze ====================

func runAnalyze(args []string) error {
	usage := fmt.Errorf("usage: mlstore analyze <%s> --dataset <id> [--k N] [--seed N] [--linkage L] [--metric M] [--target feature] [--json]", kindList())
	if len(args) == 0 {
		return usage
	}

	var (
		kindName, dataset, target string
		af                        analysisFlags
		jsonOut                   bool
	)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--json":
			jsonOut = true
		case takeFlag(args, &i, "--dataset", &dataset):
		case takeFlag(args, &i, "--k", &af.clusters):
		case takeFlag(args, &i, "--seed", &af.seed):
		case takeFlag(args, &i, "--linkage", &af.linkage):
		case takeFlag(args, &i, "--metric", &af.metric):
		case takeFlag(args, &i, "--target", &target):
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		case kindName == "":
			kindName = arg
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if kindName == "" || dataset == "" {
		return usage
	}
	kind, err := pipeline.ParseKind(kindName)
	if err != nil {
		return err
	}
	id, err := parseDatasetID(dataset)
	if err != nil {
		return err
	}

	cfg, err := resolveConfig(af)
	if err != nil {
		return err
	}
	opts, err := pipelineOptions(cfg, target)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	rep, err := pipeline.NewRunner(s, newLogger(cfg), opts).Run(context.Background(), kind, id)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(rep)
	}
	printReport(rep)
	return nil
}

func kindList() string {
	names := make([]string, len(pipeline.Kinds))
	for i, k := range pipeline.Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, "|")
}

func printReport(rep *pipeline.Report) {
	fmt.Printf("%s on dataset %d (%s): %d×%d matrix\n", rep.Analysis, rep.DatasetID, rep.Dataset, rep.Rows, rep.Columns)
	p := rep.Persisted
	for _, line := range []struct {
		label string
		n     int
	}{
		{"correlations", p.Correlations},
		{"coefficients", p.Coefficients},
		{"clusters", p.Clusters},
		{"centroid values", p.Centroids},
		{"memberships", p.Memberships},
		{"metrics rows", p.Metrics},
		{"tree nodes", p.TreeNodes},
	} {
		if line.n > 0 {
			fmt.Printf("  %-16s %d\n", line.label, line.n)
		}
	}
	if rep.RootID != 0 {
		fmt.Printf("  root node        %d\n", rep.RootID)
	}
	fmt.Printf("  took             %s\n", rep.Duration.Round(time.Microsecond))
}

// ==================== tree ====================

func runTree(args []string) error {
	var dataset string
	var jsonOut bool
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--json":
			jsonOut = true
		case takeFlag(args, &i, "--dataset", &dataset):
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		case dataset == "":
			dataset = arg
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if dataset == "" {
		return fmt.Errorf("usage: mlstore tree --dataset <id> [--json]")
	}
	id, err := parseDatasetID(dataset)
	if err != nil {
		return err
	}

	cfg, err := resolveConfig(analysisFlags{})
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	nodes, err := s.ListTreeNodes(context.Background(), id)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("dataset %d has no persisted tree (run: mlstore analyze hierarchical --dataset %d)", id, id)
	}
	report, err := tree.Verify(nodes)
	if err != nil {
		return fmt.Errorf("tree of dataset %d is malformed: %w", id, err)
	}

	if jsonOut {
		return printJSON(report)
	}
	fmt.Printf("Tree of dataset %d: %d leaves, %d internal nodes, root %d\n", id, report.Leaves, report.Internal, report.RootID)
	fmt.Printf("  max height  %.6g\n", report.MaxHeight)
	if !report.Monotonic {
		fmt.Println("  heights are not monotonic (centroid/median linkage inversions)")
	}
	if report.ZeroHeight > 0 {
		fmt.Printf("  %d merge(s) at height 0\n", report.ZeroHeight)
	}
	return nil
}

// ==================== datasets / stats / config ====================

func runDatasets(args []string) error {
	jsonOut, err := onlyJSONFlag(args)
	if err != nil {
		return err
	}
	cfg, err := resolveConfig(analysisFlags{})
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	datasets, err := s.ListDatasets(context.Background())
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(datasets)
	}
	if len(datasets) == 0 {
		fmt.Println("No datasets. Seed one with: mlstore seed <file.csv> --name <name>")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATOR\tDESCRIPTION")
	for _, d := range datasets {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", d.ID, d.Name, d.Creator, d.Description)
	}
	return tw.Flush()
}

func runStats(args []string) error {
	jsonOut, err := onlyJSONFlag(args)
	if err != nil {
		return err
	}
	cfg, err := resolveConfig(analysisFlags{})
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.Stats(context.Background())
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(stats)
	}
	outputStats(stats)
	return nil
}

func outputStats(stats *store.StoreStats) {
	fmt.Println("mlstore statistics")
	fmt.Printf("  datasets            %d\n", stats.Datasets)
	fmt.Printf("  features            %d\n", stats.Features)
	fmt.Printf("  points              %d\n", stats.Points)
	fmt.Printf("  values              %d\n", stats.Values)
	fmt.Printf("  tree nodes          %d\n", stats.TreeNodes)
	fmt.Printf("  clusters            %d\n", stats.Clusters)
	fmt.Printf("  regression rows     %d\n", stats.RegressionResults)
	fmt.Printf("  correlation rows    %d\n", stats.Correlations)
}

func runConfig(args []string) error {
	jsonOut, err := onlyJSONFlag(args)
	if err != nil {
		return err
	}
	cfg, err := resolveConfig(analysisFlags{})
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(cfg)
	}
	fmt.Printf("config file: %s\n", cfg.ConfigPath)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, row := range []struct {
		key string
		v   config.ResolvedValue
	}{
		{"db_driver", cfg.DBDriver},
		{"db_path", cfg.DBPath},
		{"log_level", cfg.LogLevel},
		{"seed", cfg.Seed},
		{"clusters", cfg.Clusters},
		{"linkage", cfg.Linkage},
		{"metric", cfg.Metric},
	} {
		fmt.Fprintf(tw, "%s\t%s\t(%s: %s)\n", row.key, row.v.Value, row.v.Source, row.v.From)
	}
	return tw.Flush()
}

func onlyJSONFlag(args []string) (bool, error) {
	jsonOut := false
	for _, arg := range args {
		if arg != "--json" {
			return false, fmt.Errorf("unknown flag: %s", arg)
		}
		jsonOut = true
	}
	return jsonOut, nil
}

// ==================== serve ====================

func runServe(args []string) error {
	var af analysisFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case takeFlag(args, &i, "--k", &af.clusters):
		case takeFlag(args, &i, "--seed", &af.seed):
		case takeFlag(args, &i, "--linkage", &af.linkage):
		case takeFlag(args, &i, "--metric", &af.metric):
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	cfg, err := resolveConfig(af)
	if err != nil {
		return err
	}
	opts, err := pipelineOptions(cfg, "")
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	// stdout carries the protocol; diagnostics stay on stderr.
	return mcp.Serve(mcp.ServerConfig{
		Store:    s,
		Version:  version,
		Logger:   newLogger(cfg),
		Defaults: opts,
	})
}

func printUsage() {
	fmt.Printf(`mlstore %s - relational store for datasets and their analysis artifacts

Usage:
  mlstore [global flags] <command> [arguments]

Commands:
  seed <file.csv>       Load a CSV/TSV file as a new dataset
  analyze <kind>        Run an analysis and persist its artifacts
                        kinds: %s
  tree --dataset <id>   Verify and summarize a persisted hierarchical tree
  datasets              List stored datasets
  stats                 Show row counts per table
  config                Show resolved settings and where each came from
  serve                 Run the MCP server over stdio
  version               Print version

Seed Flags:
  --name <name>         Dataset name (default: file name)
  --description <text>  Dataset description
  --creator <text>      Dataset creator
  --columns a,b         Keep only these columns, in this order
  --filter col=value    Keep only rows where col equals value
  --categorical a,b     One-hot encode these columns even if numeric

Analyze Flags:
  --dataset <id>        Dataset to analyze (required)
  --k <n>               Clusters for kmeans/kmedoids (default: 3)
  --seed <n>            K-Means seed (default: 42)
  --linkage <name>      single|complete|average|weighted|ward|centroid|median (default: ward)
  --metric <name>       euclidean|cityblock|chebyshev (default: euclidean)
  --target <feature>    Regression response (default: last column)

Global Flags:
  --db <path>           Database path or postgres connection string
  --driver <name>       sqlite|postgres (default: sqlite)
  --config <path>       Config file (default: ~/.mlstore/config.yaml)
  --log-level <level>   debug|info|warn|error (default: info)
  --verbose             Shorthand for --log-level debug
  --json                Machine-readable output (seed, analyze, tree, datasets, stats, config)
  -h, --help            Show this help message
  -v, --version         Print version
`, version, kindList())
}
