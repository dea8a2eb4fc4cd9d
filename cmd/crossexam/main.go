package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/config"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/evaluator"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/export"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/generator"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/llm"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/stats"
	"github.com/vabalass/LLM-cross-examination-with-Bible/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "crossexam",
		Short: "Generate and cross-evaluate Bible quiz questions with LLMs",
	}
	root.AddCommand(
		generateCmd(), evaluateCmd(), statsCmd(), filterCmd(),
		exportCmd(), fixIDsCmd(), reindexCmd(),
	)
	return root
}

func addCommonFlags(f *pflag.FlagSet) {
	f.String("results-dir", "results", "Root directory for persisted artifacts")
	f.String("sources-dir", "source_text", "Directory with chapter .txt files")
	f.String("keys-file", "API_keys.txt", "key=value credentials file")
	f.String("db", "", "Manifest database path (default <results-dir>/manifest.db)")
	f.StringSlice("models", nil, "Participating model identifiers (provider/model-name)")
	f.Int("retry-attempts", 3, "Completion attempts before giving up")
	f.Duration("retry-delay", 5*time.Second, "Delay between completion attempts")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate question batches from source chapters",
		RunE:  runGenerate,
	}
	f := cmd.Flags()
	addCommonFlags(f)
	f.StringP("model", "m", "", "Generating model identifier (required)")
	f.String("chapter", "", "Single chapter file to (re)generate; omit to process the whole sources directory")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Grade question batches with other models",
		RunE:  runEvaluate,
	}
	f := cmd.Flags()
	addCommonFlags(f)
	f.StringP("evaluator", "e", "", "Evaluating model identifier (required)")
	f.String("evaluated", "", "Model whose questions to grade; omit to grade every other known model")
	_ = cmd.MarkFlagRequired("evaluator")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate generation and grading statistics",
		RunE:  runStats,
	}
	addCommonFlags(cmd.Flags())
	return cmd
}

func filterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Collect questions graded 5 by every evaluator into the perfect question bank",
		RunE:  runFilter,
	}
	addCommonFlags(cmd.Flags())
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export questions and grades as CSV",
		RunE:  runExport,
	}
	f := cmd.Flags()
	addCommonFlags(f)
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func fixIDsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fix-ids",
		Short: "Renumber question IDs to the dense {chapter}_{NNN} convention",
		RunE:  runFixIDs,
	}
	f := cmd.Flags()
	addCommonFlags(f)
	f.String("dir", "", "Directory with questions_*.json files (required)")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func reindexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the artifact manifest from the results tree",
		RunE:  runReindex,
	}
	addCommonFlags(cmd.Flags())
	return cmd
}

func setupLogging(v *viper.Viper) {
	var level slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// viperForCmd binds a command's flags and environment to a fresh viper
// instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("CROSSEXAM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("crossexam")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/crossexam")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// setup performs the shared per-command bootstrap: logging, config and
// store. The caller owns the returned store.
func setup(cmd *cobra.Command) (*viper.Viper, *config.Config, *store.Store, error) {
	v := viperForCmd(cmd)
	setupLogging(v)

	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	dbPath := v.GetString("db")
	if dbPath == "" {
		dbPath = filepath.Join(cfg.ResultsDir, "manifest.db")
	}
	st, err := store.New(cfg.ResultsDir, dbPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return v, cfg, st, nil
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	v, cfg, st, err := setup(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	gen := generator.New(llm.New(cfg), st, cfg.MaxAttempts, cfg.RetryDelay)
	modelID := v.GetString("model")

	if chapter := v.GetString("chapter"); chapter != "" {
		return gen.Run(cmd.Context(), modelID, chapter)
	}
	return gen.RunAll(cmd.Context(), modelID, cfg.SourcesDir)
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	v, cfg, st, err := setup(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	ev := evaluator.New(llm.New(cfg), st)
	evaluatorID := v.GetString("evaluator")

	if evaluated := v.GetString("evaluated"); evaluated != "" {
		return ev.RunAll(cmd.Context(), evaluatorID, evaluated, cfg.SourcesDir)
	}

	// Cross mode: grade every other known generating model.
	targets, err := st.Models()
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		targets = cfg.Models
	}
	for _, evaluated := range targets {
		if evaluated == evaluatorID {
			continue
		}
		if err := ev.RunAll(cmd.Context(), evaluatorID, evaluated, cfg.SourcesDir); err != nil {
			return err
		}
	}
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	_, _, st, err := setup(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := stats.Compute(st)
	if err != nil {
		return fmt.Errorf("compute stats: %w", err)
	}
	s.WriteSummary(os.Stdout)
	return nil
}

func runFilter(cmd *cobra.Command, _ []string) error {
	_, _, st, err := setup(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := stats.Compute(st)
	if err != nil {
		return fmt.Errorf("compute stats: %w", err)
	}
	total, err := stats.FilterPerfect(st, s)
	if err != nil {
		return fmt.Errorf("filter perfect questions: %w", err)
	}
	slog.Info("perfect question bank written", "total", total)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v, _, st, err := setup(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return export.CSV(st, w)
}

func runFixIDs(cmd *cobra.Command, _ []string) error {
	v, _, st, err := setup(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	total, err := st.FixQuestionIDs(v.GetString("dir"))
	if err != nil {
		return err
	}
	slog.Info("question ids renumbered", "total", total)
	return nil
}

func runReindex(cmd *cobra.Command, _ []string) error {
	_, _, st, err := setup(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Reindex(); err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	models, err := st.Models()
	if err != nil {
		return err
	}
	slog.Info("manifest rebuilt", "models", len(models))
	return nil
}
