package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskbridgeco/taskbridge/internal/classify"
	"github.com/taskbridgeco/taskbridge/internal/config"
	"github.com/taskbridgeco/taskbridge/internal/gateway"
	"github.com/taskbridgeco/taskbridge/internal/logging"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "taskbridge",
	Short: "taskbridge - chat event classification and task dispatch pipeline",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the full pipeline (channels + classifier + dispatch)",
	RunE:  runServe,
}

var classifyCmd = &cobra.Command{
	Use:   "classify [text]",
	Short: "Classify a message with the local heuristic layer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClassify,
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show learned pattern store statistics",
	RunE:  runPatterns,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directories",
	RunE:  runOnboard,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

var logLevelFlag string

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd, classifyCmd, patternsCmd, onboardCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.Primary.APIKey == "" {
		return fmt.Errorf("primary provider API key not set. Run 'taskbridge onboard' or set OPENAI_API_KEY")
	}

	logger, err := logging.New(logLevelFlag)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := classify.NewStore(cfg.Classifier.DBPath, cfg.Classifier.TermsDir)
	if err != nil {
		return fmt.Errorf("open pattern store: %w", err)
	}
	defer store.Close()

	c := classify.NewClassifier(store, cfg.Classifier, logging.NewNop())
	result := c.Classify(strings.Join(args, " "))

	fmt.Printf("Verdict: %s\n", result.Verdict)
	fmt.Printf("Confidence: %.3f\n", result.Confidence)
	if result.FromLearned {
		fmt.Println("Source: learned pattern")
	}
	for _, term := range result.Terms {
		fmt.Printf("  %-20s %+.2f\n", term.Token, term.Weight)
	}
	return nil
}

func runPatterns(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := classify.NewStore(cfg.Classifier.DBPath, cfg.Classifier.TermsDir)
	if err != nil {
		return fmt.Errorf("open pattern store: %w", err)
	}
	defer store.Close()

	stats := store.Stats()
	fmt.Printf("Pattern store: %s\n", cfg.Classifier.DBPath)
	fmt.Printf("Learned patterns: %d\n", stats.Learned)
	fmt.Printf("Activity terms: %d\n", stats.StaticActivity)
	fmt.Printf("Non-activity terms: %d\n", stats.StaticNonActivity)
	fmt.Printf("Pending flush: %d\n", stats.PendingFlush)
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(filepath.Join(cfgDir, "data"), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set provider and tracker credentials\n", cfgPath)
	fmt.Println("  2. Or set OPENAI_API_KEY / TASKBRIDGE_TRACKER_TOKEN environment variables")
	fmt.Println("  3. Run 'taskbridge serve' to start the pipeline")
	return nil
}
