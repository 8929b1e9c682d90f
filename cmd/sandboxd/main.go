package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sandboxd/sandboxd/internal/app"
	"github.com/sandboxd/sandboxd/internal/artifacts"
	"github.com/sandboxd/sandboxd/internal/config"
	"github.com/sandboxd/sandboxd/internal/log"
)

// Version, Commit, and BuildDate are stamped via -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sandboxd",
	Short: "sandboxd runs code execution sandbox sessions and their artifact store",
	Long: `sandboxd owns the lifecycle of sandbox session containers, the
content-addressed artifact store backing them, and the dataset cache staged
into each session, exposed behind a single HTTP listener.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"sandboxd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildDate,
	))

	rootCmd.PersistentFlags().String("env-file", "", "optional key=value file of configuration overrides")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(artifactsCmd)
	rootCmd.AddCommand(versionCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sandboxd HTTP listener",
	RunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		addr, _ := cmd.Flags().GetString("addr")
		debug, _ := cmd.Flags().GetBool("debug")

		cfg, err := config.FromEnv(envFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		buildInfo := log.BuildInfo{Version: Version, Commit: Commit, ModeID: cfg.ModeID()}
		a, err := app.NewApp(cfg, buildInfo, debug)
		if err != nil {
			return fmt.Errorf("init app: %w", err)
		}

		color.New(color.FgCyan, color.Bold).Fprintf(cmd.OutOrStdout(), "sandboxd %s starting in %s mode\n", Version, cfg.ModeID())

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return a.Serve(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8000", "address to listen on")
	serveCmd.Flags().Bool("debug", false, "enable the development logger")
}

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Artifact store maintenance commands",
}

var gcCheckCmd = &cobra.Command{
	Use:   "gc-check",
	Short: "Report orphaned and missing blobs without deleting anything",
	Long: `gc-check walks the blob store and cross-references it against the
artifact catalog, reporting blobs on disk with no catalog row (orphans) and
catalog rows whose blob is missing from disk. It never deletes anything;
actual garbage collection is left to an operator-driven follow-up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		cfg, err := config.FromEnv(envFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		store, err := artifacts.Open(cfg.BlobstoreDir, cfg.ArtifactsDB)
		if err != nil {
			return fmt.Errorf("open artifact store: %w", err)
		}
		defer store.Close()

		report, err := store.GCCheck()
		if err != nil {
			return fmt.Errorf("gc check: %w", err)
		}

		fmt.Printf("scanned %d blobs, %d catalog rows\n", report.ScannedBlobs, report.ScannedRows)

		orphanLabel := color.GreenString("%d", len(report.OrphanBlobs))
		if len(report.OrphanBlobs) > 0 {
			orphanLabel = color.YellowString("%d", len(report.OrphanBlobs))
		}
		fmt.Printf("orphan blobs (no catalog row): %s\n", orphanLabel)
		for _, sha := range report.OrphanBlobs {
			fmt.Printf("  %s\n", sha)
		}

		missingLabel := color.GreenString("%d", len(report.MissingBlobs))
		if len(report.MissingBlobs) > 0 {
			missingLabel = color.RedString("%d", len(report.MissingBlobs))
		}
		fmt.Printf("missing blobs (catalog row, no file): %s\n", missingLabel)
		for _, sha := range report.MissingBlobs {
			fmt.Printf("  %s\n", sha)
		}
		return nil
	},
}

func init() {
	artifactsCmd.AddCommand(gcCheckCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("sandboxd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildDate)
		return nil
	},
}
