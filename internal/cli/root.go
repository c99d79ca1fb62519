package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/siteagent/internal/app"
	"github.com/KafClaw/siteagent/internal/config"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/siteagent/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"      _ _                              _\n" +
		"  ___(_) |_ ___  __ _  __ _  ___ _ __ | |_\n" +
		" / __| | __/ _ \\/ _` |/ _` |/ _ \\ '_ \\| __|\n" +
		" \\__ \\ | ||  __/ (_| | (_| |  __/ | | | |_\n" +
		" |___/_|\\__\\___|\\__,_|\\__, |\\___|_| |_|\\__|\n" +
		"                      |___/\n"
)

var (
	verbose    bool
	configPath string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "siteagent",
	Short:         "siteagent - AI operations agent for websites",
	Long:          color.CyanString(logo) + "\nChat with an LLM agent that inspects and changes your site behind human approval.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(cmd.ErrOrStderr())
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader(cmd.OutOrStdout(), "siteagent version")
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	app.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.siteagent/config.json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	rootCmd.AddCommand(versionCmd)
}

func setupLogging(w io.Writer) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.New(color.FgCyan, color.Bold).Sprint(title))
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// openApp loads configuration and wires the services. Callers must Close it.
func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, app.Options{Loader: loadConfig})
}

func statusColor(status string) string {
	switch status {
	case "ok", "completed", "approved", "pass":
		return color.GreenString(status)
	case "warn", "pending", "processing":
		return color.YellowString(status)
	case "fail", "failed", "rejected", "cancelled":
		return color.RedString(status)
	}
	return status
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
