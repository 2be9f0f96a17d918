package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/YuminosukeSato/sipredict/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"      _                    _ _      _\n" +
		"  ___(_)_ __  _ __ ___  __| (_) ___| |_\n" +
		" / __| | '_ \\| '__/ _ \\/ _` | |/ __| __|\n" +
		" \\__ \\ | |_) | | |  __/ (_| | | (__| |_\n" +
		" |___/_| .__/|_|  \\___|\\__,_|_|\\___|\\__|\n" +
		"       |_|\n"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "sipredict",
	Short: "sipredict - suicidality prediction pipeline",
	Long: color.CyanString(logo) + "\nBuilds the analysis table from questionnaire exports, " +
		"trains the model families over balanced resamples and reports their test performance.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the running stage.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		return err
	}
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "", "override log.format (json, console, cloud)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(predictorsCmd)
	rootCmd.AddCommand(outcomesCmd)
	rootCmd.AddCommand(assembleCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(runCmd)
}
