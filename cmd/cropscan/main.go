package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/auraa-fs/cropscan/internal/config"
	"github.com/auraa-fs/cropscan/internal/inference"
	"github.com/auraa-fs/cropscan/internal/logger"
	"github.com/auraa-fs/cropscan/internal/publisher"
)

var (
	configPath string
	apiBaseURL string
	logLevel   string
	logColor   bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:           "cropscan",
	Short:         "Live crop-disease detection: dashboard service and headless scans",
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `cropscan pulls frames from a camera bridge, an image file or directory, or an
MJPEG network stream, sends one downsampled frame per interval to the detection
backend, overlays the boxes on every frame and summarizes a session into a report.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// Config warnings are emitted before the configured level is known.
		logger.SetDefault(logger.New(logger.WARN, os.Stderr, logColor))
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("api") {
			loaded.APIBaseURL = apiBaseURL
		}
		if cmd.Flags().Changed("log-level") {
			loaded.LogLevel = logLevel
		}

		level, err := logger.ParseLevel(loaded.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		logger.Init(level, os.Stderr, logColor)
		cfg = loaded
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "YAML config file")
	flags.StringVar(&apiBaseURL, "api", "", "Detection backend base URL (overrides API_BASE_URL)")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flags.BoolVar(&logColor, "log-color", true, "Enable colored log output")

	rootCmd.AddCommand(newServeCmd(), newScanCmd(), newPredictCmd())
}

func newClient() *inference.Client {
	return inference.NewClient(cfg.APIBaseURL, inference.WithDetectTimeout(cfg.InferenceTimeout))
}

// runPublisher drives pub in the background. The returned stop flushes the
// queue before disconnecting.
func runPublisher(pub *publisher.Publisher) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pub.Start(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
		pub.Close()
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
