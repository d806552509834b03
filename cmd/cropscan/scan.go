package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/auraa-fs/cropscan/internal/inference"
	"github.com/auraa-fs/cropscan/internal/logger"
	"github.com/auraa-fs/cropscan/internal/metrics"
	"github.com/auraa-fs/cropscan/internal/pipeline"
	"github.com/auraa-fs/cropscan/internal/publisher"
	"github.com/auraa-fs/cropscan/internal/source"
	"github.com/auraa-fs/cropscan/pkg/types"
)

type scanOutput struct {
	Report    types.Report         `json:"report"`
	LLMReport *inference.LLMReport `json:"llm_report,omitempty"`
	LLMError  string               `json:"llm_error,omitempty"`
}

func newScanCmd() *cobra.Command {
	var (
		selector string
		duration time.Duration
		outPath  string
		withLLM  bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a headless session and print its report",
		Example: `  cropscan scan --source camera:http://bridge.local/snapshot.jpg --duration 1m
  cropscan scan --source ./field-photos --out report.json --llm`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out, err := scan(ctx, selector, duration, withLLM)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", outPath, err)
				}
				defer f.Close()
				w = f
			}
			return printJSON(w, out)
		},
	}
	cmd.Flags().StringVar(&selector, "source", "", "Frame source: camera:<url>, file:<path>, <path> or http(s)://<mjpeg>")
	cmd.Flags().DurationVar(&duration, "duration", 30*time.Second, "Session length")
	cmd.Flags().StringVar(&outPath, "out", "", "Write the report JSON to this file instead of stdout")
	cmd.Flags().BoolVar(&withLLM, "llm", false, "Also request an LLM narrative for the report")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func scan(ctx context.Context, selector string, duration time.Duration, withLLM bool) (*scanOutput, error) {
	spec, err := source.ParseSpec(selector)
	if err != nil {
		return nil, err
	}
	src, err := source.Open(spec, pipeline.SourceOptions(cfg))
	if err != nil {
		return nil, err
	}

	client := newClient()
	m := metrics.New()
	opts := []pipeline.Option{pipeline.WithMetrics(m)}

	if cfg.MQTT.Broker != "" {
		pub, err := publisher.Connect(cfg.MQTT, m)
		if err != nil {
			logger.Warn("Main", "MQTT disabled: %v", err)
		} else {
			defer runPublisher(pub)()
			opts = append(opts, pipeline.WithEventSink(pub), pipeline.WithReportSink(pub))
		}
	}

	sess := pipeline.New(src, client, pipeline.FromConfig(cfg), opts...)
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	logger.Info("Main", "Scanning %s for %s", src.Name(), duration)

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		logger.Info("Main", "Interrupted, building report")
	case <-sess.Done():
		if err := sess.Err(); err != nil {
			logger.Warn("Main", "Session ended early: %v", err)
		}
	}

	rep, err := sess.Report()
	if err != nil {
		return nil, err
	}
	out := &scanOutput{Report: rep}

	if withLLM {
		llmCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		llm, err := client.GenerateReport(llmCtx, rep)
		if err != nil {
			logger.Warn("Main", "LLM report: %v", err)
			out.LLMError = err.Error()
		} else {
			out.LLMReport = llm
		}
	}
	return out, nil
}
