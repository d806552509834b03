package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/auraa-fs/cropscan/internal/inference"
)

func newPredictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "predict FILE",
		Short: "Classify a single image with the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			// Reject before reading a huge file into memory.
			if err := inference.ValidateUpload(path, info.Size()); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			result, err := newClient().Predict(cmd.Context(), path, data)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}
