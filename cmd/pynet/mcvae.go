// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

package main

import (
	"fmt"
	"path/filepath"

	"github.com/neurospin/pynet/examples/mcvae"
	"github.com/spf13/cobra"
)

func buildMCVAECmd(flags *rootFlags) *cobra.Command {
	var outputDir, checkpointDir string
	var progressBar bool
	cmd := &cobra.Command{
		Use:   "mcvae",
		Short: "Train and compare the dense and sparse MCVAE models on synthetic data",
		Long: fmt.Sprintf("Train and compare the dense and sparse MCVAE models on synthetic data.\n\n"+
			"If the environment variable %s is set, it exits immediately.", mcvae.CIModeEnv),
		Example: "  pynet mcvae --output ~/tmp/mcvae --set \"num_epochs=1000\"",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if mcvae.IsCIMode() {
				_, err := fmt.Fprintf(out, "%s set, skipping training.\n", mcvae.CIModeEnv)
				return err
			}
			ctx, paramsSet, err := flags.newContext()
			if err != nil {
				return err
			}
			backend, err := flags.newBackend()
			if err != nil {
				return err
			}
			if checkpointDir == "" && outputDir != "" {
				checkpointDir = filepath.Join(outputDir, "checkpoints")
			}
			results, err := mcvae.Run(ctx, mcvae.Options{
				Backend:       backend,
				OutputDir:     outputDir,
				CheckpointDir: checkpointDir,
				ProgressBar:   progressBar,
				ParamsSet:     paramsSet,
			})
			if err != nil {
				return err
			}
			for _, m := range results.Models {
				_, _ = fmt.Fprintf(out, "- %s: best validation loss %.4f at epoch %d\n",
					m.Name, m.History.BestLoss, m.History.BestEpoch)
			}
			_, err = fmt.Fprintln(out, "See you!")
			return err
		},
	}
	cmd.Flags().StringVar(&outputDir, "output", "", "Directory where plots and results are written. If empty, nothing is written.")
	cmd.Flags().StringVar(&checkpointDir, "checkpoint", "",
		"Base directory of the checkpoints, one sub-directory per model. Defaults to <output>/checkpoints.")
	cmd.Flags().BoolVar(&progressBar, "progress", false, "Display a progress bar during training.")
	return cmd
}
