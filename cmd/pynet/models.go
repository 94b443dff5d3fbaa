// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

package main

import (
	"fmt"

	"github.com/neurospin/pynet/internal/summary"
	"github.com/spf13/cobra"
)

func buildModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the registered models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), summary.Registry())
			return err
		},
	}
}

func buildSummaryCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "summary <model>",
		Short:   "Build a registered model and list its variables",
		Example: "  pynet summary smcvae --set \"latent_dim=3;n_channels=2\"",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, _, err := flags.newContext()
			if err != nil {
				return err
			}
			backend, err := flags.newBackend()
			if err != nil {
				return err
			}
			output, err := summary.ModelByName(backend, ctx, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), output)
			return err
		},
	}
}

func buildCheckpointCmd() *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "checkpoint <dir>",
		Short: "Display the hyperparameters and variables of the latest checkpoint in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, err := summary.Checkpoint(args[0], scope)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), output)
			return err
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "",
		"Scope of the variables to list, typically the model name (\"/smcvae\"). If empty all variables are listed.")
	return cmd
}
