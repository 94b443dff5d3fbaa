// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

package main

import (
	"flag"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/neurospin/pynet/examples/mcvae"
	"github.com/neurospin/pynet/internal/config"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// rootFlags are shared by all sub-commands.
type rootFlags struct {
	config   string
	settings string
	backend  string
}

func buildRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "pynet",
		Short:         "Multi-channel variational autoencoders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.config, "config", "",
		"TOML, YAML or JSON file with hyperparameters. Tables set the hyperparameters of the model with their name.")
	root.PersistentFlags().StringVar(&flags.settings, "set", "",
		`Hyperparameters to set, separated by ";", e.g. "latent_dim=3;smcvae/beta=2.0". Applied after --config.`)
	root.PersistentFlags().StringVar(&flags.backend, "backend", "",
		"Backend configuration, e.g. \"go\". If empty the default backend is used.")

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	root.PersistentFlags().AddGoFlagSet(klogFlags)

	root.AddCommand(buildModelsCmd(), buildSummaryCmd(flags), buildMCVAECmd(flags), buildCheckpointCmd())
	return root
}

// newContext returns the default context of the example with the hyperparameters of --config and --set
// applied. It also returns the paths of the hyperparameters set.
func (f *rootFlags) newContext() (ctx *context.Context, paramsSet []string, err error) {
	ctx = mcvae.CreateDefaultContext()
	if f.config != "" {
		if paramsSet, err = config.LoadInto(ctx, f.config); err != nil {
			return nil, nil, err
		}
	}
	if f.settings != "" {
		settingsSet, err := config.ParseSettings(ctx, f.settings)
		if err != nil {
			return nil, nil, err
		}
		paramsSet = append(paramsSet, settingsSet...)
	}
	if len(paramsSet) > 0 {
		klog.V(1).Infof("hyperparameters set: %v", paramsSet)
	}
	return ctx, paramsSet, nil
}

func (f *rootFlags) newBackend() (backends.Backend, error) {
	if f.backend == "" {
		return backends.New()
	}
	return backends.NewWithConfig(f.backend)
}
