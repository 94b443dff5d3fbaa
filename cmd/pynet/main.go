// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

// pynet lists, describes and trains the multi-channel variational autoencoders of the module.
//
// Examples:
//
//	pynet models
//	pynet summary smcvae --set "latent_dim=3"
//	pynet mcvae --output ~/tmp/mcvae --set "num_epochs=1000;smcvae/beta=2.0"
//	pynet checkpoint ~/tmp/mcvae/checkpoints/smcvae --scope /smcvae
package main

import (
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/simplego"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		klog.Fatalf("Error: %+v", err)
	}
}
