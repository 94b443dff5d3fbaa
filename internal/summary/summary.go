// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

// Package summary renders terminal tables describing the registered models and the variables of a
// model built in a context.
package summary

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/neurospin/pynet/pkg/models"
	"github.com/neurospin/pynet/pkg/networks"
	"github.com/pkg/errors"
)

// Registry renders the table of registered models.
func Registry() string {
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Headers("Model", "Description")
	for _, name := range networks.Names() {
		description, _ := networks.Describe(name)
		table.Row(name, description)
	}
	return table.Render()
}

// Totals returns the number of variables, the number of scalar parameters and the memory used by
// the variables in the scope of ctx.
func Totals(ctx *context.Context) (numVars, numParams int, memory uintptr) {
	for v := range ctx.IterVariablesInScope() {
		numVars++
		numParams += v.Shape().Size()
		memory += v.Shape().Memory()
	}
	return
}

// Variables renders the table of the variables in the scope of ctx, sorted by scope and name.
func Variables(ctx *context.Context) string {
	table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Right, lipgloss.Center)
	table.Headers("Scope", "Name", "Shape", "Size", "Bytes", "Trainable")
	var rows [][]string
	for v := range ctx.IterVariablesInScope() {
		shape := v.Shape()
		rows = append(rows, []string{
			v.Scope(), v.Name(), shape.String(),
			humanize.Comma(int64(shape.Size())),
			humanize.Bytes(uint64(shape.Memory())),
			strconv.FormatBool(v.Trainable),
		})
	}
	slices.SortFunc(rows, func(a, b []string) int {
		if cmp := strings.Compare(a[0], b[0]); cmp != 0 {
			return cmp
		}
		return strings.Compare(a[1], b[1])
	})
	for _, row := range rows {
		table.Row(row...)
	}
	return table.Render()
}

// Model renders the description of the model, the variables in its scope and their totals.
// The model variables must have been created, see BuildModel.
func Model(ctx *context.Context, model models.Model) string {
	var sb strings.Builder
	title := model.Name()
	if stringer, ok := model.(fmt.Stringer); ok {
		title = stringer.String()
	}
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString("\n")

	info := newPlainTable(lipgloss.Right, lipgloss.Left)
	info.Row("channels", strconv.Itoa(model.NumChannels()))
	info.Row("features", fmt.Sprint(model.NumFeatures()))
	if latent, ok := model.(interface{ LatentDim() int }); ok {
		info.Row("latent dimensions", strconv.Itoa(latent.LatentDim()))
	}
	modelCtx := ctx.In(model.Scope())
	numVars, numParams, memory := Totals(modelCtx)
	info.Row("# variables", humanize.Comma(int64(numVars)))
	info.Row("# parameters", humanize.Comma(int64(numParams)))
	info.Row("# bytes", humanize.Bytes(uint64(memory)))
	sb.WriteString(info.Render())
	sb.WriteString("\n")
	if numVars > 0 {
		sb.WriteString(Variables(modelCtx))
		sb.WriteString("\n")
	}
	return sb.String()
}

// BuildModel creates the variables of model in ctx, by running its losses in inference mode on a
// batch of one zero sample. Variables that already exist, for instance loaded from a checkpoint,
// are reused.
func BuildModel(backend backends.Backend, ctx *context.Context, model models.Model) error {
	if numVars, _, _ := Totals(ctx.In(model.Scope())); numVars > 0 {
		ctx = ctx.Reuse()
	}
	numFeatures := model.NumFeatures()
	inputs := make([]any, len(numFeatures))
	for c, numFeats := range numFeatures {
		inputs[c] = tensors.FromShape(shapes.Make(dtypes.Float32, 1, numFeats))
	}
	return exceptions.TryCatch[error](func() {
		exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
			g := inputs[0].Graph()
			ctx.SetTraining(g, false)
			return []*graph.Node{model.Losses(ctx, inputs).Total}
		})
		outputs := exec.MustExec(inputs...)
		for _, output := range outputs {
			_ = output.FinalizeAll()
		}
	})
}

// ModelByName creates the model registered under name with the hyperparameters of ctx, builds its
// variables and renders its summary.
func ModelByName(backend backends.Backend, ctx *context.Context, name string) (string, error) {
	model, err := networks.New(name, ctx)
	if err != nil {
		return "", err
	}
	if err = BuildModel(backend, ctx, model); err != nil {
		return "", errors.WithMessagef(err, "building model %q", name)
	}
	return Model(ctx, model), nil
}
