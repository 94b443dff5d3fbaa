// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

package summary

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// Params renders the table of the hyperparameters of ctx, sorted by scope and name.
func Params(ctx *context.Context) string {
	table := newPlainTable(lipgloss.Left)
	table.Headers("Scope", "Name", "Type", "Value")
	var rows [][]string
	ctx.EnumerateParams(func(scope, key string, value any) {
		rows = append(rows, []string{scope, key, fmt.Sprintf("%T", value), fmt.Sprintf("%v", value)})
	})
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

// Checkpoint loads the latest checkpoint in dir and renders its summary, its hyperparameters and
// the variables under scope. An empty scope lists all variables.
func Checkpoint(dir, scope string) (string, error) {
	ctx := context.New()
	if _, err := checkpoints.Load(ctx).Dir(dir).Immediate().Done(); err != nil {
		return "", errors.WithMessagef(err, "loading checkpoint from %q", dir)
	}
	scopedCtx := ctx
	if scope != "" {
		scopedCtx = ctx.InAbsPath(scope)
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Summary"))
	sb.WriteString("\n")
	info := newPlainTable(lipgloss.Right, lipgloss.Left)
	info.Row("checkpoint", dir)
	info.Row("scope", scopedCtx.Scope())
	globalStep := "-"
	if v := ctx.GetVariableByScopeAndName(context.RootScope, optimizers.GlobalStepVariableName); v != nil {
		value, err := v.Value()
		if err != nil {
			return "", err
		}
		globalStep = humanize.Comma(tensors.ToScalar[int64](value))
	}
	info.Row("global_step", globalStep)
	numVars, numParams, memory := Totals(scopedCtx)
	info.Row("# variables", humanize.Comma(int64(numVars)))
	info.Row("# parameters", humanize.Comma(int64(numParams)))
	info.Row("# bytes", humanize.Bytes(uint64(memory)))
	sb.WriteString(info.Render())
	sb.WriteString("\n")

	sb.WriteString(titleStyle.Render("Hyperparameters"))
	sb.WriteString("\n")
	sb.WriteString(Params(ctx))
	sb.WriteString("\n")

	if numVars > 0 {
		sb.WriteString(titleStyle.Render("Variables"))
		sb.WriteString("\n")
		sb.WriteString(Variables(scopedCtx))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
