// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

package fit

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// snapshot holds copies of the values of the variables of a scope, indexed by their scope and name.
type snapshot struct {
	values map[string]*tensors.Tensor
}

func takeSnapshot(ctx *context.Context) (*snapshot, error) {
	s := &snapshot{values: make(map[string]*tensors.Tensor)}
	for v := range ctx.IterVariablesInScope() {
		value, err := v.Value()
		if err != nil {
			s.finalize()
			return nil, errors.WithMessagef(err, "reading variable %q", v.ScopeAndName())
		}
		clone, err := value.Clone()
		if err != nil {
			s.finalize()
			return nil, errors.WithMessagef(err, "copying variable %q", v.ScopeAndName())
		}
		s.values[v.ScopeAndName()] = clone
	}
	return s, nil
}

// restore sets the variables of the scope of ctx to copies of the snapshot values.
// Variables created after the snapshot was taken are left untouched.
func (s *snapshot) restore(ctx *context.Context) error {
	for v := range ctx.IterVariablesInScope() {
		value, found := s.values[v.ScopeAndName()]
		if !found {
			continue
		}
		clone, err := value.Clone()
		if err != nil {
			return errors.WithMessagef(err, "copying variable %q", v.ScopeAndName())
		}
		if err = v.SetValue(clone); err != nil {
			return errors.WithMessagef(err, "restoring variable %q", v.ScopeAndName())
		}
	}
	return nil
}

// finalize frees the snapshot values. It is a no-op on a nil snapshot.
func (s *snapshot) finalize() {
	if s == nil {
		return
	}
	for _, value := range s.values {
		_ = value.FinalizeAll()
	}
	s.values = nil
}
