// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

// Package config loads hyperparameter files into a context.
//
// Files can be TOML (".toml"), YAML (".yaml", ".yml") or JSON (".json"). Top-level keys are
// parameters of the root scope, and tables (maps) set parameters of the sub-scope with their name:
//
//	latent_dim = 5
//	learning_rate = 0.002
//
//	[smcvae]
//	beta = 2.0
//
// Only parameters already known in the root context can be set, and the values are converted to the
// type of the current value. ParseSettings does the same for settings given in the command line.
package config

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Load reads the parameters of a file, with the format given by its extension.
func Load(path string) (map[string]any, error) {
	if path == "" {
		return nil, errors.New("empty config path")
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %q", path)
	}
	params := make(map[string]any)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(contents, &params)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(contents, &params)
	case ".json":
		err = json.Unmarshal(contents, &params)
	default:
		return nil, errors.Errorf("unsupported config extension %q for %q", ext, path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parsing config %q", path)
	}
	return params, nil
}

// Apply sets params in ctx, see package documentation. It returns the paths of the parameters set,
// sorted, in the "scope/name" format.
func Apply(ctx *context.Context, params map[string]any) (paramsSet []string, err error) {
	paramsSet, err = apply(ctx, "", params, nil)
	slices.Sort(paramsSet)
	return
}

// LoadInto loads the file in path and applies its parameters to ctx.
func LoadInto(ctx *context.Context, path string) (paramsSet []string, err error) {
	params, err := Load(path)
	if err != nil {
		return nil, err
	}
	paramsSet, err = Apply(ctx, params)
	if err != nil {
		return nil, errors.WithMessagef(err, "config %q", path)
	}
	return paramsSet, nil
}

func apply(ctx *context.Context, scope string, params map[string]any, paramsSet []string) ([]string, error) {
	for key, value := range params {
		path := key
		if scope != "" {
			path = scope + context.ScopeSeparator + key
		}
		if subParams, ok := value.(map[string]any); ok {
			var err error
			paramsSet, err = apply(ctx, path, subParams, paramsSet)
			if err != nil {
				return paramsSet, err
			}
			continue
		}
		if err := setParam(ctx, scope, key, value); err != nil {
			return paramsSet, err
		}
		paramsSet = append(paramsSet, path)
	}
	return paramsSet, nil
}

// setParam sets the parameter key in scope, converting value to the type of the parameter in the
// root context.
func setParam(ctx *context.Context, scope, key string, value any) error {
	path := key
	if scope != "" {
		path = scope + context.ScopeSeparator + key
	}
	current, found := ctx.GetParam(key)
	if !found {
		return errors.Errorf("can't set parameter %q because the param %q is not known in the root context", path, key)
	}
	converted, err := convertTo(current, value)
	if err != nil {
		return errors.WithMessagef(err, "parameter %q", path)
	}
	scopeCtx := ctx
	if scope != "" {
		scopeCtx = ctx.InAbsPath(context.ScopeSeparator + scope)
	}
	scopeCtx.SetParam(key, converted)
	return nil
}

// ParseSettings sets parameters from a list of settings separated by ";", each in the format
// "[scope/]name=value". Values are parsed as YAML, so lists can be given as "[8, 4]".
//
// As with files, only parameters known in the root context can be set. It returns the paths of the
// parameters set, in the order given.
func ParseSettings(ctx *context.Context, settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		setting = strings.TrimSpace(setting)
		if setting == "" {
			continue
		}
		path, valueStr, found := strings.Cut(setting, "=")
		if !found {
			return paramsSet, errors.Errorf("can't parse setting %q: the format is \"<param>=<value>\"", setting)
		}
		path = strings.Trim(strings.TrimSpace(path), context.ScopeSeparator)
		var scope, key string
		if idx := strings.LastIndex(path, context.ScopeSeparator); idx >= 0 {
			scope, key = path[:idx], path[idx+1:]
		} else {
			key = path
		}
		var value any
		if err = yaml.Unmarshal([]byte(valueStr), &value); err != nil {
			return paramsSet, errors.Wrapf(err, "parsing value of setting %q", setting)
		}
		if err = setParam(ctx, scope, key, value); err != nil {
			return paramsSet, err
		}
		paramsSet = append(paramsSet, path)
	}
	return paramsSet, nil
}

// convertTo converts value to the type of current.
func convertTo(current, value any) (any, error) {
	switch current.(type) {
	case int:
		return toInt(value)
	case float64:
		return toFloat(value)
	case bool:
		v, ok := value.(bool)
		if !ok {
			return nil, errors.Errorf("expected a bool, got %T", value)
		}
		return v, nil
	case string:
		v, ok := value.(string)
		if !ok {
			return nil, errors.Errorf("expected a string, got %T", value)
		}
		return v, nil
	case []int:
		return convertList(value, toInt)
	case []float64:
		return convertList(value, toFloat)
	case []string:
		return convertList(value, func(v any) (string, error) {
			s, ok := v.(string)
			if !ok {
				return "", errors.Errorf("expected a string, got %T", v)
			}
			return s, nil
		})
	default:
		return nil, errors.Errorf("parameters of type %T can't be set from a config file", current)
	}
}

func convertList[T any](value any, convert func(any) (T, error)) ([]T, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, errors.Errorf("expected a list, got %T", value)
	}
	result := make([]T, len(list))
	for ii, v := range list {
		var err error
		result[ii], err = convert(v)
		if err != nil {
			return nil, errors.WithMessagef(err, "element #%d", ii)
		}
	}
	return result, nil
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, errors.Errorf("expected an integer, got %g", v)
		}
		return int(v), nil
	default:
		return 0, errors.Errorf("expected an integer, got %T", value)
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, errors.Errorf("expected a number, got %T", value)
	}
}
