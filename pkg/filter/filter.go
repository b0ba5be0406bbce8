// Package filter builds record predicates for the export pipeline.
//
// Predicates are either compiled from expr-lang expressions evaluated against
// a record's fields, or assembled from the small set of helpers below.
//
//	pred, err := filter.Compile(`status in ["new", "open"] && priority == "urgent"`)
package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/zdtools/zdexport/pkg/pagination"
)

var (
	// ErrEmptyExpression is returned by Compile for a blank expression.
	ErrEmptyExpression = errors.New("expression cannot be empty")

	// ErrInvalidExpression wraps compile failures, including non-bool results.
	ErrInvalidExpression = errors.New("invalid filter expression")
)

// Compile turns an expression into a predicate. Record fields are top-level
// variables; unknown fields evaluate to nil. A record whose evaluation fails
// is rejected and logged, never fatal.
func Compile(expression string) (pagination.Predicate, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, ErrEmptyExpression
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	return func(record pagination.Record) bool {
		ok, err := evaluate(program, record)
		if err != nil {
			log.Warn().
				Str("component", "filter").
				Str("expression", expression).
				Any("id", record["id"]).
				Err(err).
				Msg("Filter evaluation failed, record rejected")
			return false
		}
		return ok
	}, nil
}

func evaluate(program *vm.Program, record pagination.Record) (bool, error) {
	env, _ := normalize(record).(map[string]any)
	if env == nil {
		env = map[string]any{}
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("expression returned %T, not bool", out)
	}
	return ok, nil
}

// normalize returns a copy of v with json.Number replaced by int64 or
// float64 so that arithmetic and comparisons work inside expressions.
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

// StatusIn keeps records whose "status" is one of statuses.
func StatusIn(statuses ...string) pagination.Predicate {
	set := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		set[strings.ToLower(s)] = struct{}{}
	}
	return func(record pagination.Record) bool {
		status, _ := record["status"].(string)
		_, ok := set[strings.ToLower(status)]
		return ok
	}
}

// MissingField keeps records where path is absent or holds an empty value:
// null, "", false, [] or {}.
func MissingField(path string) pagination.Predicate {
	return func(record pagination.Record) bool {
		v, ok := Lookup(record, path)
		if !ok {
			return true
		}
		switch t := v.(type) {
		case nil:
			return true
		case string:
			return strings.TrimSpace(t) == ""
		case bool:
			return !t
		case []any:
			return len(t) == 0
		case map[string]any:
			return len(t) == 0
		default:
			return false
		}
	}
}

// All keeps records accepted by every predicate. Nil predicates are skipped.
func All(preds ...pagination.Predicate) pagination.Predicate {
	active := make([]pagination.Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return nil
	}
	if len(active) == 1 {
		return active[0]
	}
	return func(record pagination.Record) bool {
		for _, p := range active {
			if !p(record) {
				return false
			}
		}
		return true
	}
}
