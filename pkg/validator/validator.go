package validator

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sort"

	"github.com/neurodesk/tengine/pkg/jinja2"
)

// All joins every non-nil error.
func All(errs ...error) error {
	return errors.Join(errs...)
}

type Validatable interface {
	Validate() error
}

func Each[T Validatable](items []T, description string) error {
	var errs []error
	for i, item := range items {
		if err := item.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s[%d]: %w", description, i, err))
		}
	}
	return errors.Join(errs...)
}

// MapDict applies f to every entry in key order.
func MapDict[T any](items map[string]T, f func(string, T) error) error {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var errs []error
	for _, k := range keys {
		if err := f(k, items[k]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func NotEmpty(field, description string) error {
	if field == "" {
		return fmt.Errorf("%s must not be empty", description)
	}
	return nil
}

func Positive(n int, description string) error {
	if n <= 0 {
		return fmt.Errorf("%s must be positive, got %d", description, n)
	}
	return nil
}

func NoDuplicates[T comparable](slice []T, description string) error {
	seen := make(map[T]struct{})
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			return fmt.Errorf("%s contains duplicate value: %v", description, v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

func MatchesAllowed[T comparable](field T, allowed []T, description string) error {
	if !slices.Contains(allowed, field) {
		return fmt.Errorf("%s must be one of %v, got %v", description, allowed, field)
	}
	return nil
}

// Template checks that field compiles as a template.
func Template(field, description string) error {
	if err := jinja2.TemplateString(field).Validate(); err != nil {
		return fmt.Errorf("%s: %w", description, err)
	}
	return nil
}

// Identifier checks that name can be referenced from a template expression.
func Identifier(name, description string) error {
	e, err := jinja2.ParseExpression(jinja2.NewSourceFile(description, name), name, 0)
	if err != nil {
		return fmt.Errorf("%s %q is not a valid name", description, name)
	}
	if v, ok := e.(*jinja2.VariableExpr); !ok || v.Name != name {
		return fmt.Errorf("%s %q is not a valid name", description, name)
	}
	return nil
}

// HTTPURL checks for an absolute http or https URL.
func HTTPURL(field, description string) error {
	u, err := url.Parse(field)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", description, field)
	}
	return nil
}
