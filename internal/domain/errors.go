package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid argument")
)

// ConfigError reports an unusable scraper configuration. A run that hits one
// fails immediately and is never retried.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ConfigErrors collects every problem found while validating one config.
type ConfigErrors []*ConfigError

func (es ConfigErrors) Error() string {
	parts := make([]string, 0, len(es))
	for _, e := range es {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// ParseError skips a single item: a required selector matched nothing or the
// price text could not be read.
type ParseError struct {
	URL      string
	Field    string
	Selector string
	Message  string
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("parse")
	if e.Field != "" {
		b.WriteString(" " + e.Field)
	}
	if e.Selector != "" {
		fmt.Fprintf(&b, " (%s)", e.Selector)
	}
	b.WriteString(": " + e.Message)
	if e.URL != "" {
		b.WriteString(" url=" + e.URL)
	}
	return b.String()
}
