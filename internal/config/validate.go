package config

import (
	"fmt"
	"math"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func (c *ProjectConfig) Validate() error {
	var errs ValidationErrors

	if math.IsNaN(c.CoverageTarget) || c.CoverageTarget < 0 || c.CoverageTarget > 100 {
		errs = append(errs, ValidationError{
			Field:   "coverage_target",
			Message: fmt.Sprintf("%.2f is outside [0, 100]", c.CoverageTarget),
		})
	}

	for i, s := range c.Stages {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("stages[%d]", i),
				Message: "must not be empty",
			})
		}
	}

	if c.Coordinator.MaxConcurrentStages < 0 {
		errs = append(errs, ValidationError{
			Field:   "coordinator.max_concurrent_stages",
			Message: "must not be negative",
		})
	}
	if c.Coordinator.RetainFinished < 0 {
		errs = append(errs, ValidationError{
			Field:   "coordinator.retain_finished",
			Message: "must not be negative",
		})
	}

	// Agents must be absolute http(s) URLs.
	for i, a := range c.Agents {
		u, err := url.Parse(a)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("agents[%d]", i),
				Message: fmt.Sprintf("%q is not an http(s) URL", a),
			})
		}
	}

	if p := c.Serve.MetricsPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, ValidationError{
			Field:   "serve.metrics_path",
			Message: "must start with /",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
