package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/Iron-Ham/poolboy/internal/errors"
	"github.com/Iron-Ham/poolboy/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "repo.url")
	Value   any    // The invalid value
	Message string // Human-readable error description
	Err     error  // Optional sentinel the failure maps to
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// Unwrap exposes the sentinel, if any, to errors.Is.
func (e ValidationError) Unwrap() error {
	return e.Err
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap lets errors.Is match any contained sentinel.
func (e ValidationErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i := range e {
		errs[i] = e[i]
	}
	return errs
}

// ValidReportFormats returns the list of valid report formats
func ValidReportFormats() []string {
	return []string{"text", "json", "yaml"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	errs = append(errs, c.validateRepo()...)
	errs = append(errs, c.validatePools()...)
	errs = append(errs, c.validateOracle()...)
	errs = append(errs, c.validateOutput()...)

	return errs
}

func (c *Config) validateRepo() []ValidationError {
	var errs []ValidationError

	if c.Repo.URL == "" {
		errs = append(errs, ValidationError{
			Field:   "repo.url",
			Value:   c.Repo.URL,
			Message: "is required",
			Err:     errors.ErrMissingRepository,
		})
		return errs
	}

	name := LocalRepoName(c.Repo.URL)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		errs = append(errs, ValidationError{
			Field:   "repo.url",
			Value:   c.Repo.URL,
			Message: fmt.Sprintf("cannot derive a local directory name (got %q)", name),
			Err:     errors.ErrInvalidLocalName,
		})
	}

	if c.Repo.WorkDir == "" {
		errs = append(errs, ValidationError{Field: "repo.work_dir", Value: c.Repo.WorkDir, Message: "is required"})
	}
	if c.Repo.Remote == "" {
		errs = append(errs, ValidationError{Field: "repo.remote", Value: c.Repo.Remote, Message: "is required"})
	}
	if c.Repo.Branch == "" {
		errs = append(errs, ValidationError{Field: "repo.branch", Value: c.Repo.Branch, Message: "is required"})
	}

	return errs
}

func (c *Config) validatePools() []ValidationError {
	var errs []ValidationError

	if len(c.Pools) == 0 {
		errs = append(errs, ValidationError{
			Field:   "pools",
			Value:   c.PoolSpec,
			Message: "at least one pool is required",
			Err:     errors.ErrInvalidPoolSpec,
		})
	}
	if c.DefaultTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "pools_default_timeout",
			Value:   c.DefaultTimeout,
			Message: "must be positive",
		})
	}

	return errs
}

func (c *Config) validateOracle() []ValidationError {
	var errs []ValidationError

	if c.Oracle.BaseURL != "" {
		u, err := url.Parse(c.Oracle.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "oracle.base_url",
				Value:   c.Oracle.BaseURL,
				Message: "must be an http(s) URL",
			})
		}
	}
	if c.Oracle.Timeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "oracle.timeout",
			Value:   c.Oracle.Timeout,
			Message: "must be positive",
		})
	}

	return errs
}

func (c *Config) validateOutput() []ValidationError {
	var errs []ValidationError

	if !containsFold(logging.ValidLevels(), c.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.ToLower(strings.Join(logging.ValidLevels(), ", "))),
		})
	}
	if !containsFold(logging.ValidFormats(), c.Logging.Format) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(logging.ValidFormats(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_size_mb", Value: c.Logging.MaxSizeMB, Message: "must be non-negative"})
	}
	if !slices.Contains(ValidReportFormats(), strings.ToLower(c.Report.Format)) {
		errs = append(errs, ValidationError{
			Field:   "report.format",
			Value:   c.Report.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidReportFormats(), ", ")),
		})
	}

	return errs
}

// containsFold reports whether list holds s, ignoring case.
func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(v string) bool { return strings.EqualFold(v, s) })
}
