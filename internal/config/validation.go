// validation.go - Fail-fast configuration checks.
//
// All problems are collected before returning so a misconfigured
// deployment reports everything at once.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError is one configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validator accumulates configuration problems.
type Validator struct {
	errors []ValidationError
}

func NewValidator() *Validator {
	return &Validator{errors: make([]ValidationError, 0)}
}

func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// ErrorString formats all collected errors as a numbered list.
func (v *Validator) ErrorString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n", len(v.errors)))
	for i, err := range v.errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

func (v *Validator) Required(field, value string) {
	if value == "" {
		v.AddError(field, "required setting not set")
	}
}

func (v *Validator) Port(field string, port int) {
	if port < 1 || port > 65535 {
		v.AddError(field, "port must be between 1 and 65535")
	}
}

func (v *Validator) PositiveInt(field string, n int) {
	if n <= 0 {
		v.AddError(field, "must be a positive integer")
	}
}

func (v *Validator) PositiveDuration(field string, d time.Duration) {
	if d <= 0 {
		v.AddError(field, "must be a positive duration (e.g. 15m, 1h)")
	}
}

func (v *Validator) Enum(field, value string, allowed []string) {
	for _, opt := range allowed {
		if value == opt {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}

// Origin checks a CORS origin: scheme and host, nothing else.
func (v *Validator) Origin(field, value string) {
	u, err := url.Parse(value)
	if err != nil {
		v.AddError(field, fmt.Sprintf("invalid origin %q: %v", value, err))
		return
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.AddError(field, fmt.Sprintf("origin %q must be http(s)://host[:port]", value))
		return
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		v.AddError(field, fmt.Sprintf("origin %q must not contain a path", value))
	}
}

var storeSchemes = []string{"mongodb", "mongodb+srv", "postgres", "postgresql", "memory"}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	v := NewValidator()

	v.Required("STORE_URI", c.Store.URI)
	if c.Store.URI != "" {
		scheme, _, ok := strings.Cut(c.Store.URI, "://")
		if !ok {
			v.AddError("STORE_URI", "must be a URI such as mongodb://host:27017")
		} else {
			v.Enum("STORE_URI", strings.ToLower(scheme), storeSchemes)
		}
	}
	v.Required("STORE_COLLECTION", c.Store.Collection)
	v.PositiveDuration("STORE_TIMEOUT", c.Store.Timeout)

	v.Port("PORT", c.Server.Port)
	v.PositiveDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	v.Required("ADMIN_USERNAME", c.Admin.Username)
	v.Required("ADMIN_PASSWORD", c.Admin.Password)
	if strings.Contains(c.Admin.Username, ":") {
		v.AddError("ADMIN_USERNAME", "must not contain ':'")
	}

	if len(c.CORS.AllowedOrigins) == 0 {
		v.AddError("ALLOWED_ORIGINS", "at least one origin is required")
	}
	for _, o := range c.CORS.AllowedOrigins {
		v.Origin("ALLOWED_ORIGINS", o)
	}

	v.PositiveInt("API_RATE_LIMIT", c.RateLimit.APIRate)
	v.PositiveDuration("API_RATE_WINDOW", c.RateLimit.APIWindow)
	v.PositiveInt("SUBMIT_RATE_LIMIT", c.RateLimit.SubmitRate)
	v.PositiveDuration("SUBMIT_RATE_WINDOW", c.RateLimit.SubmitWindow)

	if c.Backup.Enabled() {
		v.Required("S3_ENDPOINT", c.Backup.Endpoint)
		v.Required("S3_ACCESS_KEY", c.Backup.AccessKey)
		v.Required("S3_SECRET_KEY", c.Backup.SecretKey)
		v.Required("S3_BUCKET", c.Backup.Bucket)
	}
	if c.Backup.Interval < 0 {
		v.AddError("BACKUP_INTERVAL", "must not be negative")
	}

	v.Enum("LOG_LEVEL", c.Log.Level, []string{"debug", "info", "warn", "error"})
	v.Enum("LOG_FORMAT", c.Log.Format, []string{"json", "console"})

	if v.HasErrors() {
		return fmt.Errorf("%s", v.ErrorString())
	}
	return nil
}
