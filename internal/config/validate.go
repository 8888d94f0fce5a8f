package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their config key rather than the Go name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := parseDuration(fl.Field().String())
		return err == nil && d >= 0
	})
	return v
}

// FieldError is one rejected config key.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors holds every rejected key of one config.
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		messages[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(messages, "; "))
}

func (v *ValidationErrors) add(field, msg string) {
	v.Errors = append(v.Errors, FieldError{Field: field, Message: msg})
}

// Validate checks cfg's fields and the rules that span fields.
// The error is a *ValidationErrors listing every problem found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("invalid config: nil")
	}
	errs := &ValidationErrors{}

	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, e := range fieldErrs {
			field := fieldPath(e.Namespace())
			errs.add(field, formatValidationMessage(field, e))
		}
	}

	if strings.ContainsAny(cfg.Commands.Prefix, " \t") {
		errs.add("commands.prefix", "commands.prefix must not contain whitespace")
	}
	if s := cfg.Storage; s != nil {
		driver := strings.ToLower(strings.TrimSpace(s.Driver))
		if driver != "" && driver != "none" && strings.TrimSpace(s.Path) == "" {
			errs.add("storage.path", "storage.path is required for driver "+driver)
		}
	}
	if o := cfg.Observability; o.Enabled && !o.AllowInsecure && strings.TrimSpace(o.Token) == "" {
		if !isLoopback(o.Addr) {
			errs.add("observability.addr", "non-loopback observability.addr requires a token or allow_insecure")
		}
	}
	minB, _ := parseDuration(cfg.Reconnect.MinBackoff)
	maxB, _ := parseDuration(cfg.Reconnect.MaxBackoff)
	if minB > 0 && maxB > 0 && maxB < minB {
		errs.add("reconnect.max_backoff", "reconnect.max_backoff must be >= reconnect.min_backoff")
	}
	seen := map[string]bool{}
	for i, a := range cfg.Announcements.Items {
		name := strings.ToLower(strings.TrimSpace(a.Name))
		if name != "" && seen[name] {
			errs.add(fmt.Sprintf("announcements.items[%d].name", i), "duplicate announcement name "+a.Name)
		}
		seen[name] = true
	}

	if len(errs.Errors) > 0 {
		return errs
	}
	return nil
}

// fieldPath turns "Config.irc.nick" into "irc.nick".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func formatValidationMessage(field string, e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if", "required_unless":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "duration":
		return fmt.Sprintf("%s must be a non-negative duration like \"1.5s\" or seconds", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", field)
	case "timezone":
		return fmt.Sprintf("%s must be an IANA time zone", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}

func isLoopback(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return true
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
