package params

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FieldError describes one field that failed a rule.
type FieldError struct {
	Field string
	Rule  string
	Value string
}

func (f FieldError) String() string {
	switch f.Rule {
	case "number":
		return fmt.Sprintf("%s: %q is not a number", f.Field, f.Value)
	case "finite":
		return fmt.Sprintf("%s: %s is not a finite number", f.Field, f.Value)
	case "datetime":
		return fmt.Sprintf("%s: %q is not a YYYY-MM-DD date", f.Field, f.Value)
	case "required":
		return fmt.Sprintf("%s is required", f.Field)
	default:
		return fmt.Sprintf("%s: %s must satisfy %s", f.Field, f.Value, f.Rule)
	}
}

// ValidationError is returned for parameters rejected before any request
// is made.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return "invalid parameters: " + strings.Join(parts, "; ")
}

// Has reports whether field failed any rule.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON names so errors line up with the form and payload keys.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		validate.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
			v := fl.Field().Float()
			return !math.IsNaN(v) && !math.IsInf(v, 0)
		})
	})
	return validate
}

// Validate checks ranges and the date format.
func (s Set) Validate() error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return fmt.Errorf("validating parameters: %w", err)
	}
	out := &ValidationError{}
	for _, fe := range ves {
		rule := fe.Tag()
		if fe.Param() != "" && rule != "datetime" {
			rule += "=" + fe.Param()
		}
		out.Fields = append(out.Fields, FieldError{
			Field: fe.Field(),
			Rule:  rule,
			Value: fmt.Sprint(fe.Value()),
		})
	}
	return out
}
