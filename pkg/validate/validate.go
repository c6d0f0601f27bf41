// Package validate wraps go-playground/validator and turns its failures into
// intake validation errors.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	intake "github.com/phbpx/crm-intake"
)

// Validator checks structs and single values against validation tags.
type Validator struct {
	v *validator.Validate
}

// New creates a Validator that reports fields by their JSON names.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Struct validates s. The first failing field is returned as an
// *intake.ValidationError.
func (val *Validator) Struct(s any) error {
	return convert("", val.v.Struct(s))
}

// Var validates a single value named field against tag.
func (val *Validator) Var(field string, value any, tag string) error {
	return convert(field, val.v.Var(value, tag))
}

func convert(field string, err error) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	name := field
	if name == "" {
		name = jsonPath(fe.Namespace())
	}
	return &intake.ValidationError{Field: name, Message: message(fe)}
}

// jsonPath drops the root struct name from a namespace such as
// "Submission.attachment.data".
func jsonPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "email":
		return "must be a valid email address"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "numeric":
		return "must be numeric"
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}
