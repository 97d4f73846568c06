package feed

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their wire names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateBatch checks the records of a batch before it is handed upstream.
// Every problem is reported, joined into one error.
func ValidateBatch[T any](b Batch[T]) error {
	var errs []error
	errs = append(errs, validateRecords("inserted", b.Inserted)...)
	errs = append(errs, validateRecords("updated", b.Updated)...)
	for i, id := range b.Deleted {
		if id == uuid.Nil {
			errs = append(errs, fmt.Errorf("deleted[%d]: nil id", i))
		}
	}
	return errors.Join(errs...)
}

func validateRecords[T any](section string, records []T) []error {
	var errs []error
	for i := range records {
		err := validate.Struct(records[i])
		if err == nil {
			continue
		}

		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			errs = append(errs, fmt.Errorf("%s[%d]: %w", section, i, err))
			continue
		}
		for _, fe := range fieldErrs {
			errs = append(errs, fmt.Errorf("%s[%d].%s: %s", section, i, fieldPath(fe), errorMsg(fe)))
		}
	}
	return errs
}

// fieldPath drops the struct name from the namespace, e.g. "available.indicator".
func fieldPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return path
}

func errorMsg(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return "is required when " + strings.ToLower(fe.Param()) + " is missing"
	case "len":
		return "must be " + fe.Param() + " characters long"
	case "uppercase":
		return "must be upper case"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}
