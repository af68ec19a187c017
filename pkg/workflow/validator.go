package workflow

import (
	"errors"
	"fmt"

	"github.com/go-openapi/spec"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/validate"
	"github.com/hashicorp/go-multierror"
)

var ErrInvalidWorkflow = errors.New("workflow is not valid")

// ValidateConfig checks a decoded document against the OpenAPI schema.
// All schema violations are returned at once as a *multierror.Error.
func ValidateConfig(obj interface{}, s *spec.Schema, rootName string) error {
	if s == nil {
		return fmt.Errorf("validate %s: schema is not provided", rootName)
	}

	result := validate.NewSchemaValidator(s, nil, rootName, strfmt.Default).Validate(obj)
	if result.IsValid() {
		return nil
	}

	errs := &multierror.Error{Errors: result.Errors}
	if len(errs.Errors) == 0 {
		// Invalid result without details.
		errs.Errors = append(errs.Errors, ErrInvalidWorkflow)
	}
	return errs
}
