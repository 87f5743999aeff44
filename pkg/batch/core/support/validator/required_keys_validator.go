// Package validator provides JobParametersValidator implementations.
package validator

import (
	"fmt"
	"strings"

	port "github.com/tigerroll/csvimport/pkg/batch/core/application/port"
	model "github.com/tigerroll/csvimport/pkg/batch/core/domain/model"
)

// RequiredKeysValidator rejects parameters that miss any of the required keys.
type RequiredKeysValidator struct {
	requiredKeys []string
}

var _ port.JobParametersValidator = (*RequiredKeysValidator)(nil)

// NewRequiredKeysValidator creates a validator for keys.
func NewRequiredKeysValidator(keys ...string) *RequiredKeysValidator {
	return &RequiredKeysValidator{requiredKeys: keys}
}

// Validate implements port.JobParametersValidator.
func (v *RequiredKeysValidator) Validate(params model.JobParameters) error {
	var missing []string
	for _, key := range v.requiredKeys {
		if !params.Contains(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required job parameters: %s", strings.Join(missing, ", "))
	}
	return nil
}
