package api

import (
	"regexp"

	"featuregate/pkg/constraints"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var featureKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,127}$`)

// RegisterValidators installs the featurekey and accessstate binding tags.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	if err := v.RegisterValidation("featurekey", func(fl validator.FieldLevel) bool {
		return featureKeyPattern.MatchString(fl.Field().String())
	}); err != nil {
		return err
	}
	return v.RegisterValidation("accessstate", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case constraints.AccessIncluded, constraints.AccessOptional, constraints.AccessExcluded:
			return true
		}
		return false
	})
}
