package utils

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs the `binding`/`validate` tags on an input struct.
// Handlers call this after JSON decoding so shape errors (missing ids,
// non-positive quantities) are rejected before any business logic runs.
func ValidateStruct(obj interface{}) error {
	return validate.Struct(obj)
}

func init() {
	validate.SetTagName("binding")
}
