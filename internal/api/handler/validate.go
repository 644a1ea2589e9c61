package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/halden/converse/internal/api/response"
)

var validate = validator.New()

// checkRequest validates a decoded request body and writes a field-keyed
// error response on failure. Returns true when the request is valid.
func checkRequest(w http.ResponseWriter, input any) bool {
	err := validate.Struct(input)
	if err == nil {
		return true
	}

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			field := e.Field()
			switch e.Tag() {
			case "required":
				errors[field] = "field is required"
			case "min":
				errors[field] = "must be at least " + e.Param() + " characters"
			case "max":
				errors[field] = "must be at most " + e.Param() + " characters"
			default:
				errors[field] = "validation failed on " + e.Tag()
			}
		}
		response.BadRequest(w, errors)
		return false
	}

	response.BadRequest(w, err.Error())
	return false
}
