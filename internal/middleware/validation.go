package middleware

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/novafeed/riptide/pkg/models"
)

// RegisterValidators hooks custom rules into gin's binding engine so struct
// tags like `binding:"interaction_type"` work everywhere requests are bound.
// Call once at startup, before the router takes traffic.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("interaction_type", validateInteractionType)
}

func validateInteractionType(fl validator.FieldLevel) bool {
	return models.ValidInteractionType(fl.Field().String())
}
