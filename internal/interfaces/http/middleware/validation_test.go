package middleware

import (
	"errors"
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationMessage_UsesJSONFieldNames(t *testing.T) {
	SetupValidator()
	v, ok := binding.Validator.Engine().(*validator.Validate)
	require.True(t, ok)

	type checkoutRequest struct {
		PlanID string `json:"plan_id" binding:"required"`
		Email  string `json:"email" binding:"required,email"`
	}

	err := v.Struct(checkoutRequest{Email: "not-an-email"})
	require.Error(t, err)

	msg := ValidationMessage(err)
	assert.Contains(t, msg, "plan_id: this field is required")
	assert.Contains(t, msg, "email: invalid email format")
}

func TestValidationMessage_PassesThroughOtherErrors(t *testing.T) {
	err := errors.New("unexpected EOF")
	assert.Equal(t, "unexpected EOF", ValidationMessage(err))
}
