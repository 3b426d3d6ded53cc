package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{Unauthorized("who"), http.StatusUnauthorized},
		{Forbidden("no"), http.StatusForbidden},
		{NotFound("gone"), http.StatusNotFound},
		{Conflict("dup"), http.StatusConflict},
		{Upstream("gateway", errors.New("timeout")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("create order: %w", Validation("Order validation failed", "Invalid payment method"))

	appErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindValidation, appErr.Kind)
	assert.Equal(t, []string{"Invalid payment method"}, appErr.Details)
	assert.True(t, Is(err, KindValidation))
	assert.False(t, Is(nil, KindValidation))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Upstream("Payment gateway unavailable", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestFromValidator(t *testing.T) {
	type input struct {
		Email    string `json:"email" validate:"required,email"`
		Quantity int    `json:"quantity" validate:"min=1"`
	}
	err := NewValidator().Struct(input{Quantity: 0})
	appErr := FromValidator("Invalid input", err)

	assert.Equal(t, KindValidation, appErr.Kind)
	assert.Equal(t, "Invalid input", appErr.Message)
	assert.Equal(t, []string{"email is required", "quantity must be at least 1"}, appErr.Details)
}
