package ratelimit

import (
	"fmt"

	"github.com/verlyn13/dicee/internal/v1/auth"
)

// MockValidator is a stub token validator for testing
type MockValidator struct {
	ValidateTokenFunc func(tokenString string) (*auth.CustomClaims, error)
}

// ValidateToken returns ValidateTokenFunc's result, or an invalid-token error
// when ValidateTokenFunc is nil
func (m *MockValidator) ValidateToken(tokenString string) (*auth.CustomClaims, error) {
	if m.ValidateTokenFunc != nil {
		return m.ValidateTokenFunc(tokenString)
	}
	// Default: return error (invalid token)
	return nil, fmt.Errorf("invalid token")
}
