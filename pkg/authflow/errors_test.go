package authflow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlowErrorCategories(t *testing.T) {
	tests := []struct {
		kind     Kind
		category Category
		public   string
	}{
		{KindMalformedState, CategoryClientInput, "invalid or expired login attempt"},
		{KindStateNotFound, CategoryClientInput, "invalid or expired login attempt"},
		{KindStateMismatch, CategoryClientInput, "invalid or expired login attempt"},
		{KindStateExpired, CategoryClientInput, "invalid or expired login attempt"},
		{KindTokenExchange, CategoryProvider, "login provider request failed"},
		{KindUserFetch, CategoryProvider, "login provider request failed"},
		{KindKeySetUnavailable, CategoryProvider, "login provider request failed"},
		{KindIdentityInvalid, CategoryVerification, "invalid identity"},
		{KindUserIDMismatch, CategoryVerification, "invalid identity"},
		{KindTokensNotFound, CategoryIntegrity, "internal error"},
		{KindInternal, CategoryIntegrity, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			flowError := flowErr(tt.kind, fmt.Errorf("underlying cause"))
			assert.Equal(t, tt.category, flowError.Category())
			assert.Equal(t, tt.public, flowError.Public())
			// The internal message keeps the specific kind for diagnostics.
			assert.Contains(t, flowError.Error(), tt.kind.String())
		})
	}
}

func TestVerificationKindsShareOnePublicMessage(t *testing.T) {
	nonce := flowErr(KindIdentityInvalid, fmt.Errorf("nonce mismatch"))
	crossCheck := flowErr(KindUserIDMismatch, nil)

	assert.Equal(t, nonce.Public(), crossCheck.Public())
}
