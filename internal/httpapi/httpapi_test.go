package httpapi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/memgraph/pkg/apperror"
)

func TestDefaultString(t *testing.T) {
	assert.Equal(t, "explicit", defaultString("explicit", "fallback"))
	assert.Equal(t, "fallback", defaultString("", "fallback"))
}

func TestAsEchoError_WrapsPlainError(t *testing.T) {
	require.Error(t, asEchoError(errors.New("boom")))
}

func TestAsEchoError_PreservesAppErrorKind(t *testing.T) {
	require.Error(t, asEchoError(apperror.ErrValidation.WithMessage("bad input")))
}
