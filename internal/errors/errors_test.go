package errors_test

import (
	"errors"
	"testing"

	apperrors "github.com/jrsteele09/go-account-manager/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestStoragef(t *testing.T) {
	cause := errors.New("disk full")

	err := apperrors.Storagef(cause, "[store %s] save", "file")
	require.EqualError(t, err, "credential store failure: [store file] save: disk full")
	require.True(t, apperrors.Is(err, apperrors.ErrStorageFailure))
	require.ErrorIs(t, err, cause)

	require.NoError(t, apperrors.Storagef(nil, "[store] save"))
}

func TestStoragef_KeepsSentinelCause(t *testing.T) {
	err := apperrors.Storagef(apperrors.ErrNotFound, "[store] current %q", "a:1")
	require.ErrorIs(t, err, apperrors.ErrStorageFailure)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}
