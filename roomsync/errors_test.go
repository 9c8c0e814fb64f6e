package roomsync

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCategories(t *testing.T) {
	tests := []struct {
		code         ErrorCode
		connectivity bool
		validation   bool
		notFound     bool
	}{
		{ErrorConnection, true, false, false},
		{ErrorFetch, true, false, false},
		{ErrorClosed, true, false, false},
		{ErrorEmptyMessage, false, true, false},
		{ErrorMessageTooLong, false, true, false},
		{ErrorInvalidRoom, false, true, false},
		{ErrorAuthorNotFound, false, false, true},
		{ErrorUnknown, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			err := fmt.Errorf("outer: %w", NewError(tt.code, "x"))
			require.Equal(t, tt.code, CodeOf(err))
			require.Equal(t, tt.connectivity, IsConnectivityError(err))
			require.Equal(t, tt.validation, IsValidationError(err))
			require.Equal(t, tt.notFound, IsNotFound(err))
		})
	}
	require.False(t, IsConnectivityError(nil))
	require.Equal(t, ErrorUnknown, CodeOf(errors.New("plain")))
}

func TestSyncErrorIsComparesCodes(t *testing.T) {
	err := WrapError(ErrorSendInFlight, "busy", errors.New("cause"))
	require.ErrorIs(t, err, ErrSendInFlight)
	require.NotErrorIs(t, err, ErrEmptyMessage)
	require.Equal(t, "cause", errors.Unwrap(err).Error())
	require.Contains(t, err.Error(), "send_in_flight: busy")
}
