package recording

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-singcapture/internal/audio"
)

func TestAccumulatorDrainPreservesOrder(t *testing.T) {
	acc := NewAccumulator()
	acc.Append([]byte("one"))
	acc.Append(nil)
	acc.Append([]byte("two"))
	acc.Append([]byte("three"))

	assert.Equal(t, 3, acc.Len())
	assert.Equal(t, 11, acc.Size())

	segments, err := acc.Drain()
	require.NoError(t, err)
	assert.Equal(t, []byte("onetwothree"), Assemble(segments))
	assert.Zero(t, acc.Len())
	assert.Zero(t, acc.Size())

	_, err = acc.Drain()
	assert.ErrorIs(t, err, ErrNoAudioCaptured)
}

func TestAccumulatorReset(t *testing.T) {
	acc := NewAccumulator()
	acc.Append([]byte{1})
	acc.Reset()

	_, err := acc.Drain()
	assert.ErrorIs(t, err, ErrNoAudioCaptured)
}

func TestAssembleEmpty(t *testing.T) {
	assert.Empty(t, Assemble(nil))
}

func TestUserMessageAndKind(t *testing.T) {
	tests := []struct {
		err      error
		kind     string
		contains string
	}{
		{fmt.Errorf("%w: refused", audio.ErrPermissionDenied), "permission_denied", "allow microphone access"},
		{fmt.Errorf("%w: no card", audio.ErrDeviceUnavailable), "device_unavailable", "no card"},
		{ErrNoAudioCaptured, "no_audio_captured", "didn't catch any audio"},
		{ErrStopTimeout, "stop_timeout", "did not finish"},
		{ErrCancelled, "cancelled", "cancelled"},
		{fmt.Errorf("%w: boom", ErrRecorderFault), "recorder_fault", "issue with the recording"},
		{errors.New("anything else"), "recorder_fault", "issue with the recording"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.Equal(t, tt.kind, Kind(tt.err))
			assert.Contains(t, UserMessage(tt.err), tt.contains)
		})
	}

	assert.Empty(t, UserMessage(nil))
	assert.Equal(t, "none", Kind(nil))
}
