package util

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second)
	got := []time.Duration{b.Next(), b.Next(), b.Next(), b.Next(), b.Next()}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second,
	}, got)
}

func TestBoundedBufferKeepsNewest(t *testing.T) {
	b := NewBoundedBuffer(8)
	_, _ = b.Write([]byte("hello "))
	_, _ = b.Write([]byte("world"))
	assert.Equal(t, "lo world", b.String())

	n, err := b.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "23456789", b.String())
}

func TestBoundedBufferLastError(t *testing.T) {
	b := NewStderrBuffer()
	assert.Equal(t, "exit status 1", b.LastError("exit status 1"))

	_, _ = b.Write([]byte("Input #0, s16le\narecord: main:830: audio open error: Device or resource busy\n\n"))
	assert.Equal(t, "arecord: main:830: audio open error: Device or resource busy", b.LastError("exit status 1"))
}

func TestSeekBufferPatchesInPlace(t *testing.T) {
	var b SeekBuffer
	_, _ = b.Write([]byte("RIFF----WAVE"))

	pos, err := b.Seek(4, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos)
	_, _ = b.Write([]byte{1, 2, 3, 4})

	_, err = b.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	_, _ = b.Write([]byte("data"))

	assert.Equal(t, []byte("RIFF\x01\x02\x03\x04WAVEdata"), b.Bytes())
	assert.Equal(t, 16, b.Len())

	_, err = b.Seek(-1, io.SeekStart)
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	assert.Nil(t, ValidatePort("port", 8080))
	err := ValidatePort("port", 0)
	require.NotNil(t, err)
	assert.Equal(t, "port", err.Field)
	assert.Equal(t, "port must be between 1 and 65535, got 0", err.Error())

	assert.Nil(t, ValidateMaxLength("song", "abc", 3))
	assert.NotNil(t, ValidateMaxLength("song", "abcd", 3))

	assert.True(t, IsConfigured("a", "b"))
	assert.False(t, IsConfigured("a", ""))
}

func TestWrapError(t *testing.T) {
	base := errors.New("boom")
	err := WrapError("open device", base)
	assert.EqualError(t, err, "failed to open device: boom")
	assert.ErrorIs(t, err, base)
}

func TestFormatHumanTime(t *testing.T) {
	assert.Equal(t, "unknown", FormatHumanTime("unknown"))
	assert.NotEqual(t, "2026-01-02T03:04:05Z", FormatHumanTime("2026-01-02T03:04:05Z"))
}
