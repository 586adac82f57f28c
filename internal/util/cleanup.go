// Package util holds small helpers shared by the capture packages.
package util

import (
	"fmt"
	"io"
	"log/slog"
)

// WrapError prefixes err with "failed to <operation>". A nil err stays nil.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// SafeClose closes c, logging a failure instead of returning it. A nil c is
// ignored.
func SafeClose(c io.Closer, name string) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		slog.Warn("close failed", "resource", name, "error", err)
	}
}

// SafeCloseFunc returns a closure for use with defer.
func SafeCloseFunc(c io.Closer, name string) func() {
	return func() { SafeClose(c, name) }
}
