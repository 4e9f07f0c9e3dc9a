//go:build !darwin && !linux

package storage

import (
	"errors"
	"fmt"
)

func journalFSType(path string) (string, error) {
	return "", fmt.Errorf("filesystem detection on this platform: %w", errors.ErrUnsupported)
}
