package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// IntegrityResult is the outcome of VerifyIntegrity.
type IntegrityResult struct {
	Passed   bool
	Warnings []string
	Errors   []string
}

// VerifyIntegrity reports on the config file at path against its manifest.
// A missing manifest is a warning when the config carries no API secrets
// and an error when it does.
func VerifyIntegrity(path string, cfg *Config) (*IntegrityResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}
	dir := filepath.Dir(absPath)
	name := filepath.Base(absPath)
	checksumPath := filepath.Join(dir, ChecksumFile)
	result := &IntegrityResult{Passed: true}

	manifest, err := LoadChecksums(dir)
	if errors.Is(err, ErrNoChecksums) {
		msg := fmt.Sprintf("no %s manifest found at %s; run 'relay config lock' to enable integrity verification", ChecksumFile, checksumPath)
		if cfg != nil && holdsSecrets(cfg) {
			result.Passed = false
			result.Errors = append(result.Errors, msg)
		} else {
			result.Warnings = append(result.Warnings, msg)
		}
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	expected, ok := manifest.Hashes[name]
	if !ok {
		result.Passed = false
		result.Errors = append(result.Errors, fmt.Sprintf("file %s not in %s manifest", name, ChecksumFile))
		return result, nil
	}

	actual, err := ComputeBlake3Hash(absPath)
	if err != nil {
		result.Passed = false
		result.Errors = append(result.Errors, fmt.Sprintf("failed to hash %s: %v", absPath, err))
		return result, nil
	}
	if actual != expected {
		result.Passed = false
		result.Errors = append(result.Errors, fmt.Sprintf("hash mismatch for %s (expected %s, got %s)", absPath, expected, actual))
	}
	for extra := range manifest.Hashes {
		if extra != name {
			result.Warnings = append(result.Warnings, fmt.Sprintf("manifest lists %s, which relay does not load", extra))
		}
	}
	return result, nil
}

func holdsSecrets(cfg *Config) bool {
	return cfg.API.Enabled && (cfg.API.Auth.APIKey != "" || len(cfg.API.Auth.Tokens) > 0)
}
