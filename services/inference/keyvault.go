// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inference

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MinMlockLimitKB is the minimum mlock limit required in kilobytes.
	// API keys are short, so 64 KB covers the enclave plus guard pages.
	MinMlockLimitKB = 64
)

// =============================================================================
// Package Variables
// =============================================================================

var (
	// memguardInitOnce ensures memguard initialization happens only once.
	memguardInitOnce sync.Once

	// mlockSufficient is set during initialization to indicate if secure memory is available.
	mlockSufficient bool

	// currentMlockLimitKB stores the current mlock limit for logging.
	currentMlockLimitKB int64
)

// ErrVaultDestroyed is returned when a vault is used after Destroy.
var ErrVaultDestroyed = errors.New("key vault has been destroyed")

// =============================================================================
// KeyVault
// =============================================================================

// KeyVault holds a provider API key in sealed, mlocked memory.
//
// # Description
//
// The key lives in a memguard enclave and is only decrypted for the duration
// of a Use callback. On systems without sufficient mlock limits the vault
// refuses to start unless EVOLVE_INSECURE_MEMORY=true, in which case it falls
// back to ordinary heap memory with a loud warning.
//
// # Thread Safety
//
// Safe for concurrent use.
//
// # Examples
//
//	vault, err := NewKeyVault(os.Getenv("OPENAI_API_KEY"))
//	if err != nil {
//	    return err
//	}
//	defer vault.Destroy()
//
//	err = vault.Use(func(secret string) error {
//	    req.Header.Set("Authorization", "Bearer "+secret)
//	    return nil
//	})
//
// # Limitations
//
//   - The secret is exposed as a plain string inside the callback; callers
//     must not retain it beyond the callback's scope.
type KeyVault struct {
	mu        sync.Mutex
	enclave   *memguard.Enclave
	insecure  []byte
	destroyed bool
}

// NewKeyVault seals a secret into locked memory.
//
// # Description
//
// Initializes memguard on first use, probes the mlock rlimit once, and seals
// the secret into an enclave. If the mlock limit is below MinMlockLimitKB and
// EVOLVE_INSECURE_MEMORY is not set, returns an error.
//
// # Inputs
//
//   - secret: The API key to protect (must be non-empty)
//
// # Outputs
//
//   - *KeyVault: Ready for Use calls
//   - error: Non-nil if the secret is empty or secure memory is unavailable
func NewKeyVault(secret string) (*KeyVault, error) {
	if secret == "" {
		return nil, errors.New("key vault requires a non-empty secret")
	}

	initMemguard()

	if !mlockSufficient {
		if os.Getenv("EVOLVE_INSECURE_MEMORY") != "true" {
			return nil, fmt.Errorf(
				"mlock limit insufficient: have %d KB, need %d KB. "+
					"Raise the limit or set EVOLVE_INSECURE_MEMORY=true",
				currentMlockLimitKB, MinMlockLimitKB,
			)
		}
		slog.Warn("SECURITY: storing API key in unlocked memory - it may be swapped to disk",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"env_override", "EVOLVE_INSECURE_MEMORY=true",
		)
		insecure := make([]byte, len(secret))
		copy(insecure, secret)
		return &KeyVault{insecure: insecure}, nil
	}

	return &KeyVault{enclave: memguard.NewEnclave([]byte(secret))}, nil
}

// Use decrypts the secret for the duration of fn.
//
// # Description
//
// Opens the enclave into a guarded buffer, invokes fn with the plaintext,
// and destroys the buffer before returning. Errors from fn are returned
// unchanged.
//
// # Inputs
//
//   - fn: Callback receiving the plaintext secret
//
// # Outputs
//
//   - error: ErrVaultDestroyed, an enclave open failure, or fn's error
func (v *KeyVault) Use(fn func(secret string) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.destroyed {
		return ErrVaultDestroyed
	}

	if v.enclave == nil {
		return fn(string(v.insecure))
	}

	buf, err := v.enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open key enclave: %w", err)
	}
	defer buf.Destroy()

	return fn(buf.String())
}

// Destroy wipes the secret and marks the vault unusable.
func (v *KeyVault) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.destroyed {
		return
	}
	for i := range v.insecure {
		v.insecure[i] = 0
	}
	v.insecure = nil
	v.enclave = nil
	v.destroyed = true
}

// =============================================================================
// Memory Security Initialization
// =============================================================================

// initMemguard performs one-time memguard initialization.
//
// # Description
//
// Registers the interrupt handler so secrets are wiped on SIGINT, and probes
// the mlock rlimit. Subsequent calls are no-ops.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		logMlockStatus()
	})
}

// checkMlockLimit checks if the system has sufficient mlock limits.
//
// # Description
//
// Queries the kernel for the current mlock resource limit and compares it
// against the minimum required to hold the key enclave.
//
// # Outputs
//
//   - bool: True if limit is sufficient (>= MinMlockLimitKB)
//   - int64: Current limit in kilobytes (-1 if unlimited)
//
// # Limitations
//
//   - Only works on Unix-like systems (Linux, macOS, BSD)
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// logMlockStatus logs the current mlock status.
func logMlockStatus() {
	if mlockSufficient {
		slog.Info("Secure memory initialized",
			"mlock_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"status", "sufficient",
		)
		return
	}
	slog.Error("mlock limit insufficient for secure key storage",
		"current_limit_kb", currentMlockLimitKB,
		"required_kb", MinMlockLimitKB,
		"help", "Raise RLIMIT_MEMLOCK or set EVOLVE_INSECURE_MEMORY=true",
	)
}

// IsMlockAvailable reports whether secure memory passed the rlimit probe.
func IsMlockAvailable() bool {
	initMemguard()
	return mlockSufficient
}

// Purge wipes all memguard-managed memory. Call on process shutdown.
func Purge() {
	memguard.Purge()
	slog.Info("Secure memory purged")
}
