package core

import (
	"fmt"
	"os"
)

// AtomicWriteFile implements the write protocol named in §6: write a
// `.tmp` file, copy the existing file (if any) to `.bak`, rename tmp
// to final; if the rename fails (e.g. a concurrent handle on
// Windows-like filesystems), fall back to copy-then-unlink.
//
// Used by both chunk-store world metadata and client session
// persistence, so both components share one crash-safe write path.
func AtomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	bak := path + ".bak"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write tmp file %s: %w", tmp, err)
	}

	if existing, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(bak, existing, 0o644); err != nil {
			return fmt.Errorf("write backup file %s: %w", bak, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read existing file %s: %w", path, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		// Fallback: copy tmp's contents into the final path, then
		// remove tmp. This tolerates renames that fail because
		// another handle holds the destination open.
		if writeErr := os.WriteFile(path, data, 0o644); writeErr != nil {
			return fmt.Errorf("fallback copy to %s after rename error (%v): %w", path, err, writeErr)
		}
		if unlinkErr := os.Remove(tmp); unlinkErr != nil && !os.IsNotExist(unlinkErr) {
			return fmt.Errorf("unlink tmp file %s after fallback copy: %w", tmp, unlinkErr)
		}
	}

	return nil
}

// LoadWithBackupFallback reads path; on parse/read failure it falls
// back to path+".bak". found is false only when neither file exists
// or parses, in which case the caller should treat this as a new
// session/world with no prior state.
func LoadWithBackupFallback(path string, parse func([]byte) error) (found bool, err error) {
	if data, readErr := os.ReadFile(path); readErr == nil {
		if parseErr := parse(data); parseErr == nil {
			return true, nil
		}
	}

	bak := path + ".bak"
	if data, readErr := os.ReadFile(bak); readErr == nil {
		if parseErr := parse(data); parseErr == nil {
			return true, nil
		}
	}

	return false, nil
}
