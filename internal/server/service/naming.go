package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// nameResolution is the outcome of resolving a desired display name for
// an owner: the final display name, the fresh on-disk storage name, and
// whether the caller should be told about truncation or renaming.
type nameResolution struct {
	DisplayName string
	StorageName string
	Truncated   bool
	Renamed     bool
}

// resolveName produces a display name unique within the owner's files and
// a never-reused storage name. Pure query + compute; the insert happens
// later, so a concurrent identical upload can still land on the same
// display name. That is cosmetic: storage names cannot collide.
func (s *FileService) resolveName(ctx context.Context, cleanName string, ownerID int64) (*nameResolution, error) {
	name := norm.NFC.String(cleanName)

	truncated := false
	if utf8.RuneCountInString(name) > s.maxNameLength {
		name = truncateName(name, s.maxNameLength)
		truncated = true
	}

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	ext := filepath.Ext(name)

	// Counter suffix loop: each iteration strictly advances the counter,
	// and the owner has finitely many files, so this terminates after at
	// most observed-collisions + 1 probes.
	final := name
	renamed := false
	for counter := 1; ; counter++ {
		taken, err := s.files.DisplayNameTaken(ctx, ownerID, final)
		if err != nil {
			return nil, fmt.Errorf("failed to check display name collision: %w", err)
		}
		if !taken {
			break
		}
		final = fmt.Sprintf("%s (%d)%s", stem, counter, ext)
		renamed = true
	}

	return &nameResolution{
		DisplayName: final,
		StorageName: newStorageToken() + "_" + final,
		Truncated:   truncated,
		Renamed:     renamed,
	}, nil
}

// newStorageToken returns a 32-character hex token for on-disk names.
func newStorageToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// truncateName shortens a display name to at most max runes while keeping
// the extension intact. At least one stem rune is always kept.
func truncateName(name string, max int) string {
	ext := filepath.Ext(name)
	keep := max - utf8.RuneCountInString(ext)
	if keep < 1 {
		keep = 1
	}

	stem := []rune(strings.TrimSuffix(name, ext))
	if len(stem) > keep {
		stem = stem[:keep]
	}
	return string(stem) + ext
}

// sanitizeFilename strips directory components from a declared name.
// Returns "" when nothing usable remains.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes before filepath.Base, which is
	// platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	if name == "." || name == "/" {
		return ""
	}
	return name
}
