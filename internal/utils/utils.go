package utils

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/scythe504/poison-grid/internal"
)

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

const roomCodeDigits = 6

// GenerateRoomCode returns a six digit numeric room code, never starting with 0.
func GenerateRoomCode() (string, error) {
	// 100000..999999
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	return fmt.Sprintf("%d", 100000+n.Int64()), nil
}

// FallbackRoomCode derives a code from a uuid's digits when random codes
// keep colliding.
func FallbackRoomCode() string {
	var b strings.Builder
	for _, r := range uuid.NewString() {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == roomCodeDigits {
				return b.String()
			}
		}
	}
	return "999999"
}

func IsValidRoomID(id string) bool {
	if id == "" || len(id) > internal.MaxRoomIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

var ErrTooLong = errors.New("too long")

// SanitizeDisplay trims s, strips control and format characters other than
// the zero-width joiner used by emoji, and falls back to def when nothing is
// left. Input longer than maxRunes is rejected rather than cut.
func SanitizeDisplay(s string, def string, maxRunes int) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\u200d' {
			return r
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return def, nil
	}
	if utf8.RuneCountInString(cleaned) > maxRunes {
		return "", fmt.Errorf("%w: at most %d characters", ErrTooLong, maxRunes)
	}
	return cleaned, nil
}
