package utils

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

	// DefaultCodeLength is the length of generated codes
	DefaultCodeLength = 6
	MinCodeLength     = 3
	MaxCodeLength     = 32
)

var (
	ErrAliasBadFormat = errors.New("alias must be 3-32 characters of letters, digits, '-' or '_'")
	ErrAliasReserved  = errors.New("alias is reserved")
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

var (
	reservedMu sync.RWMutex
	reserved   = map[string]struct{}{
		"api": {}, "admin": {}, "health": {}, "login": {}, "logout": {},
		"register": {}, "signin": {}, "signup": {}, "signout": {}, "auth": {},
		"www": {}, "mail": {}, "ftp": {}, "localhost": {}, "shorten": {},
		"links": {}, "link": {}, "urls": {}, "url": {}, "stats": {},
		"analytics": {}, "redirect": {}, "metrics": {}, "static": {}, "assets": {},
		"favicon.ico": {}, "robots.txt": {},
	}
)

// Reserve adds words to the deny-list. Matching is case-insensitive.
func Reserve(words ...string) {
	reservedMu.Lock()
	defer reservedMu.Unlock()
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			reserved[w] = struct{}{}
		}
	}
}

// IsReserved reports whether code is on the deny-list
func IsReserved(code string) bool {
	reservedMu.RLock()
	defer reservedMu.RUnlock()
	_, ok := reserved[strings.ToLower(code)]
	return ok
}

// IsValidCodeFormat checks the shared format rule for generated and custom codes
func IsValidCodeFormat(code string) bool {
	return codePattern.MatchString(code)
}

// ValidateAlias checks a user supplied code before anything touches the store
func ValidateAlias(candidate string) error {
	if !IsValidCodeFormat(candidate) {
		return ErrAliasBadFormat
	}
	if IsReserved(candidate) {
		return ErrAliasReserved
	}
	return nil
}

// GenerateCode returns a random code of the given length, clamped to the
// allowed range. It never returns a reserved code.
// Uniqueness is not guaranteed here; the store enforces it on insert.
func GenerateCode(length int) (string, error) {
	if length < MinCodeLength {
		length = MinCodeLength
	}
	if length > MaxCodeLength {
		length = MaxCodeLength
	}

	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, length)
	for {
		for i := range buf {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("failed to read random source: %w", err)
			}
			buf[i] = codeAlphabet[n.Int64()]
		}
		code := string(buf)
		if !IsReserved(code) {
			return code, nil
		}
	}
}
