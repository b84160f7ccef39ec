package cache

import (
	"errors"
	"strings"
)

// KeySeparator joins key parts.
const KeySeparator = ":"

// ErrInvalidKey is returned for keys with empty parts or parts containing the separator.
var ErrInvalidKey = errors.New("cache: invalid key")

// Key joins parts into a cache key. Parts must be non-empty and free of the separator
// so that prefix invalidation cannot match across entities.
func Key(parts ...string) (string, error) {
	if len(parts) == 0 {
		return "", ErrInvalidKey
	}
	for _, part := range parts {
		if part == "" || strings.Contains(part, KeySeparator) {
			return "", ErrInvalidKey
		}
	}
	return strings.Join(parts, KeySeparator), nil
}

// Prefix returns the key prefix shared by every key built from parts plus further parts.
func Prefix(parts ...string) (string, error) {
	key, err := Key(parts...)
	if err != nil {
		return "", err
	}
	return key + KeySeparator, nil
}
