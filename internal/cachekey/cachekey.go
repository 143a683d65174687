// Package cachekey handles price-cache key formatting, parsing, and the
// match patterns used for index-wide invalidation.
//
// Format: price:{productID}:{organizationID}:{volatilityIndexID|none}
// Example: price:prod-7f3a:org-19c2:idx-volatile-q3
package cachekey

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// NoIndex is the key component used when a calculation had no volatility index.
const NoIndex = "none"

// keyRegex matches price:{productID}:{orgID}:{indexID}. Identifiers are
// opaque but may not contain the ':' separator.
var keyRegex = regexp.MustCompile(`^price:([^:]+):([^:]+):([^:]+)$`)

var (
	ErrInvalidKey = errors.New("cachekey: invalid price cache key format")
	ErrEmptyID    = errors.New("cachekey: identifier must be non-empty and contain no ':'")
)

// Key is a parsed price cache key.
type Key struct {
	ProductID         string
	OrganizationID    string
	VolatilityIndexID string // NoIndex when absent
}

// Format builds the cache key for a (product, organization, index) triple.
// An empty indexID maps to the NoIndex component.
func Format(productID, organizationID, indexID string) (string, error) {
	if indexID == "" {
		indexID = NoIndex
	}
	for _, id := range []string{productID, organizationID, indexID} {
		if id == "" || strings.Contains(id, ":") {
			return "", fmt.Errorf("%w: %q", ErrEmptyID, id)
		}
	}
	return fmt.Sprintf("price:%s:%s:%s", productID, organizationID, indexID), nil
}

// Parse parses and validates a price cache key.
func Parse(key string) (*Key, error) {
	matches := keyRegex.FindStringSubmatch(key)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected price:{product}:{org}:{index|none})",
			ErrInvalidKey, key)
	}
	return &Key{
		ProductID:         matches[1],
		OrganizationID:    matches[2],
		VolatilityIndexID: matches[3],
	}, nil
}

// IndexPattern returns the glob pattern matching every cache key whose
// volatility-index component equals indexID, across all products and
// organizations.
func IndexPattern(indexID string) string {
	return fmt.Sprintf("price:*:*:%s", indexID)
}
