// Package oracle handles underlying asset identifiers and answers whether an
// asset has a price feed the clearing house can rely on.
package oracle

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// assetRegex matches upper-case asset tickers such as DOT, BTC or USDC.
var assetRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,11}$`)

var (
	ErrInvalidAssetID = errors.New("oracle: invalid asset id")
)

// AssetSupport answers whether the oracle publishes a price for an asset.
type AssetSupport interface {
	IsSupported(assetID string) bool
}

// ParseAssetID normalizes and validates an asset ticker.
// Format: 2-12 characters, letters and digits, starting with a letter.
func ParseAssetID(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if !assetRegex.MatchString(id) {
		return "", fmt.Errorf("%w: %q (expected 2-12 alphanumerics starting with a letter)",
			ErrInvalidAssetID, raw)
	}
	return id, nil
}

// Static is an AssetSupport backed by a fixed set of assets, typically the
// feeds listed in configuration.
type Static struct {
	mu     sync.RWMutex
	assets map[string]bool
}

// NewStatic creates an oracle supporting the given assets. Every id must be
// a valid asset ticker.
func NewStatic(assetIDs ...string) (*Static, error) {
	s := &Static{assets: make(map[string]bool, len(assetIDs))}
	for _, raw := range assetIDs {
		if err := s.Add(raw); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers a supported asset.
func (s *Static) Add(raw string) error {
	id, err := ParseAssetID(raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.assets[id] = true
	s.mu.Unlock()
	return nil
}

// Remove drops an asset's feed.
func (s *Static) Remove(raw string) {
	id, err := ParseAssetID(raw)
	if err != nil {
		return
	}
	s.mu.Lock()
	delete(s.assets, id)
	s.mu.Unlock()
}

// IsSupported reports whether assetID has a feed. Malformed ids are never
// supported.
func (s *Static) IsSupported(assetID string) bool {
	id, err := ParseAssetID(assetID)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assets[id]
}

// Assets returns the supported asset ids in sorted order.
func (s *Static) Assets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.assets))
	for id := range s.assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
