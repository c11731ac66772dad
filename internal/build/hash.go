package build

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/conneroisu/pagegraph/internal/types"
)

const (
	// HashPrefixLength is the number of hash characters embedded in
	// artifact file names and rewritten import specifiers.
	HashPrefixLength = 9

	// unavailableMarker stands in for the resolved hash of a dependency
	// that failed to compile.
	unavailableMarker = "!unavailable"
)

// HashPlaceholder is emitted by loaders in local import specifiers before
// the dependency's output hash is known.
var HashPlaceholder = strings.Repeat("x", HashPrefixLength)

// ContentHash returns the lowercase hex SHA-256 digest of content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashPrefix returns the leading HashPrefixLength characters of hash.
func HashPrefix(hash string) string {
	if len(hash) <= HashPrefixLength {
		return hash
	}
	return hash[:HashPrefixLength]
}

// OutputHash chains the emitted code with the resolved hash of every
// chained dependency. Dynamic imports, cycle-closing edges and data hooks
// are skipped.
func OutputHash(code string, deps []types.DependencyDescriptor) string {
	h := sha256.New()
	h.Write([]byte(code))
	for _, dep := range deps {
		if !dep.Chained() {
			continue
		}
		h.Write([]byte{0})
		h.Write([]byte(dep.URL))
		h.Write([]byte{0})
		if dep.ResolvedHash == "" {
			h.Write([]byte(unavailableMarker))
		} else {
			h.Write([]byte(dep.ResolvedHash))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
