package normalize

import (
	"crypto/sha256"

	"github.com/mikey/phishguard/internal/core"
)

// Fingerprint returns the SHA-256 digest of the canonical form of normalized content
func Fingerprint(content *core.NormalizedContent) core.Fingerprint {
	return core.Fingerprint(sha256.Sum256(content.Canonical()))
}
