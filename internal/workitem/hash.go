package workitem

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"scribe/internal/fileutil"
	"scribe/internal/textutil"
)

// HashFile returns the content hash for the file at path. Payloads larger
// than maxBytes (when positive) fall back to "<name>_<size>".
func HashFile(path, originalName string, maxBytes int64) (string, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return FallbackHash(originalName, info.Size()), info.Size(), nil
	}
	return fileutil.HashFile(path)
}

// FallbackHash is the name_size identity used when hashing is not possible.
func FallbackHash(name string, size int64) string {
	return fmt.Sprintf("%s_%d", name, size)
}

// IsDigest reports whether hash is a hex SHA-256 digest rather than a fallback.
func IsDigest(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

// HashPrefix returns the 8-character suffix used in dedup-safe names.
func HashPrefix(hash string) string {
	if IsDigest(hash) {
		return strings.ToLower(hash[:8])
	}
	sum := sha256.Sum256([]byte(hash))
	return hex.EncodeToString(sum[:])[:8]
}

// SafeName returns the dedup-safe name for originalName given its hash.
func SafeName(originalName, hash string) string {
	return textutil.HashedName(originalName, HashPrefix(hash))
}
