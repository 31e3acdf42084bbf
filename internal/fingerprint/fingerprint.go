// Package fingerprint derives a quasi-stable per-browser identifier used by
// the block-check and session-init calls.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// FallbackPrefix marks tokens minted when the real attribute sources were
// unavailable, so the backend can tell them apart from true fingerprints.
const FallbackPrefix = "fb-"

// Attributes represents the device traits that feed the digest.
type Attributes struct {
	PixelSignature  []byte
	UserAgent       string
	Locale          string
	Platform        string
	ScreenWidth     int
	ScreenHeight    int
	ColorDepth      int
	Timezone        string
	DeviceMemoryGB  int
	HardwareThreads int
}

// Source supplies the attributes of the current client environment.
type Source interface {
	Attributes() (Attributes, error)
}

// Generate returns a hex digest of the source's attributes. It never fails:
// any error or panic in the source yields a fallback token instead.
func Generate(src Source) (id string) {
	defer func() {
		if recover() != nil {
			id = Fallback()
		}
	}()

	digest, err := generate(src)
	if err != nil {
		return Fallback()
	}
	return digest
}

// Fallback mints a random, distinctly prefixed token.
func Fallback() string {
	return FallbackPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsFallback reports whether id was minted by Fallback.
func IsFallback(id string) bool {
	return strings.HasPrefix(id, FallbackPrefix)
}

func generate(src Source) (string, error) {
	if src == nil {
		return "", errors.New("fingerprint source is nil")
	}
	attrs, err := src.Attributes()
	if err != nil {
		return "", err
	}

	parts := []string{
		hex.EncodeToString(attrs.PixelSignature),
		attrs.UserAgent,
		attrs.Locale,
		attrs.Platform,
		strconv.Itoa(attrs.ScreenWidth) + "x" + strconv.Itoa(attrs.ScreenHeight),
		strconv.Itoa(attrs.ColorDepth),
		attrs.Timezone,
		strconv.Itoa(attrs.DeviceMemoryGB),
		strconv.Itoa(attrs.HardwareThreads),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:]), nil
}
