package fingerprint

import (
	"errors"
	"testing"
)

type staticSource struct {
	attrs Attributes
	err   error
}

func (s staticSource) Attributes() (Attributes, error) {
	return s.attrs, s.err
}

type panickySource struct{}

func (panickySource) Attributes() (Attributes, error) {
	panic("canvas unavailable")
}

func testAttributes() Attributes {
	return Attributes{
		PixelSignature:  []byte{0x01, 0x02, 0x03},
		UserAgent:       "Mozilla/5.0",
		Locale:          "ko-KR",
		Platform:        "MacIntel",
		ScreenWidth:     390,
		ScreenHeight:    844,
		ColorDepth:      24,
		Timezone:        "Asia/Seoul",
		DeviceMemoryGB:  8,
		HardwareThreads: 6,
	}
}

func TestGenerateDeterministic(t *testing.T) {
	src := staticSource{attrs: testAttributes()}
	first := Generate(src)
	second := Generate(src)
	if first != second {
		t.Fatalf("Generate not deterministic: %q vs %q", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("digest length=%d, want 64", len(first))
	}
	if IsFallback(first) {
		t.Fatalf("digest %q carries fallback prefix", first)
	}
}

func TestGenerateDistinguishesAttributes(t *testing.T) {
	base := testAttributes()
	changed := testAttributes()
	changed.ScreenWidth = 1920

	if Generate(staticSource{attrs: base}) == Generate(staticSource{attrs: changed}) {
		t.Fatal("different attributes produced identical digests")
	}
}

func TestGenerateFallsBackOnError(t *testing.T) {
	id := Generate(staticSource{err: errors.New("no canvas")})
	if !IsFallback(id) {
		t.Fatalf("id=%q, want fallback prefix %q", id, FallbackPrefix)
	}
	if len(id) <= len(FallbackPrefix) {
		t.Fatalf("fallback token too short: %q", id)
	}
}

func TestGenerateFallsBackOnPanic(t *testing.T) {
	id := Generate(panickySource{})
	if !IsFallback(id) {
		t.Fatalf("id=%q, want fallback prefix %q", id, FallbackPrefix)
	}
}

func TestGenerateFallsBackOnNilSource(t *testing.T) {
	if id := Generate(nil); !IsFallback(id) {
		t.Fatalf("id=%q, want fallback prefix %q", id, FallbackPrefix)
	}
}

func TestFallbackTokensAreUnique(t *testing.T) {
	if Fallback() == Fallback() {
		t.Fatal("two fallback tokens collided")
	}
}
