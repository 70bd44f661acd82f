package bundle

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ukpostal/refbuild/internal/model"
)

// canonicalManifest is the structure bundle_hash serialises (§4.3):
// {"build_profile": ..., "source_runs": {source: [sorted run_ids]}}.
type canonicalManifest struct {
	BuildProfile model.BuildProfile  `json:"build_profile"`
	SourceRuns   map[string][]string `json:"source_runs"`
}

// Hash computes bundle_hash(profile, source_runs): JSON-encode
// {build_profile, source_runs: {source → sorted run_ids}} using
// lexicographic key order, compact separators, ASCII-safe escaping, then
// SHA-256 hex of the UTF-8 bytes (§4.3).
//
// The hash is invariant under key reorderings of source_runs and under
// permutations of each slot's run list (§8): both are achieved by sorting
// before encoding, since Go's encoding/json already orders map[string]T
// keys lexicographically.
func Hash(profile model.BuildProfile, sourceRuns map[string][]string) (string, error) {
	canon := canonicalManifest{
		BuildProfile: profile,
		SourceRuns:   make(map[string][]string, len(sourceRuns)),
	}
	for source, runs := range sourceRuns {
		sorted := append([]string(nil), runs...)
		sort.Strings(sorted)
		canon.SourceRuns[source] = sorted
	}

	raw, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("marshal canonical manifest: %w", err)
	}

	ascii := AsciiSafeEscape(string(raw))
	sum := sha256.Sum256([]byte(ascii))
	return fmt.Sprintf("%x", sum), nil
}

// AsciiSafeEscape rewrites every non-ASCII rune (>= 0x80) as a \uXXXX
// escape (a surrogate pair above U+FFFF); ASCII is copied unchanged, matching the "ASCII-safe escaping" requirement in §4.3
// and §4.8. encoding/json already emits UTF-8 for non-ASCII runes inside
// strings; we re-walk the output and replace them so the hashed byte
// stream never contains a byte ≥ 0x80. Shared by the bundle hasher and
// the verifier's canonical row hashing.
func AsciiSafeEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x80 {
			b.WriteRune(r)
			continue
		}
		if r > 0xFFFF {
			// Encode as a UTF-16 surrogate pair.
			r -= 0x10000
			hi := 0xD800 + (r >> 10)
			lo := 0xDC00 + (r & 0x3FF)
			fmt.Fprintf(&b, "\\u%04x\\u%04x", hi, lo)
			continue
		}
		fmt.Fprintf(&b, "\\u%04x", r)
	}
	return b.String()
}
