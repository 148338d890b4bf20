package filescan

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// Hashes are the content digests recorded for every scan.
type Hashes struct {
	SHA256  string `json:"sha256"`
	BLAKE2b string `json:"blake2b_256"`
	MD5     string `json:"md5"`
}

func computeHashes(data []byte) Hashes {
	s := sha256.Sum256(data)
	b := blake2b.Sum256(data)
	m := md5.Sum(data)
	return Hashes{
		SHA256:  hex.EncodeToString(s[:]),
		BLAKE2b: hex.EncodeToString(b[:]),
		MD5:     hex.EncodeToString(m[:]),
	}
}

// EICAR test file digests.
const (
	eicarSHA256 = "275a021bbfb6489e54d471899f7db9d1663fc695ec2fe2a2c4538aabf651fd0f"
	eicarMD5    = "44d88612fea8a8f36de82e1278abb02f"
)

// HashSet is a set of known-bad content digests. Entries may carry an
// algorithm prefix such as "sha256:"; it is ignored.
type HashSet struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

func NewHashSet(hashes ...string) *HashSet {
	h := &HashSet{set: make(map[string]struct{})}
	h.Add(hashes...)
	return h
}

// DefaultHashSet holds the digests of the standard antivirus test file.
func DefaultHashSet() *HashSet {
	return NewHashSet(eicarSHA256, eicarMD5)
}

func normalizeHash(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if i := strings.IndexByte(v, ':'); i >= 0 {
		v = v[i+1:]
	}
	return strings.TrimSpace(v)
}

func (h *HashSet) Add(hashes ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, v := range hashes {
		if v = normalizeHash(v); v != "" {
			h.set[v] = struct{}{}
		}
	}
}

func (h *HashSet) Contains(v string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.set[normalizeHash(v)]
	return ok
}

// Match returns the first digest of hs found in the set.
func (h *HashSet) Match(hs Hashes) (string, bool) {
	for _, v := range []string{hs.SHA256, hs.BLAKE2b, hs.MD5} {
		if v != "" && h.Contains(v) {
			return v, true
		}
	}
	return "", false
}

func (h *HashSet) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.set)
}
