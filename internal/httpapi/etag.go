package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"

	"github.com/credit-markets/vitalfi-backend/internal/metrics"
)

// Hasher produces the entity tag body for a serialized response. The
// default is SHA-256; FNV64Hasher trades collision resistance for speed
// on deployments where ETags only need to beat the cache window.
type Hasher interface {
	Hash(body []byte) string
}

// SHA256Hasher is the default ETag hasher.
type SHA256Hasher struct{}

func (SHA256Hasher) Hash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// FNV64Hasher is a fast non-cryptographic alternative.
type FNV64Hasher struct{}

func (FNV64Hasher) Hash(body []byte) string {
	h := fnv.New64a()
	h.Write(body)
	return strconv.FormatUint(h.Sum64(), 16)
}

// writeCachedJSON serializes v once, answers 304 when the client already
// holds the current entity, and otherwise writes the body with ETag and
// Cache-Control headers.
func (s *Server) writeCachedJSON(w http.ResponseWriter, r *http.Request, route string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("response serialization failed", "route", route, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	etag := `"` + s.hasher.Hash(body) + `"`
	w.Header().Set("ETag", etag)
	if s.cfg.CacheMaxAge > 0 {
		maxAge := int(s.cfg.CacheMaxAge.Seconds())
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d",
			maxAge, maxAge*s.cfg.CacheStaleFactor))
	}

	if etagMatch(r.Header.Get("If-None-Match"), etag) {
		metrics.HTTPNotModifiedTotal.WithLabelValues(route).Inc()
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// etagMatch checks an If-None-Match header against the current entity
// tag. Weak validators compare equal to their strong form: a cached body
// that hashes the same is the same page.
func etagMatch(header, etag string) bool {
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}
