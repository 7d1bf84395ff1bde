package api

import (
	"bytes"
	"crypto/sha256"
	"io"
	"net/http"
	"sync"
	"time"
)

// replayEntry is a completed mutation held for idempotent replay. The body
// digest pins the key to one request payload: reusing a key with a different
// payload is a client bug, not a retry.
type replayEntry struct {
	Digest     [sha256.Size]byte
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// IdempotencyStorer persists replay entries keyed by the scoped
// idempotency key.
type IdempotencyStorer interface {
	Lookup(key string) (*replayEntry, bool)
	Store(key string, e *replayEntry)
}

// MemoryIdempotencyStore holds replay entries with a TTL.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*replayEntry
	ttl     time.Duration
}

// NewIdempotencyStore creates an in-memory idempotency store.
func NewIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	s := &MemoryIdempotencyStore{
		entries: make(map[string]*replayEntry),
		ttl:     ttl,
	}
	go s.sweep()
	return s
}

func (s *MemoryIdempotencyStore) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		now := time.Now()
		for k, v := range s.entries {
			if now.Sub(v.StoredAt) > s.ttl {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}

// Lookup returns the entry for key if it exists and has not expired.
func (s *MemoryIdempotencyStore) Lookup(key string) (*replayEntry, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if ok && time.Since(e.StoredAt) < s.ttl {
		return e, true
	}
	return nil, false
}

// Store records an entry for key.
func (s *MemoryIdempotencyStore) Store(key string, e *replayEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.StoredAt = time.Now()
	s.entries[key] = e
}

// responseCapture wraps http.ResponseWriter to record what the handler wrote.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// IdempotencyMiddleware replays the recorded response when a client retries
// a mutation it already performed under the same Idempotency-Key. Keys are
// scoped per method and path, so one key can safely be reused across
// endpoints; reusing a key on the same endpoint with a different body is
// rejected. This spares the retrying client a duplicate round trip only:
// claim-level idempotency by (subject, predicate, object) triple is enforced
// by the engine regardless.
func IdempotencyMiddleware(store IdempotencyStorer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" || !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
			payload, err := io.ReadAll(r.Body)
			if err != nil {
				WriteBadRequest(w, "Unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(payload))

			scoped := r.Method + " " + r.URL.Path + "\x00" + key
			digest := sha256.Sum256(payload)

			if prior, ok := store.Lookup(scoped); ok {
				if prior.Digest != digest {
					WriteError(w, http.StatusUnprocessableEntity, "Idempotency Key Reuse",
						"Idempotency-Key was already used with a different request body")
					return
				}
				for k, vals := range prior.Header {
					for _, v := range vals {
						w.Header().Add(k, v)
					}
				}
				w.Header().Set("Idempotent-Replay", "true")
				w.WriteHeader(prior.StatusCode)
				_, _ = w.Write(prior.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			// Only successful responses replay; errors stay retryable.
			if capture.statusCode >= 200 && capture.statusCode < 300 {
				store.Store(scoped, &replayEntry{
					Digest:     digest,
					StatusCode: capture.statusCode,
					Header:     w.Header().Clone(),
					Body:       append([]byte(nil), capture.body.Bytes()...),
				})
			}
		})
	}
}
