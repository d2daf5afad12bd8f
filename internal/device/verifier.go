// Package device authenticates bin controllers and applies their telemetry.
package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"recycle-bin-backend/internal/apperr"
	"recycle-bin-backend/internal/store"
)

// ErrUnknownCredential is returned for any credential that does not resolve.
var ErrUnknownCredential = fmt.Errorf("%w: invalid device credential", apperr.ErrUnauthorized)

// Verifier maps device credentials to bin ids. Positive lookups are cached.
type Verifier struct {
	store store.Store
	cache *cache.Cache
}

// NewVerifier creates a Verifier whose cache entries live for ttl.
func NewVerifier(s store.Store, ttl time.Duration) *Verifier {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Verifier{store: s, cache: cache.New(ttl, 2*ttl)}
}

// Resolve returns the bin id for credential. Unknown credentials yield
// ErrUnknownCredential, never a not-found error.
func (v *Verifier) Resolve(ctx context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", ErrUnknownCredential
	}
	if binID, found := v.cache.Get(credential); found {
		return binID.(string), nil
	}

	binID, err := v.store.FindBinIDByCredential(ctx, credential)
	if apperr.IsNotFound(err) {
		return "", ErrUnknownCredential
	}
	if err != nil {
		return "", err
	}
	v.cache.SetDefault(credential, binID)
	return binID, nil
}

// Invalidate drops a cached credential, e.g. after it was rotated.
func (v *Verifier) Invalidate(credential string) {
	v.cache.Delete(credential)
}
