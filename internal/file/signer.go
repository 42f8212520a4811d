package file

import (
	"context"
	"time"

	"github.com/filegate/service/internal/storage"
)

// Purpose selects the fixed expiry policy for a signed URL.
type Purpose string

// Signed URL purposes. The expiries are part of the external contract.
const (
	PurposeConfirm  Purpose = "confirm"  // upload confirmation
	PurposeDownload Purpose = "download" // retrieval
)

const (
	confirmExpiry  = 3600 * time.Second
	downloadExpiry = 900 * time.Second
)

// Expiry returns the fixed lifetime for the purpose.
func (p Purpose) Expiry() time.Duration {
	if p == PurposeDownload {
		return downloadExpiry
	}
	return confirmExpiry
}

// Signer issues time-limited read URLs over the object store's presign
// capability. URLs are self-contained and never persisted; re-issuing for the
// same key yields a new, independently-expiring URL.
type Signer struct {
	store storage.ObjectStore
}

// NewSigner creates a Signer over the given store.
func NewSigner(store storage.ObjectStore) *Signer {
	return &Signer{store: store}
}

// Issue returns a read-only URL for exactly one object, valid for the
// purpose's fixed duration.
func (s *Signer) Issue(ctx context.Context, storeKey string, purpose Purpose) (string, error) {
	return s.store.PresignGet(ctx, storeKey, purpose.Expiry())
}
