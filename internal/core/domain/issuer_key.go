package domain

import (
	"time"

	"github.com/google/uuid"
)

// IssuerKey is the per-owner root secret every owned card's keys are derived
// from. Created lazily on the owner's first card registration, never rotated.
// The 16-byte key material is encrypted at rest.
type IssuerKey struct {
	ID          uuid.UUID `json:"id"`
	OwnerPubkey string    `json:"owner_pubkey"`
	KeyEnc      string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}
