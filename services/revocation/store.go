package revocation

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/alexedwards/scs/gormstore"
	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
	"gorm.io/gorm"
)

// Revoked tokens live in an scs token store: a TTL-keyed byte map whose
// entries evaporate at the expiry passed to Commit. That is exactly the
// contract a revocation list needs, so no bespoke store is kept here. Both
// backends clean up expired entries on their own schedule.

func NewMemoryStore() scs.Store {
	return memstore.New()
}

func NewDatabaseStore(db *gorm.DB, cleanupInterval time.Duration) (scs.Store, error) {
	return gormstore.NewWithCleanupInterval(db, cleanupInterval)
}

// hashToken keys store entries by digest rather than raw credential, so a
// leaked store dump cannot replay the tokens it lists.
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
