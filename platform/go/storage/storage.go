package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ObjectLocation describes where a document blob lives.
type ObjectLocation struct {
	Bucket   string
	FullPath string
}

// ResolveObjectLocation combines the owner prefix and a logical key into a bucket/path pair.
//   - bucket comes from deployment configuration (STORAGE_BUCKET); it may be empty for local storage.
//   - every owner gets its own prefix "owners/<ownerId>/" so a document key can never point
//     at another owner's blob.
//   - logicalKey is owner-relative, e.g. "identity/passport.pdf". A key that already
//     carries the owner prefix is accepted unchanged.
func ResolveObjectLocation(bucket string, ownerID uuid.UUID, logicalKey string) (ObjectLocation, error) {
	if ownerID == uuid.Nil {
		return ObjectLocation{}, fmt.Errorf("owner id is required")
	}

	key := strings.TrimSpace(logicalKey)
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return ObjectLocation{}, fmt.Errorf("logical key is required")
	}

	prefix := OwnerPrefix(ownerID)
	key = strings.TrimPrefix(key, prefix)

	cleaned := path.Clean("/" + key)
	if cleaned == "/" || strings.Contains(key, "..") {
		return ObjectLocation{}, fmt.Errorf("logical key %q is not a valid object key", logicalKey)
	}

	return ObjectLocation{
		Bucket:   strings.TrimSpace(bucket),
		FullPath: prefix + strings.TrimPrefix(cleaned, "/"),
	}, nil
}

// OwnerPrefix returns the per-owner object prefix, always with a trailing slash.
func OwnerPrefix(ownerID uuid.UUID) string {
	return "owners/" + ownerID.String() + "/"
}
