package ports

import "context"

// DigestResolver resolves a mutable image reference to its current
// content-addressed digest, so descriptors can be pinned.
type DigestResolver interface {
	ResolveDigest(ctx context.Context, ref string) (string, error)
}
