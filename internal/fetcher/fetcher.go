package fetcher

import (
	"context"
)

// Source retrieves a raw feed payload. Implementations enforce their own
// connect and read timeouts and never retry.
type Source interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
