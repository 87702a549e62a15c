package sandbox

import "context"

// Acquirer resolves the base URL of a sandbox service instance. The release
// function must be called once the caller is done with the instance.
type Acquirer interface {
	Acquire(ctx context.Context) (baseURL string, release func(), err error)
}

// StaticAcquirer always returns the same, externally managed service URL.
type StaticAcquirer struct {
	URL string
}

// Acquire returns the configured URL, or DefaultBaseURL when empty.
func (a StaticAcquirer) Acquire(_ context.Context) (string, func(), error) {
	if a.URL == "" {
		return DefaultBaseURL, func() {}, nil
	}
	return a.URL, func() {}, nil
}
