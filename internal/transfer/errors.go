package transfer

import "errors"

var (
	// ErrProviderUnavailable marks a single endpoint or adapter failure; callers fall back.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrAllProvidersFailed is returned when every endpoint in an ordered list failed.
	ErrAllProvidersFailed = errors.New("all providers failed")

	// ErrAllProvidersFailedForCategory is returned by a fetcher whose adapters all failed.
	ErrAllProvidersFailedForCategory = errors.New("all providers failed for category")

	// ErrMissingCredential signals a configuration gap (API key not set), not a transient fault.
	ErrMissingCredential = errors.New("missing credential")

	// ErrUnsupportedCategory is returned for a category with no registered fetcher.
	ErrUnsupportedCategory = errors.New("unsupported category")

	// ErrAllCategoriesFailed is returned by the orchestrator when no category succeeded.
	ErrAllCategoriesFailed = errors.New("all categories failed")
)
