// Package upstream performs the live AniList GraphQL and VNDB REST calls that
// the request cache memoizes. Each Client turns a fingerprint.Request into one
// HTTP exchange and returns the raw body; status and transport failures are
// surfaced as errors so the caller can decide what to cache.
package upstream
