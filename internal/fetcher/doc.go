// Package fetcher implements the fetch-or-compute request cache: a
// CachingFetcher fingerprints each request, serves a fresh cached body when
// one exists, and otherwise performs the live upstream call and
// unconditionally records the new body with the current timestamp. Callers
// may force a live call, which skips the cache read but still refreshes the
// stored entry.
package fetcher
