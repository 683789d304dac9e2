// Package cache defines the request cache store: one CacheEntry per request
// fingerprint holding the verbatim upstream body and the time it was last
// refreshed. Three interchangeable backends satisfy the Store contract
// (in-process memory, SQLite via modernc.org/sqlite, and a flat file layout
// under StoragePath) so operators can pick durability without touching the
// fetch path. StalenessPolicy decides whether an entry may still be served.
package cache
