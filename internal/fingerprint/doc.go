// Package fingerprint derives the cache identity of an outbound AniList/VNDB
// call. A Request (operation + variables) is serialized into a canonical JSON
// document with sorted keys at every depth and a whitespace-normalized
// operation, so structurally identical requests share one cache slot no matter
// how the caller assembled them. The canonical text can be used as the key
// directly, or hashed into a fixed-width digest when key length matters.
package fingerprint
