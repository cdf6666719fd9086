// Package permission resolves a principal's effective permissions from its roles and
// caches the result.
//
// Resolution walks Principal→Role→Permission, drops disabled roles and disabled
// permissions, and de-duplicates by code. URL grants match exactly, or as a subtree
// when the granted URL ends in "/**".
//
// # Cache coherence
//
// Cached sets carry the generation they were computed under: a per-principal
// version plus a global epoch. [Resolver.Invalidate] bumps the version and
// [Resolver.InvalidateAll] bumps the epoch. A fill that started before either bump is
// rejected by a compare-and-set on write, so the first read after an invalidation
// always reaches the source. There is no freshness TTL.
//
// # Architecture boundaries
//
// Mutations go through [Resolver] so the write and the invalidation are one call.
// Stores implement [Source] and [Mutator]; see [MemoryStore] and store/pg.
//
// # What this package must NOT do
//
//   - Decode tokens or know about sessions.
//   - Grant anything when the source fails.
package permission
