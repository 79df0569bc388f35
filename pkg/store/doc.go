// Package store provides persistence for map patches.
//
// Two implementations share one contract:
//
//   - Store is backed by SQLite (modernc.org/sqlite, no cgo) and is what the
//     shmctl CLI uses between runs.
//   - Memory keeps everything in process and suits tests and embedding.
//
// Both hold patches with their audit trails, distribution rows, zone
// summaries, mismatch clusters, kill switch state and operator-changed
// safety thresholds. Lookups of missing records return errors wrapping
// patch.ErrNotFound.
//
// # Usage
//
// Open a store with [Open] and close it when done:
//
//	db, err := store.Open(store.DefaultPath())
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
// # Atomic commits
//
// CommitPatch writes a patch, its newest audit event and its distribution
// row together. The commit is refused with ErrStaleTrail if the stored trail
// has grown since the patch was read, so two writers can never record the
// same event id.
//
// # Thread Safety
//
// Both implementations are safe for concurrent use. SQLite WAL mode lets
// readers and a writer operate simultaneously.
package store
