// Package hybridlog implements a tiered key-value storage engine (KVDB) built around a hybrid
// log: a hot in-memory append-only region, warm memory mapped immutable segments and cold
// immutable disk files. It provides a complete implementation of the db.KVDB interface with a
// focus on lock-free hot paths, safe migration between tiers while readers are active, and safe
// reclamation of memory the Go garbage collector cannot protect.
//
// Key Components:
//
//   - hybridLog: The engine facade implementing db.KVDB. It owns one epoch manager, one hash
//     index, the log segment table and the disk tier. Every write appends a new record to the
//     current mutable region and publishes its address in the index, records are never updated
//     in place.
//
//   - Hash index (internal/index): Maps a key to the address of its current record. Buckets are
//     singly linked chains reached through atomically swapped head pointers, lookups are
//     wait-free and all mutations are compare-and-swap operations. The bucket count is fixed at
//     creation.
//
//   - Log addresses (internal/address): A record location packed into 64 bits: kind (log segment
//     or disk file), tombstone flag, segment/file id and byte offset. Log addresses do not name
//     their tier. The segment table resolves them to the mutable buffer or the sealed mapping, so
//     sealing a segment never touches the index.
//
//   - Regions (internal/region): Mutable regions reserve space with one atomic add on their tail.
//     Sealed regions are written to seg-<id>.ro files and mapped read-only, every read verifies
//     the record checksum. Disk files (dat-<id>.disk) are reference counted and read through
//     futures with a deadline, so no guard is held across disk I/O.
//
//   - Epoch manager (internal/epoch): Every access to region memory runs between Pin and Unpin.
//     Whoever unlinks a buffer, mapping or file hands its destructor to Defer. A destructor runs
//     once no guard that could still observe the object remains.
//
//   - Tier coordinator: A background goroutine that seals replaced mutable regions, migrates the
//     oldest sealed segments to disk when the read-only tier is over capacity or a segment aged
//     out, compacts disk files with many superseded records, unlinks removed index entries and
//     advances the epoch.
//
// Segment Lifecycle:
//
//	Active -> Sealing -> Sealed -> Migrating -> Retired
//
// A writer that finds the current region full (or past SealThreshold) installs a fresh region
// and queues the old one for sealing. Migration copies the records the index still points at to
// the disk tier and republishes them with compare-and-swap, so concurrent writers always win.
// Expired records and tombstones move to disk as tombstones: they shadow older versions of their
// key until the disk tier is compacted down to a single file.
//
// Durability:
//
// Sealed segments and disk files are written through temp file, fsync and rename and survive a
// restart: on open the engine scans all files and the record with the highest version wins per
// key. The mutable region is persisted on Close only. Crash consistency of the latest writes is
// the job of an external append-only log feeding Restore.
//
// Versions:
//
// Every record carries a version from one engine-wide counter. CompareAndSet compares against
// it, promotion of a disk record to memory assigns a fresh one. Two writers racing on the same
// key may publish their records in a different order than their versions; the index always
// holds the last published record, recovery picks the highest version.
//
// Usage Example:
//
//	store, err := hybridlog.NewHybridLog(&hybridlog.Options{Dir: "/var/lib/hkv"})
//	if err != nil {
//	  // handle error
//	}
//	defer store.Close()
//
//	ctx := context.Background()
//	store.Set(ctx, "user:1", []byte("alice"), 0)
//	store.Set(ctx, "session:1", []byte("token"), 30*time.Minute)
//
//	rec, ok, err := store.GetRecord(ctx, "user:1")
//	if ok {
//	  swapped, err := store.CompareAndSet(ctx, "user:1", rec.Version, []byte("bob"), 0)
//	}
//
//	store.Delete(ctx, "session:1")
package hybridlog
