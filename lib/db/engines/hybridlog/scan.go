package hybridlog

import (
	"context"
	"iter"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/index"
)

// defaultScanCount is the number of keys a scan aims for when the caller passes count <= 0
const defaultScanCount = 10

// Scan walks the index bucket by bucket. The cursor is the next bucket to visit, whole buckets
// are returned so a call may yield more than count keys. A key present during the whole scan
// lives in one fixed bucket and is therefore returned exactly once.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (h *hybridLog) Scan(ctx context.Context, cursor uint64, count int, match db.MatchFunc) (uint64, []string, error) {
	if err := h.enter(); err != nil {
		return 0, nil, err
	}
	defer h.exit()

	if count <= 0 {
		count = defaultScanCount
	}
	buckets := uint64(h.index.Buckets())
	if cursor >= buckets {
		return 0, nil, nil
	}

	var (
		keys  = make([]string, 0, count)
		slots []index.Slot
		i     = cursor
	)
	for ; i < buckets && len(keys) < count; i++ {
		if err := ctx.Err(); err != nil {
			return i, keys, err
		}
		slots = h.index.Collect(int(i), slots[:0])
		for _, s := range slots {
			if s.Addr.IsTombstone() || (match != nil && !match(s.Key)) {
				continue
			}
			// the slot may be stale, the record decides about expiry
			_, _, live, err := h.lookup(ctx, s.Key)
			if err != nil {
				return i, keys, err
			}
			if live {
				keys = append(keys, s.Key)
			}
		}
	}

	if i >= buckets {
		return 0, keys, nil
	}
	return i, keys, nil
}

// Snapshot yields a copy of every live record. Records written during the iteration may or
// may not be observed. A failing record is yielded with its error, iteration continues when the
// consumer keeps pulling.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (h *hybridLog) Snapshot(ctx context.Context) iter.Seq2[db.Record, error] {
	return func(yield func(db.Record, error) bool) {
		if err := h.enter(); err != nil {
			yield(db.Record{}, err)
			return
		}
		defer h.exit()

		var slots []index.Slot
		for b := 0; b < h.index.Buckets(); b++ {
			if err := ctx.Err(); err != nil {
				yield(db.Record{}, err)
				return
			}
			slots = h.index.Collect(b, slots[:0])
			for _, s := range slots {
				if s.Addr.IsTombstone() {
					continue
				}
				rec, _, live, err := h.lookup(ctx, s.Key)
				if err != nil {
					if !yield(db.Record{Key: s.Key}, err) {
						return
					}
					continue
				}
				if live && !yield(rec, nil) {
					return
				}
			}
		}
	}
}

// Restore writes every record of the sequence. A record keeps its version when it is newer
// than every version handed out so far, otherwise it gets a fresh one so versions stay unique.
// Tombstones delete their key. The first error of the sequence aborts the restore.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (h *hybridLog) Restore(ctx context.Context, records iter.Seq2[db.Record, error]) error {
	if err := h.enter(); err != nil {
		return err
	}
	defer h.exit()

	for rec, err := range records {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.checkRecord(rec.Key, rec.Value); err != nil {
			return err
		}

		rec.Version = h.claimVersion(rec.Version)
		addr, err := h.appendRecord(ctx, &rec, true)
		if err != nil {
			return err
		}
		old, _ := h.index.Update(rec.Key, addr)
		h.retire(old)
	}
	return nil
}

// claimVersion returns v if it is larger than every version handed out, a fresh version
// otherwise
func (h *hybridLog) claimVersion(v uint64) uint64 {
	for {
		cur := h.version.Load()
		if v <= cur {
			return h.version.Add(1)
		}
		if h.version.CompareAndSwap(cur, v) {
			return v
		}
	}
}
