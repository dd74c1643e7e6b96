package hybridlog

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/address"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/record"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/region"
)

type recoveryStats struct {
	files int
	keys  int
}

// recover rebuilds the index from the files in the data directory.
//
// Disk files are scanned first, then sealed segments, each in id order. For every key the record
// with the highest version wins, ties keep the record seen first. Leftover temp files of
// interrupted writes are deleted. Sealed segments are registered for migration again.
// A file that fails its checksum keeps the records before the damage indexed, reads of them
// report the corruption.
func (h *hybridLog) recover() (recoveryStats, error) {
	var stats recoveryStats

	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return stats, err
	}

	var segIDs, diskIDs []uint32
	for _, e := range entries {
		kind, id := region.ParseFileName(e.Name())
		switch kind {
		case region.FileTemp:
			log.Infof("removing leftover temp file %s", e.Name())
			if err := os.Remove(filepath.Join(h.dir, e.Name())); err != nil {
				return stats, err
			}
		case region.FileSegment:
			segIDs = append(segIDs, id)
		case region.FileDisk:
			diskIDs = append(diskIDs, id)
		}
	}
	slices.Sort(segIDs)
	slices.Sort(diskIDs)

	versions := make(map[string]uint64)
	var maxVersion uint64

	apply := func(v record.View, addr address.LogAddress) {
		version := v.Version()
		if version > maxVersion {
			maxVersion = version
		}
		if cur, ok := versions[string(v.Key())]; ok && cur >= version {
			h.markStale(addr)
			return
		}
		k := string(v.Key())
		versions[k] = version
		if addr.Kind() == address.KindDisk {
			h.statsFor(addr.ID()).current(addr, v.ExpireAt())
		}
		if old, existed := h.index.Update(k, addr); existed {
			h.markDead(old)
		}
	}

	for _, id := range diskIDs {
		if err := h.disk.Adopt(id); err != nil {
			return stats, err
		}
		fs := h.statsFor(id)
		err := h.disk.Iterate(id, func(off uint64, v record.View) bool {
			addr := address.Disk(id, off)
			if v.Tombstone() {
				addr = addr.WithTombstone()
			}
			fs.written(v.Version())
			apply(v, addr)
			return true
		})
		if err != nil {
			h.metrics.corruptions.Inc()
			log.Errorf("disk file %d: %v", id, err)
		}
		stats.files++
	}

	for _, id := range segIDs {
		r, err := region.OpenSealed(filepath.Join(h.dir, region.SegmentFileName(id)), id)
		if err != nil {
			return stats, err
		}
		s := openSegment(r)
		h.segments.Store(id, s)
		h.roBytes.Add(int64(r.Size()))

		err = r.Iterate(func(off uint64, v record.View) bool {
			addr := address.Log(id, off)
			if v.Tombstone() {
				addr = addr.WithTombstone()
			}
			s.records.Inc()
			s.noteVersion(v.Version())
			apply(v, addr)
			return true
		})
		if err != nil {
			h.metrics.corruptions.Inc()
			h.roBytes.Add(-int64(r.Size()))
			log.Errorf("segment %d: %v", id, err)
		} else {
			h.coord.track(s)
		}
		if id > h.nextSegment.Load() {
			h.nextSegment.Store(id)
		}
		stats.files++
	}

	h.version.Store(maxVersion)
	stats.keys = len(versions)
	return stats, nil
}
