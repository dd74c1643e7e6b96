package hybridlog

import (
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/record"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog/internal/region"
)

// FileReport summarizes one data file of a hybrid log directory
type FileReport struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"` // "segment" or "disk"
	ID         uint32 `json:"id"`
	Bytes      int64  `json:"bytes"`
	Records    int    `json:"records"`
	Tombstones int    `json:"tombstones"`
	Expired    int    `json:"expired"`
	MinVersion uint64 `json:"min_version"`
	MaxVersion uint64 `json:"max_version"`
	Err        error  `json:"-"` // first corruption, records after it are not counted
}

// Inspect walks every segment and disk file in dir in id order, verifies all checksums and
// calls fn with a report per file. It does not take the directory lock and never modifies
// files. Errors opening the directory or a file are returned, corruption is reported in
// FileReport.Err.
func Inspect(dir string, fn func(FileReport)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type file struct {
		kind region.FileKind
		id   uint32
		name string
	}
	var files []file
	for _, e := range entries {
		if kind, id := region.ParseFileName(e.Name()); kind == region.FileSegment || kind == region.FileDisk {
			files = append(files, file{kind, id, e.Name()})
		}
	}
	slices.SortFunc(files, func(a, b file) int {
		if a.kind != b.kind {
			return int(a.kind) - int(b.kind)
		}
		return int(a.id) - int(b.id)
	})

	now := time.Now().UnixNano()
	for _, f := range files {
		rep := FileReport{Name: f.name, ID: f.id}
		count := func(_ uint64, v record.View) bool {
			rep.Records++
			if v.Tombstone() {
				rep.Tombstones++
			} else if v.Expired(now) {
				rep.Expired++
			}
			if ver := v.Version(); rep.MinVersion == 0 || ver < rep.MinVersion {
				rep.MinVersion = ver
			}
			if ver := v.Version(); ver > rep.MaxVersion {
				rep.MaxVersion = ver
			}
			return true
		}

		switch f.kind {
		case region.FileSegment:
			rep.Kind = "segment"
			s, err := region.OpenSealed(filepath.Join(dir, f.name), f.id)
			if err != nil {
				return err
			}
			rep.Bytes = int64(s.Size())
			rep.Err = s.Iterate(count)
			s.Close()

		case region.FileDisk:
			rep.Kind = "disk"
			d, err := region.OpenDisk(dir, 0, 0)
			if err != nil {
				return err
			}
			if err := d.Adopt(f.id); err != nil {
				d.Close()
				return err
			}
			rep.Bytes = d.Size()
			rep.Err = d.Iterate(f.id, count)
			d.Close()
		}
		fn(rep)
	}
	return nil
}
