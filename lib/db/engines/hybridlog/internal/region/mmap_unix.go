//go:build linux || darwin || freebsd || openbsd || netbsd

package region

import (
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps size bytes of f read-only
func mapFile(f *os.File, size int) ([]byte, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	// point reads through the index, readahead mostly wastes page cache
	_ = unix.Madvise(data, unix.MADV_RANDOM)
	return data, nil
}

func unmapFile(data []byte) error {
	return unix.Munmap(data)
}

// syncDir makes a rename in dir durable
func syncDir(dir string) error {
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return unix.Fsync(fd)
}

// lockFile takes a non-blocking exclusive advisory lock on f
func lockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}
