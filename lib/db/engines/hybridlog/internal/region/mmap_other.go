//go:build !(linux || darwin || freebsd || openbsd || netbsd)

package region

import (
	"io"
	"os"
)

// mapFile reads the file into memory on platforms without mmap support
func mapFile(f *os.File, size int) ([]byte, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, err
	}
	return data, nil
}

func unmapFile([]byte) error {
	return nil
}

func syncDir(string) error {
	return nil
}

func lockFile(*os.File) error {
	return nil
}
