package counter

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/exp/mmap"
	"golang.org/x/exp/slices"
)

const readChunk = 64 * 1024 * KeySize

var (
	ErrCorruptPartition = errors.New("partition file length is not a multiple of the key size")

	errPartitionUnreadable = errors.New("partition file unreadable")
)

// reducePartition loads one staging file, counts its distinct keys and
// deletes it. An empty file is deleted without being read.
func reducePartition(path string) (uint64, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errPartitionUnreadable, err)
	}
	size := r.Len()
	if size%KeySize != 0 {
		_ = r.Close()
		return 0, fmt.Errorf("%s: %w (%d bytes)", path, ErrCorruptPartition, size)
	}

	keys, err := loadKeys(r, size)
	_ = r.Close()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	// a failed remove leaves the file to the staging directory cleanup
	_ = os.Remove(path)

	return countDistinct(keys), nil
}

// loadKeys decodes the mapped file through a bounded copy buffer, so a
// partition costs its key slice plus readChunk bytes rather than twice its size.
func loadKeys(r *mmap.ReaderAt, size int) ([]Key, error) {
	if size == 0 {
		return nil, nil
	}
	keys := make([]Key, size/KeySize)
	buf := make([]byte, min(size, readChunk))
	next := 0
	for off := 0; off < size; {
		n := min(len(buf), size-off)
		if _, err := r.ReadAt(buf[:n], int64(off)); err != nil {
			return nil, err
		}
		for i := 0; i < n; i += KeySize {
			keys[next] = readKey(buf[i:])
			next++
		}
		off += n
	}
	return keys, nil
}

// countDistinct sorts keys in place and counts the positions where a key
// differs from its predecessor.
func countDistinct(keys []Key) uint64 {
	if len(keys) == 0 {
		return 0
	}
	slices.SortFunc(keys, Key.Compare)
	uniq := uint64(1)
	for i := 1; i < len(keys); i++ {
		if keys[i] != keys[i-1] {
			uniq++
		}
	}
	return uniq
}
