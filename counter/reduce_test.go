package counter

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeKeys(t *testing.T, path string, keys []Key) {
	t.Helper()
	b := make([]byte, len(keys)*KeySize)
	for i, k := range keys {
		putKey(b[i*KeySize:], k)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestCountDistinct(t *testing.T) {
	tests := []struct {
		name string
		keys []Key
		want uint64
	}{
		{"empty", nil, 0},
		{"single", []Key{{Lo: 1}}, 1},
		{"all equal", []Key{{Lo: 7}, {Lo: 7}, {Lo: 7}}, 1},
		{"distinct", []Key{{Lo: 3}, {Lo: 1}, {Lo: 2}}, 3},
		{"hi and lo differ", []Key{{Hi: 1}, {Lo: 1}, {Hi: 1}, {Hi: 1, Lo: 1}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := countDistinct(tt.keys); got != tt.want {
				t.Errorf("countDistinct = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCountDistinctIdempotent(t *testing.T) {
	keys := []Key{{Lo: 5}, {Hi: 9}, {Lo: 5}, {Lo: 1}, {Hi: 9}}
	first := countDistinct(keys)
	if second := countDistinct(keys); second != first {
		t.Errorf("second pass = %d, first = %d", second, first)
	}

	dedup := []Key{keys[0]}
	for _, k := range keys[1:] {
		if k != dedup[len(dedup)-1] {
			dedup = append(dedup, k)
		}
	}
	if got := countDistinct(dedup); got != first {
		t.Errorf("deduplicated sequence = %d, want %d", got, first)
	}
}

func TestPartitionCountsSumToTotal(t *testing.T) {
	var all []Key
	byPart := make(map[int][]Key)
	for i := 0; i < 2000; i++ {
		k := Key{Hi: uint64(i%300) << 52, Lo: uint64(i % 700)}
		all = append(all, k)
		byPart[k.Partition()] = append(byPart[k.Partition()], k)
	}
	var sum uint64
	for _, keys := range byPart {
		sum += countDistinct(append([]Key(nil), keys...))
	}
	if total := countDistinct(all); sum != total {
		t.Errorf("sum of partition counts = %d, whole set = %d", sum, total)
	}
}

func TestReducePartition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-000.bin")
	writeKeys(t, path, []Key{{Lo: 1}, {Lo: 2}, {Lo: 1}, {Hi: 3}})

	got, err := reducePartition(path)
	if err != nil {
		t.Fatalf("reducePartition: %v", err)
	}
	if got != 3 {
		t.Errorf("count = %d, want 3", got)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("partition file not deleted: %v", err)
	}
}

func TestReducePartitionLargerThanReadChunk(t *testing.T) {
	n := readChunk/KeySize*2 + 3
	keys := make([]Key, n)
	for i := range keys {
		keys[i] = Key{Lo: uint64(i % 1000)}
	}
	path := filepath.Join(t.TempDir(), "part-001.bin")
	writeKeys(t, path, keys)

	got, err := reducePartition(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1000 {
		t.Errorf("count = %d, want 1000", got)
	}
}

func TestReducePartitionEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-002.bin")
	writeKeys(t, path, nil)

	got, err := reducePartition(path)
	if err != nil || got != 0 {
		t.Errorf("reducePartition = %d, %v; want 0, nil", got, err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("empty partition file not deleted: %v", err)
	}
}

func TestReducePartitionMissing(t *testing.T) {
	_, err := reducePartition(filepath.Join(t.TempDir(), "nope.bin"))
	if !errors.Is(err, errPartitionUnreadable) {
		t.Errorf("err = %v, want errPartitionUnreadable", err)
	}
}

func TestReducePartitionTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part-003.bin")
	if err := os.WriteFile(path, make([]byte, KeySize+5), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := reducePartition(path); !errors.Is(err, ErrCorruptPartition) {
		t.Errorf("err = %v, want ErrCorruptPartition", err)
	}
}
