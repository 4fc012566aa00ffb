package badger

import (
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Key prefixes. One byte keeps readings and aggregates in disjoint ranges of
// the same LSM tree.
const (
	prefixReading   byte = 'r'
	prefixAggregate byte = 'h'
)

const (
	readingKeyLen   = 1 + 8 + 8 + 8
	aggregateKeyLen = 1 + 8
)

// encodeTime maps a timestamp to 8 bytes that sort in time order, including
// instants before 1970.
func encodeTime(dst []byte, t time.Time) {
	binary.BigEndian.PutUint64(dst, uint64(t.UnixNano())^(1<<63))
}

func decodeTime(src []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(src)^(1<<63))).UTC()
}

// readingKey creates a sortable key: prefix + timestamp + run hash + sequence
// Format: [r][timestamp (8 bytes)][xxhash(run) (8 bytes)][seq (8 bytes)]
func readingKey(ts time.Time, runHash, seq uint64) []byte {
	key := make([]byte, readingKeyLen)
	key[0] = prefixReading
	encodeTime(key[1:9], ts)
	binary.BigEndian.PutUint64(key[9:17], runHash)
	binary.BigEndian.PutUint64(key[17:25], seq)
	return key
}

// aggregateKey is unique per hour, which makes a write an upsert.
// Format: [h][hour (8 bytes)]
func aggregateKey(hour time.Time) []byte {
	key := make([]byte, aggregateKeyLen)
	key[0] = prefixAggregate
	encodeTime(key[1:9], hour)
	return key
}

// timeBound returns prefix + encoded t, the smallest key at or after t.
func timeBound(prefix byte, t time.Time) []byte {
	key := make([]byte, 9)
	key[0] = prefix
	encodeTime(key[1:9], t)
	return key
}

// keyTime extracts the timestamp from either key kind.
func keyTime(key []byte) time.Time {
	return decodeTime(key[1:9])
}

func runHash(run string) uint64 {
	return xxhash.Sum64String(run)
}
