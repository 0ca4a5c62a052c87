// Package cuckoo implements the compact membership sketch the blocklist
// subsystem uses to avoid a KV round trip on most requests (spec §4.6.5).
//
// No cuckoo-filter library appears anywhere in the example corpus, so this
// is a from-scratch implementation rather than an adaptation of teacher
// code; it leans on github.com/cespare/xxhash/v2 (already an indirect
// dependency of the teacher via go-redis) for fingerprint and bucket
// hashing instead of hand-rolling a hash function too.
package cuckoo

import (
	"encoding/binary"
	"errors"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

const (
	bucketSize  = 4
	maxKicks    = 500
	fpBits      = 16
	magic       = 0x43554b31 // "CUK1"
	formatVers1 = 1
)

// Filter is a standard cuckoo filter: each of numBuckets buckets holds up to
// bucketSize 16-bit fingerprints. No false negatives: Contains never
// returns false for a key that was successfully Added and never Removed.
type Filter struct {
	buckets    [][bucketSize]uint16
	numBuckets uint64
	count      int
}

// New creates an empty filter sized for at least capacity items (rounded up
// internally to a power of two number of buckets).
func New(capacity int) *Filter {
	if capacity <= 0 {
		capacity = 1
	}
	numBuckets := nextPow2(uint64((capacity + bucketSize - 1) / bucketSize))
	if numBuckets == 0 {
		numBuckets = 1
	}
	return &Filter{
		buckets:    make([][bucketSize]uint16, numBuckets),
		numBuckets: numBuckets,
	}
}

func nextPow2(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	if bits.OnesCount64(v) == 1 {
		return v
	}
	return 1 << bits.Len64(v)
}

func (f *Filter) Size() int     { return f.count }
func (f *Filter) Capacity() int { return int(f.numBuckets) * bucketSize }

// EstimatedFPR approximates the filter's false-positive rate from its
// fingerprint width, per the standard cuckoo-filter bound (Fan et al.,
// "Cuckoo Filter: Practically Better Than Bloom", 2014): each lookup
// compares against 2*bucketSize candidate slots.
func (f *Filter) EstimatedFPR() float64 {
	return float64(2*bucketSize) / float64(uint64(1)<<fpBits)
}

func fingerprintAndIndex(key string, numBuckets uint64) (fp uint16, i1, i2 uint64) {
	h := xxhash.Sum64String(key)
	fp = uint16(h&0xFFFF) | 1 // never zero; zero marks an empty slot
	i1 = h % numBuckets
	fph := xxhash.Sum64String(string(rune(fp)))
	i2 = (i1 ^ fph) % numBuckets
	return
}

func altIndex(i uint64, fp uint16, numBuckets uint64) uint64 {
	fph := xxhash.Sum64String(string(rune(fp)))
	return (i ^ fph) % numBuckets
}

// Add inserts key, returning false if the filter is full (spec: "Insertions
// may fail when the filter is full; on failure the caller logs and falls
// back to KV verification").
func (f *Filter) Add(key string) bool {
	fp, i1, i2 := fingerprintAndIndex(key, f.numBuckets)

	if f.insertInto(i1, fp) || f.insertInto(i2, fp) {
		f.count++
		return true
	}

	// Both candidate buckets are full: evict to make room (cuckoo kick).
	type kick struct {
		bucket uint64
		slot   int
	}
	path := make([]kick, 0, maxKicks)
	i := i1
	curFp := fp
	for n := 0; n < maxKicks; n++ {
		slot := int(xxhash.Sum64String(string(rune(i)))%bucketSize) % bucketSize
		evicted := f.buckets[i][slot]
		f.buckets[i][slot] = curFp
		path = append(path, kick{bucket: i, slot: slot})
		curFp = evicted
		i = altIndex(i, curFp, f.numBuckets)
		if f.insertInto(i, curFp) {
			f.count++
			return true
		}
	}
	// Undo the kicks so every previously stored fingerprint is back in place
	// and only the new key is left out.
	for k := len(path) - 1; k >= 0; k-- {
		p := path[k]
		f.buckets[p.bucket][p.slot], curFp = curFp, f.buckets[p.bucket][p.slot]
	}
	return false
}

func (f *Filter) insertInto(bucket uint64, fp uint16) bool {
	b := &f.buckets[bucket]
	for i := range b {
		if b[i] == 0 {
			b[i] = fp
			return true
		}
	}
	return false
}

// Contains reports whether key may have been added. False positives are
// possible (target FPR <= 1%); false negatives are not.
func (f *Filter) Contains(key string) bool {
	fp, i1, i2 := fingerprintAndIndex(key, f.numBuckets)
	return bucketHas(f.buckets[i1], fp) || bucketHas(f.buckets[i2], fp)
}

func bucketHas(b [bucketSize]uint16, fp uint16) bool {
	for _, v := range b {
		if v == fp {
			return true
		}
	}
	return false
}

// Remove deletes key. It is only meaningful for keys previously Added.
func (f *Filter) Remove(key string) bool {
	fp, i1, i2 := fingerprintAndIndex(key, f.numBuckets)
	if removeFrom(&f.buckets[i1], fp) {
		f.count--
		return true
	}
	if removeFrom(&f.buckets[i2], fp) {
		f.count--
		return true
	}
	return false
}

func removeFrom(b *[bucketSize]uint16, fp uint16) bool {
	for i := range b {
		if b[i] == fp {
			b[i] = 0
			return true
		}
	}
	return false
}

// ToBuffer serializes the filter: magic, version, bucket count, then each
// bucket's fingerprints as little-endian uint16s (the item count is not
// stored; FromBuffer recounts the non-empty slots). The format is
// versioned per spec §9 so a rebuild worker and readers can detect skew.
func (f *Filter) ToBuffer() []byte {
	buf := make([]byte, 0, 16+int(f.numBuckets)*bucketSize*2)
	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], formatVers1)
	binary.LittleEndian.PutUint64(header[8:16], f.numBuckets)
	buf = append(buf, header...)

	for _, b := range f.buckets {
		for _, fp := range b {
			var fpBuf [2]byte
			binary.LittleEndian.PutUint16(fpBuf[:], fp)
			buf = append(buf, fpBuf[:]...)
		}
	}
	return buf
}

// FromBuffer deserializes a filter previously produced by ToBuffer.
func FromBuffer(data []byte) (*Filter, error) {
	if len(data) < 16 {
		return nil, errors.New("cuckoo: buffer too short")
	}
	if binary.LittleEndian.Uint32(data[0:4]) != magic {
		return nil, errors.New("cuckoo: bad magic")
	}
	if binary.LittleEndian.Uint32(data[4:8]) != formatVers1 {
		return nil, errors.New("cuckoo: unsupported format version")
	}
	numBuckets := binary.LittleEndian.Uint64(data[8:16])
	want := 16 + int(numBuckets)*bucketSize*2
	if len(data) != want {
		return nil, errors.New("cuckoo: truncated buffer")
	}

	f := &Filter{buckets: make([][bucketSize]uint16, numBuckets), numBuckets: numBuckets}
	off := 16
	count := 0
	for i := range f.buckets {
		for j := 0; j < bucketSize; j++ {
			fp := binary.LittleEndian.Uint16(data[off : off+2])
			off += 2
			f.buckets[i][j] = fp
			if fp != 0 {
				count++
			}
		}
	}
	f.count = count
	return f, nil
}
