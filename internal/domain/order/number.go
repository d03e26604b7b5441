package order

import (
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	numberAlphabet    = "0123456789abcdefghijklmnopqrstuvwxyz"
	numberSuffixLen   = 9
	numberMaxAttempts = 5
	numberFPR         = 0.0001
)

// NumberGenerator issues human readable order numbers of the form
// ORD-<unix millis>-<9 base36 chars>. Numbers are display labels, so a
// probable repeat is only re-rolled a few times, never guaranteed unique.
type NumberGenerator struct {
	mu       sync.Mutex
	now      func() time.Time
	rnd      *rand.Rand
	seen     *bloom.BloomFilter
	capacity uint
	issued   uint
}

// NewNumberGenerator returns a generator remembering up to capacity recently
// issued numbers.
func NewNumberGenerator(capacity uint) *NumberGenerator {
	return newNumberGenerator(capacity, time.Now, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

func newNumberGenerator(capacity uint, now func() time.Time, rnd *rand.Rand) *NumberGenerator {
	if capacity == 0 {
		capacity = 100_000
	}
	return &NumberGenerator{
		now:      now,
		rnd:      rnd,
		seen:     bloom.NewWithEstimates(capacity, numberFPR),
		capacity: capacity,
	}
}

// Next returns a new order number.
func (g *NumberGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.issued >= g.capacity {
		g.seen.ClearAll()
		g.issued = 0
	}

	var n string
	for range numberMaxAttempts {
		n = g.format()
		if !g.seen.TestAndAddString(n) {
			break
		}
	}
	g.issued++
	return n
}

func (g *NumberGenerator) format() string {
	var suffix [numberSuffixLen]byte
	for i := range suffix {
		suffix[i] = numberAlphabet[g.rnd.IntN(len(numberAlphabet))]
	}
	return "ORD-" + strconv.FormatInt(g.now().UnixMilli(), 10) + "-" + string(suffix[:])
}
