package model

import (
	"math/rand/v2"
	"sync"
	"time"
)

// The two memory kinds draw ids from disjoint thirds of the positive 64-bit
// space so that a backend which deduplicates ids globally can never collide
// a knowledge record with a reflection record. The partitioning is a durable
// contract: external tools reading raw payloads rely on it to tell the kinds
// apart without a separate field.
const (
	knowledgeIDBase  int64 = 1 << 61
	reflectionIDBase int64 = 2 << 61
	idRangeWidth     int64 = 1 << 61
)

var (
	idMu  sync.Mutex
	idRNG = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(time.Now().UnixNano()>>1)))
)

// NewID allocates a random id within the range of the given kind. Allocation
// is probabilistic: callers must treat an insert failure caused by an id
// collision as retryable rather than fatal.
func NewID(kind Kind) int64 {
	idMu.Lock()
	defer idMu.Unlock()

	offset := idRNG.Int64N(idRangeWidth)
	if kind == KindReflection {
		return reflectionIDBase + offset
	}
	return knowledgeIDBase + offset
}

// KindOfID reports which memory kind an id was allocated for
func KindOfID(id int64) Kind {
	if id >= reflectionIDBase {
		return KindReflection
	}
	return KindKnowledge
}
