package beacon

import (
	"testing"

	"github.com/exitproof/verifier/ssz"
)

func testValidator(pubkeyByte byte) Validator {
	v := Validator{EffectiveBalance: 32_000_000_000}
	v.Pubkey[0] = pubkeyByte
	return v
}

func TestValidatorCacheKeyStableAndDistinct(t *testing.T) {
	a := testValidator(1)
	b := testValidator(2)

	if validatorCacheKey(a) != validatorCacheKey(a) {
		t.Fatal("validatorCacheKey is not deterministic for the same validator")
	}
	if validatorCacheKey(a) == validatorCacheKey(b) {
		t.Fatal("validatorCacheKey collided for distinct pubkeys")
	}
}

func TestCachedValidatorContainerRootNilCache(t *testing.T) {
	v := testValidator(3)
	got := cachedValidatorContainerRoot(nil, v)
	want := validatorContainerRoot(v)
	if got != want {
		t.Fatalf("nil-cache root = %x, want %x", got, want)
	}
}

func TestCachedValidatorContainerRootHitsCache(t *testing.T) {
	cache := ssz.NewMerkleCache(16)
	v := testValidator(4)

	first := cachedValidatorContainerRoot(cache, v)
	if first != validatorContainerRoot(v) {
		t.Fatal("first call returned wrong root")
	}

	if cache.Len() != 1 {
		t.Fatalf("cache.Len() = %d, want 1 after first lookup", cache.Len())
	}

	stats := cache.Stats()
	if stats.Misses != 1 {
		t.Fatalf("misses = %d, want 1", stats.Misses)
	}

	second := cachedValidatorContainerRoot(cache, v)
	if second != first {
		t.Fatal("second call returned a different root than the cached one")
	}

	stats = cache.Stats()
	if stats.Hits != 1 {
		t.Fatalf("hits = %d, want 1 after repeat lookup", stats.Hits)
	}
}

func TestCachedValidatorContainerRootDistinctValidatorsDontCollide(t *testing.T) {
	cache := ssz.NewMerkleCache(16)
	a := testValidator(5)
	b := testValidator(6)

	rootA := cachedValidatorContainerRoot(cache, a)
	rootB := cachedValidatorContainerRoot(cache, b)
	if rootA == rootB {
		t.Fatal("distinct validators produced the same container root")
	}
	if cache.Len() != 2 {
		t.Fatalf("cache.Len() = %d, want 2", cache.Len())
	}
}

func TestJustificationBitsDecodesFieldBytes(t *testing.T) {
	fields := make([][]byte, len(electraFields))
	for i := range fields {
		fields[i] = []byte{}
	}
	fields[fieldJustificationBits] = []byte{0b00001011}
	s := &State{fields: fields}

	bits, err := s.JustificationBits()
	if err != nil {
		t.Fatalf("JustificationBits: %v", err)
	}
	if bits.Len() != justificationBitsLength {
		t.Fatalf("Len() = %d, want %d", bits.Len(), justificationBitsLength)
	}
	if !bits.Get(0) || !bits.Get(1) || bits.Get(2) || !bits.Get(3) {
		t.Fatalf("unexpected bit pattern decoded from 0b00001011")
	}
	if bits.IsZero() {
		t.Fatal("expected non-zero bitvector")
	}
}

func TestJustificationBitsAllZeroIsZero(t *testing.T) {
	fields := make([][]byte, len(electraFields))
	for i := range fields {
		fields[i] = []byte{}
	}
	fields[fieldJustificationBits] = []byte{0}
	s := &State{fields: fields}

	bits, err := s.JustificationBits()
	if err != nil {
		t.Fatalf("JustificationBits: %v", err)
	}
	if !bits.IsZero() {
		t.Fatal("expected zero bitvector")
	}
}
