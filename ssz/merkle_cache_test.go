package ssz

import "testing"

// beacon.cachedValidatorContainerRoot (see beacon/proof_test.go) already
// exercises GetHash/PutHash/Len/Stats through the hit/miss path a proof
// batch drives. What isn't reachable from that integration path is
// capacity-bound eviction, which only matters once a state's validator set
// exceeds validatorMerkleCacheCapacity — covered directly here instead.

func TestMerkleCacheEvictsOldestHashAtCapacity(t *testing.T) {
	cache := NewMerkleCache(2)

	var k1, k2, k3 [32]byte
	k1[0], k2[0], k3[0] = 1, 2, 3

	cache.PutHash(k1, k1)
	cache.PutHash(k2, k2)
	cache.PutHash(k3, k3) // evicts k1, the oldest

	if _, ok := cache.GetHash(k1); ok {
		t.Fatal("expected k1 to be evicted once capacity was exceeded")
	}
	if _, ok := cache.GetHash(k2); !ok {
		t.Fatal("expected k2 to survive eviction")
	}
	if _, ok := cache.GetHash(k3); !ok {
		t.Fatal("expected k3 to survive as the most recent insert")
	}
	if cache.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", cache.Len())
	}
	if cache.Stats().Evictions != 1 {
		t.Fatalf("Evictions = %d, want 1", cache.Stats().Evictions)
	}
}

func TestMerkleCacheZeroCapacityNeverStores(t *testing.T) {
	cache := NewMerkleCache(0)
	var key [32]byte
	key[0] = 1

	cache.PutHash(key, key)
	if _, ok := cache.GetHash(key); ok {
		t.Fatal("a zero-capacity cache must never retain an entry")
	}
	if cache.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", cache.Len())
	}
}

func TestMerkleCacheUpdateInPlaceDoesNotEvict(t *testing.T) {
	cache := NewMerkleCache(1)
	var key, v1, v2 [32]byte
	key[0], v1[0], v2[0] = 1, 0xAA, 0xBB

	cache.PutHash(key, v1)
	cache.PutHash(key, v2) // same key again: update, not a second entry

	got, ok := cache.GetHash(key)
	if !ok || got != v2 {
		t.Fatalf("GetHash after update = (%x, %v), want (%x, true)", got, ok, v2)
	}
	if cache.Stats().Evictions != 0 {
		t.Fatalf("Evictions = %d, want 0", cache.Stats().Evictions)
	}
}

func TestMerkleCacheClearResetsStateAndStats(t *testing.T) {
	cache := NewMerkleCache(4)
	var key [32]byte
	key[0] = 1
	cache.PutHash(key, key)
	cache.GetHash(key)
	cache.GetHash([32]byte{0xFF})

	cache.Clear()

	if cache.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", cache.Len())
	}
	stats := cache.Stats()
	if stats.Hits != 0 || stats.Misses != 0 || stats.Evictions != 0 {
		t.Fatalf("stats not reset after Clear: %+v", stats)
	}
}
