package ssz

import "testing"

// Bitvector backs beacon.State.JustificationBits, a 4-bit fixed vector the
// startup health check reads to decide whether the chain has justified
// recently. Bitlist has no current caller in this daemon (nothing here
// aggregates attestation-style bitfields), so its coverage stays minimal:
// enough to confirm the sentinel-bit convention round trips correctly.

func TestBitvectorFromBytesDecodesJustificationBitsShape(t *testing.T) {
	bv, err := BitvectorFromBytes([]byte{0b00000101}, 4)
	if err != nil {
		t.Fatalf("BitvectorFromBytes: %v", err)
	}
	if bv.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", bv.Len())
	}
	if !bv.Get(0) || bv.Get(1) || !bv.Get(2) || bv.Get(3) {
		t.Fatal("unexpected bit pattern decoded from 0b00000101")
	}
	if bv.IsZero() {
		t.Fatal("expected non-zero bitvector")
	}
	if bv.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", bv.Count())
	}
}

func TestBitvectorFromBytesRejectsShortBuffer(t *testing.T) {
	if _, err := BitvectorFromBytes([]byte{}, 4); err == nil {
		t.Fatal("expected an error when the buffer is too short for the bit length")
	}
}

func TestBitvectorAllZeroIsZero(t *testing.T) {
	bv, err := BitvectorFromBytes([]byte{0}, 4)
	if err != nil {
		t.Fatalf("BitvectorFromBytes: %v", err)
	}
	if !bv.IsZero() {
		t.Fatal("expected a zero bitvector for an all-zero byte")
	}
}

func TestBitvectorSetAndClearRoundTrip(t *testing.T) {
	bv, err := NewBitvector(4)
	if err != nil {
		t.Fatalf("NewBitvector: %v", err)
	}
	bv.Set(1)
	if !bv.Get(1) {
		t.Fatal("expected bit 1 set after Set")
	}
	bv.Clear(1)
	if bv.Get(1) {
		t.Fatal("expected bit 1 clear after Clear")
	}
}

func TestBitlistSentinelRoundTrip(t *testing.T) {
	bl, err := NewBitlist(5)
	if err != nil {
		t.Fatalf("NewBitlist: %v", err)
	}
	bl.Set(2)

	decoded, err := BitlistFromBytes(bl.Bytes())
	if err != nil {
		t.Fatalf("BitlistFromBytes: %v", err)
	}
	if decoded.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", decoded.Len())
	}
	if !decoded.Get(2) {
		t.Fatal("expected bit 2 set after round trip")
	}
	if decoded.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", decoded.Count())
	}
}
