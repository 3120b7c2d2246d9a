package contracts

import (
	"bytes"
	"math/big"
	"testing"

	blst "github.com/supranational/blst/bindings/go"
)

func validTestPubkey(t *testing.T) [48]byte {
	t.Helper()
	ikm := bytes.Repeat([]byte{0x42}, 32)
	sk := blst.KeyGen(ikm)
	if sk == nil {
		t.Fatalf("blst.KeyGen failed")
	}
	compressed := new(blst.P1Affine).From(sk).Compress()
	var out [48]byte
	copy(out[:], compressed)
	return out
}

func TestValidatePubkeyAcceptsWellFormedKey(t *testing.T) {
	pk := validTestPubkey(t)
	if err := ValidatePubkey(pk); err != nil {
		t.Fatalf("expected valid pubkey to pass, got %v", err)
	}
}

func TestValidatePubkeyRejectsAllZero(t *testing.T) {
	var pk [48]byte
	if err := ValidatePubkey(pk); err == nil {
		t.Fatalf("expected all-zero pubkey to fail decompression")
	}
}

func TestValidatePubkeyRejectsGarbageBytes(t *testing.T) {
	var pk [48]byte
	for i := range pk {
		pk[i] = byte(i + 1)
	}
	if err := ValidatePubkey(pk); err == nil {
		t.Fatalf("expected garbage bytes to fail as a non-curve-point encoding")
	}
}

func TestDecodeCalldataSubmitReportData(t *testing.T) {
	payload := struct {
		DataFormat *big.Int
		Data       []byte
	}{DataFormat: big.NewInt(1), Data: []byte{0xde, 0xad, 0xbe, 0xef}}

	packed, err := submitReportDataMethod.Inputs.Pack(payload, big.NewInt(3))
	if err != nil {
		t.Fatalf("pack submitReportData args: %v", err)
	}
	input := append(append([]byte{}, submitReportDataMethod.ID...), packed...)

	got, err := DecodeCalldata(input)
	if err != nil {
		t.Fatalf("DecodeCalldata: %v", err)
	}
	if got.DataFormat != 1 || !bytes.Equal(got.Data, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("unexpected decode result: %+v", got)
	}
}

func TestDecodeCalldataSubmitExitRequestsDataFallback(t *testing.T) {
	payload := struct {
		DataFormat *big.Int
		Data       []byte
	}{DataFormat: big.NewInt(2), Data: []byte{0x01, 0x02}}

	packed, err := submitExitRequestsDataMethod.Inputs.Pack(payload)
	if err != nil {
		t.Fatalf("pack submitExitRequestsData args: %v", err)
	}
	input := append(append([]byte{}, submitExitRequestsDataMethod.ID...), packed...)

	got, err := DecodeCalldata(input)
	if err != nil {
		t.Fatalf("DecodeCalldata: %v", err)
	}
	if got.DataFormat != 2 || !bytes.Equal(got.Data, []byte{0x01, 0x02}) {
		t.Fatalf("unexpected decode result: %+v", got)
	}
}

func TestDecodeCalldataUnrecognizedSelector(t *testing.T) {
	input := []byte{0xaa, 0xbb, 0xcc, 0xdd, 0x00, 0x00}
	if _, err := DecodeCalldata(input); err == nil {
		t.Fatalf("expected unrecognized selector to error")
	}
}

func TestDecodeCalldataTooShortIsUnrecognized(t *testing.T) {
	if _, err := DecodeCalldata([]byte{0x01, 0x02}); err == nil {
		t.Fatalf("expected short input to error")
	}
}

func TestSameSelectorComparesByteForByte(t *testing.T) {
	a := []byte{1, 2, 3, 4}
	b := []byte{1, 2, 3, 4}
	c := []byte{1, 2, 3, 5}
	if !sameSelector(a, b) {
		t.Fatalf("expected equal selectors to match")
	}
	if sameSelector(a, c) {
		t.Fatalf("expected differing selectors to not match")
	}
}
