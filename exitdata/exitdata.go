// Package exitdata decodes the packed exit-request payload carried by the
// oracle's submitReportData/submitExitRequestsData calldata: a flat run of
// fixed 64-byte records, no framing beyond the overall length.
package exitdata

import (
	"encoding/hex"
	"strings"

	"github.com/exitproof/verifier/errs"
)

// recordSize is moduleId(3) + nodeOpId(5) + validatorIndex(8) + pubkey(48).
const recordSize = 64

// Request is one decoded exit-request record plus its position within the
// batch it was decoded from, used to break ties when more than one request
// names the same validator.
type Request struct {
	ModuleID       uint32
	NodeOpID       uint64
	ValidatorIndex uint64
	Pubkey         [48]byte
	ExitDataIndex  int
}

// Decode parses a "0x"-prefixed (or bare) hex exit-request payload into its
// constituent 64-byte records. A length that isn't a multiple of recordSize
// is malformed input, not a transient condition.
func Decode(hexPayload string) ([]Request, error) {
	s := strings.TrimPrefix(hexPayload, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, errs.New(errs.KindMalformedExitData, err)
	}
	if len(raw)%recordSize != 0 {
		return nil, errs.Withf(errs.KindMalformedExitData, "exitdata: payload length %d is not a multiple of %d", len(raw), recordSize)
	}

	n := len(raw) / recordSize
	out := make([]Request, n)
	for i := 0; i < n; i++ {
		rec := raw[i*recordSize : (i+1)*recordSize]
		out[i] = Request{
			ModuleID:       beUint32(rec[0:3]),
			NodeOpID:       beUint64(rec[3:8]),
			ValidatorIndex: beUint64(rec[8:16]),
			ExitDataIndex:  i,
		}
		copy(out[i].Pubkey[:], rec[16:64])
	}
	return out, nil
}

func beUint32(b []byte) uint32 {
	var v uint32
	for _, x := range b {
		v = v<<8 | uint32(x)
	}
	return v
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
