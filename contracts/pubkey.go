package contracts

import (
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
)

// ValidatePubkey decompresses and subgroup-checks a 48-byte compressed G1
// point, rejecting malformed pubkeys before they're ever embedded in a
// ValidatorWitness or sent on-chain. An on-chain verifier call with a
// malformed pubkey simply reverts, wasting gas; checking here is cheap and
// catches malformed event data earlier in the accumulation pass.
func ValidatePubkey(pubkey [48]byte) error {
	p := new(blst.P1Affine).Uncompress(pubkey[:])
	if p == nil {
		return fmt.Errorf("contracts: pubkey is not a valid compressed G1 point")
	}
	if !p.KeyValidate() {
		return fmt.Errorf("contracts: pubkey fails G1 subgroup check")
	}
	return nil
}
