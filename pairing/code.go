package pairing

import (
	"encoding/binary"

	"github.com/zeebo/blake3"

	"p2pxfer/models"
)

// VerificationCode derives the 4-decimal-digit code both sides display,
// per spec.md §4.4: blake3(nonce_a || nonce_b || id_initiator ||
// id_responder), taking the first 4 decimal digits of the digest so that
// neither side can precompute the code before both nonces exist.
func VerificationCode(nonceA, nonceB [16]byte, initiator, responder models.EndpointId) string {
	h := blake3.New()
	h.Write(nonceA[:])
	h.Write(nonceB[:])
	h.Write(initiator[:])
	h.Write(responder[:])
	sum := h.Sum(nil)

	// first_4_decimal_digits: derive from the leading 8 bytes of the
	// digest as an integer, then take it mod 10000, zero-padded.
	n := binary.BigEndian.Uint64(sum[:8]) % 10000
	return padCode(n)
}

func padCode(n uint64) string {
	digits := [4]byte{}
	for i := 3; i >= 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[:])
}
