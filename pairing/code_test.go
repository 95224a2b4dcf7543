package pairing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"p2pxfer/models"
)

func TestVerificationCodeIsFourDigitsAndDeterministic(t *testing.T) {
	var nonceA, nonceB [16]byte
	nonceA[0], nonceB[0] = 0xAA, 0xBB
	var initiator, responder models.EndpointId
	initiator[0], responder[0] = 1, 2

	code := VerificationCode(nonceA, nonceB, initiator, responder)
	require.Len(t, code, 4)
	for _, r := range code {
		require.True(t, r >= '0' && r <= '9')
	}

	again := VerificationCode(nonceA, nonceB, initiator, responder)
	require.Equal(t, code, again)
}

func TestVerificationCodeDependsOnBothNoncesAndBothIDs(t *testing.T) {
	var nonceA, nonceB [16]byte
	nonceA[0], nonceB[0] = 0xAA, 0xBB
	var initiator, responder models.EndpointId
	initiator[0], responder[0] = 1, 2

	base := VerificationCode(nonceA, nonceB, initiator, responder)

	var otherNonceA [16]byte
	otherNonceA[0] = 0xCC
	require.NotEqual(t, base, VerificationCode(otherNonceA, nonceB, initiator, responder))

	var otherNonceB [16]byte
	otherNonceB[0] = 0xDD
	require.NotEqual(t, base, VerificationCode(nonceA, otherNonceB, initiator, responder))

	var otherInitiator models.EndpointId
	otherInitiator[0] = 9
	require.NotEqual(t, base, VerificationCode(nonceA, nonceB, otherInitiator, responder))

	require.NotEqual(t, base, VerificationCode(nonceA, nonceB, responder, initiator))
}
