package pairing

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"p2pxfer/models"
	"p2pxfer/transport"
)

// perMessageTimeout and sessionTimeout are the two timeout tiers spec.md
// §4.4 defines: each individual message must arrive within 30s, and the
// whole exchange (including the human verification pause) must complete
// within 120s.
const (
	perMessageTimeout = 30 * time.Second
	sessionTimeout    = 120 * time.Second
)

// Confirmer asks the local user to confirm a displayed verification code
// matches what the peer's user sees out-of-band, and returns their
// decision. It is the one human-in-the-loop seam this package depends on;
// a GUI or CLI front end supplies the implementation.
type Confirmer interface {
	Confirm(ctx context.Context, code string, peer models.EndpointId, peerDisplayName string) (accepted bool, err error)
}

type stream interface {
	io.Reader
	io.Writer
}

// Initiate runs the Initiator role of the pairing protocol over an
// already-open bidirectional stream on ALPN p2p/pair/1, returning a
// PeerRecord only on mutual acceptance.
func Initiate(ctx context.Context, s stream, self models.EndpointId, selfDisplayName string, confirmer Confirmer) (models.PeerRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	nonceA, err := randomNonce()
	if err != nil {
		return models.PeerRecord{}, fmt.Errorf("pairing: generate nonce: %w", err)
	}

	if err := writeWithDeadline(ctx, s, newHello(self, selfDisplayName, nonceA)); err != nil {
		return models.PeerRecord{}, err
	}

	var ack HelloAck
	if err := readWithDeadline(ctx, s, &ack); err != nil {
		return models.PeerRecord{}, err
	}
	if ack.Type != msgHelloAck {
		return models.PeerRecord{}, fmt.Errorf("%w: expected hello_ack, got %q", ErrProtocol, ack.Type)
	}

	return runCodeAndConfirm(ctx, s, self, ack.EndpointID, ack.DisplayName, nonceA, ack.NonceB, self, ack.EndpointID, confirmer)
}

// Respond runs the Responder role of the pairing protocol.
func Respond(ctx context.Context, s stream, self models.EndpointId, selfDisplayName string, confirmer Confirmer) (models.PeerRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	var hello Hello
	if err := readWithDeadline(ctx, s, &hello); err != nil {
		return models.PeerRecord{}, err
	}
	if hello.Type != msgHello {
		return models.PeerRecord{}, fmt.Errorf("%w: expected hello, got %q", ErrProtocol, hello.Type)
	}

	nonceB, err := randomNonce()
	if err != nil {
		return models.PeerRecord{}, fmt.Errorf("pairing: generate nonce: %w", err)
	}

	if err := writeWithDeadline(ctx, s, newHelloAck(self, selfDisplayName, nonceB)); err != nil {
		return models.PeerRecord{}, err
	}

	return runCodeAndConfirm(ctx, s, self, hello.EndpointID, hello.DisplayName, hello.NonceA, nonceB, hello.EndpointID, self, confirmer)
}

// runCodeAndConfirm derives and exchanges the verification code and the
// final accept/decline, then assembles the resulting PeerRecord. initiator
// and responder must be passed in protocol role order (Hello's sender,
// HelloAck's sender) regardless of which one is the local side, since
// VerificationCode's digest is only reproducible if both peers hash the
// two EndpointIds in the same order.
func runCodeAndConfirm(ctx context.Context, s stream, self, peer models.EndpointId, peerDisplayName string, nonceA, nonceB [16]byte, initiator, responder models.EndpointId, confirmer Confirmer) (models.PeerRecord, error) {
	code := VerificationCode(nonceA, nonceB, initiator, responder)

	// The initiator writes each message before reading the peer's and the
	// responder reads before writing, so neither side depends on the stream
	// buffering a frame the other side is not yet reading.
	exchange := func(out, in any) error {
		if self == responder {
			if err := readWithDeadline(ctx, s, in); err != nil {
				return err
			}
			return writeWithDeadline(ctx, s, out)
		}
		if err := writeWithDeadline(ctx, s, out); err != nil {
			return err
		}
		return readWithDeadline(ctx, s, in)
	}

	var peerCode Code
	if err := exchange(newCode(code), &peerCode); err != nil {
		return models.PeerRecord{}, err
	}
	if peerCode.Type != msgCode {
		return models.PeerRecord{}, fmt.Errorf("%w: expected code, got %q", ErrProtocol, peerCode.Type)
	}
	if peerCode.Code != code {
		_ = writeWithDeadline(ctx, s, newConfirm(false))
		return models.PeerRecord{}, ErrCodeMismatch
	}

	accepted, err := confirmer.Confirm(ctx, code, peer, peerDisplayName)
	if err != nil {
		_ = writeWithDeadline(ctx, s, newConfirm(false))
		return models.PeerRecord{}, fmt.Errorf("pairing: local confirmation: %w", err)
	}

	var peerConfirm Confirm
	if err := exchange(newConfirm(accepted), &peerConfirm); err != nil {
		return models.PeerRecord{}, err
	}
	if peerConfirm.Type != msgConfirm {
		return models.PeerRecord{}, fmt.Errorf("%w: expected confirm, got %q", ErrProtocol, peerConfirm.Type)
	}

	if !accepted || !peerConfirm.Accepted {
		return models.PeerRecord{}, ErrDeclined
	}

	now := time.Now()
	return models.PeerRecord{
		EndpointID:  peer,
		DisplayName: peerDisplayName,
		PairedAt:    now,
		LastSeen:    now,
	}, nil
}

func randomNonce() ([16]byte, error) {
	var n [16]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, err
	}
	return n, nil
}

func writeWithDeadline(ctx context.Context, s stream, msg any) error {
	if deadline, ok := ctx.Deadline(); ok {
		if sc, ok := s.(interface{ SetWriteDeadline(time.Time) error }); ok {
			msgDeadline := minTime(deadline, time.Now().Add(perMessageTimeout))
			_ = sc.SetWriteDeadline(msgDeadline)
		}
	}
	if err := transport.WriteFrame(s, msg); err != nil {
		return fmt.Errorf("pairing: %w", err)
	}
	return nil
}

func readWithDeadline(ctx context.Context, s stream, dst any) error {
	if deadline, ok := ctx.Deadline(); ok {
		if sc, ok := s.(interface{ SetReadDeadline(time.Time) error }); ok {
			msgDeadline := minTime(deadline, time.Now().Add(perMessageTimeout))
			_ = sc.SetReadDeadline(msgDeadline)
		}
	}
	if err := transport.ReadFrame(s, dst); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return fmt.Errorf("pairing: %w", err)
	}
	return nil
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
