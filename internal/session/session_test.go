package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dropwire/dropwire/internal/crypto"
	"github.com/dropwire/dropwire/internal/transport"
)

func TestHandshakeEncrypted(t *testing.T) {
	sa, sb, _, _ := newSessionPair(t, true)

	if sa.State() != StateOpen {
		t.Errorf("Expected offerer state open, got %s", sa.State())
	}
	if sb.State() != StateOpen {
		t.Errorf("Expected answerer state open, got %s", sb.State())
	}
	if sa.Role() != RoleOfferer {
		t.Error("Expected offerer role")
	}
	if sb.Role() != RoleAnswerer {
		t.Error("Expected answerer role")
	}
	if !sa.Encrypted() || !sb.Encrypted() {
		t.Error("Expected both sides to have encryption enabled")
	}
	if !bytes.Equal(sa.sharedKey, sb.sharedKey) {
		t.Error("Expected both sides to derive the same shared key")
	}
}

func TestHandshakePlaintext(t *testing.T) {
	sa, sb, _, _ := newSessionPair(t, false)

	if sa.Encrypted() || sb.Encrypted() {
		t.Error("Expected plaintext session on both sides")
	}
	if sa.State() != StateOpen || sb.State() != StateOpen {
		t.Error("Expected both sessions open")
	}
}

func TestPlaintextAnswerCarriesNoKey(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConnector{}
	s := New(conn, Options{Logger: quietLogger()})

	offerDesc, _ := json.Marshal(transport.Description{Type: "offer", SDP: "v=0"})
	offerBlob := base64.StdEncoding.EncodeToString(offerDesc)

	answer, err := s.AcceptOffer(ctx, offerBlob, "")
	if err != nil {
		t.Fatalf("AcceptOffer failed: %v", err)
	}
	if answer.PublicKey != "" {
		t.Error("Expected empty public key for plaintext session")
	}
}

func TestOfferBlobIsBase64JSONDescription(t *testing.T) {
	ctx := context.Background()
	a, _ := newChannelPair()
	conn := &fakeConnector{channel: a}
	s := New(conn, Options{Logger: quietLogger()})

	offer, err := s.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}

	data, err := base64.StdEncoding.DecodeString(offer.SDP)
	if err != nil {
		t.Fatalf("Offer blob is not base64: %v", err)
	}
	var desc transport.Description
	if err := json.Unmarshal(data, &desc); err != nil {
		t.Fatalf("Offer blob is not JSON: %v", err)
	}
	if desc.Type != "offer" {
		t.Errorf("Expected description type 'offer', got %q", desc.Type)
	}

	if _, err := crypto.ImportPublicKey(offer.PublicKey); err != nil {
		t.Errorf("Offer public key blob is not importable: %v", err)
	}
}

func TestCreateOfferTwiceRejected(t *testing.T) {
	ctx := context.Background()
	a, _ := newChannelPair()
	conn := &fakeConnector{channel: a}
	s := New(conn, Options{Logger: quietLogger()})

	if _, err := s.CreateOffer(ctx); err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}
	if _, err := s.CreateOffer(ctx); !errors.Is(err, ErrBadState) {
		t.Errorf("Expected ErrBadState, got %v", err)
	}
}

func TestAcceptAnswerWithoutOfferRejected(t *testing.T) {
	conn := &fakeConnector{}
	s := New(conn, Options{Logger: quietLogger()})

	err := s.AcceptAnswer(context.Background(), "blob", "")
	if !errors.Is(err, ErrBadState) {
		t.Errorf("Expected ErrBadState, got %v", err)
	}
}

func TestAcceptAnswerMalformedKey(t *testing.T) {
	ctx := context.Background()
	a, _ := newChannelPair()
	conn := &fakeConnector{channel: a}
	s := New(conn, Options{Logger: quietLogger()})

	if _, err := s.CreateOffer(ctx); err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}

	answerDesc, _ := json.Marshal(transport.Description{Type: "answer", SDP: "v=0"})
	answerBlob := base64.StdEncoding.EncodeToString(answerDesc)

	err := s.AcceptAnswer(ctx, answerBlob, "not a key blob")
	if !errors.Is(err, crypto.ErrKeyFormat) {
		t.Errorf("Expected ErrKeyFormat, got %v", err)
	}
}

func TestAcceptOfferMalformedBlob(t *testing.T) {
	conn := &fakeConnector{}
	s := New(conn, Options{Logger: quietLogger()})

	if _, err := s.AcceptOffer(context.Background(), "%%% not base64", ""); err == nil {
		t.Error("Expected error for malformed offer blob")
	}
}

func TestSendFileBeforeOpen(t *testing.T) {
	ctx := context.Background()
	a, _ := newChannelPair()
	conn := &fakeConnector{channel: a}
	s := New(conn, Options{Logger: quietLogger()})

	if _, err := s.CreateOffer(ctx); err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}

	_, err := s.SendFile(ctx, FileInfo{Name: "x", Size: 1}, bytes.NewReader([]byte{0}))
	if !errors.Is(err, ErrChannelNotReady) {
		t.Errorf("Expected ErrChannelNotReady, got %v", err)
	}
	if _, err := s.Calibrate(ctx); !errors.Is(err, ErrChannelNotReady) {
		t.Errorf("Expected ErrChannelNotReady from Calibrate, got %v", err)
	}
}

func TestDisconnectTeardown(t *testing.T) {
	sa, _, _, _ := newSessionPair(t, true)

	sa.Disconnect()

	if sa.State() != StateClosed {
		t.Errorf("Expected state closed, got %s", sa.State())
	}
	if sa.sharedKey != nil {
		t.Error("Expected key material to be wiped")
	}
	if sa.keys != nil {
		t.Error("Expected key pair to be dropped")
	}
	if sa.Encrypted() {
		t.Error("Expected encryption flag cleared")
	}
	if cfg := sa.Config(); cfg != DefaultTransferConfig() {
		t.Errorf("Expected config reset to defaults, got %+v", cfg)
	}
	if len(sa.inbound) != 0 || len(sa.probes) != 0 {
		t.Error("Expected accumulation and probe maps cleared")
	}

	ctx := context.Background()
	if _, err := sa.SendFile(ctx, FileInfo{Name: "x", Size: 1}, bytes.NewReader([]byte{0})); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after disconnect, got %v", err)
	}

	// Idempotent.
	sa.Disconnect()
	if sa.State() != StateClosed {
		t.Error("Expected state to remain closed")
	}
}

func TestWaitOpenTimeout(t *testing.T) {
	conn := &fakeConnector{}
	s := New(conn, Options{Logger: quietLogger()})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := s.WaitOpen(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestWaitOpenUnblockedByDisconnect(t *testing.T) {
	conn := &fakeConnector{}
	s := New(conn, Options{Logger: quietLogger()})

	done := make(chan error, 1)
	go func() {
		done <- s.WaitOpen(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	s.Disconnect()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitOpen not unblocked by Disconnect")
	}
}

func TestFatalConnectionStateTearsDown(t *testing.T) {
	ctx := context.Background()
	a, _ := newChannelPair()
	conn := &fakeConnector{channel: a}
	s := New(conn, Options{Logger: quietLogger()})

	var mu sync.Mutex
	var states []transport.State
	s.SubscribeNotices(func(n Notice) {
		if n.Kind == NoticeConnectionState {
			mu.Lock()
			states = append(states, n.State)
			mu.Unlock()
		}
	})

	if _, err := s.CreateOffer(ctx); err != nil {
		t.Fatalf("CreateOffer failed: %v", err)
	}

	conn.fireState(transport.StateFailed)

	if s.State() != StateClosed {
		t.Errorf("Expected session closed after failed state, got %s", s.State())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != 1 || states[0] != transport.StateFailed {
		t.Errorf("Expected one failed-state notice, got %v", states)
	}
}

func TestDegradedStateDoesNotTearDown(t *testing.T) {
	sa, _, _, _ := newSessionPair(t, false)

	conn := sa.conn.(*fakeConnector)
	conn.fireState(transport.StateDisconnected)

	if sa.State() != StateOpen {
		t.Errorf("Expected session to survive a disconnected state, got %s", sa.State())
	}
}

func TestSendMessagePassThrough(t *testing.T) {
	sa, sb, _, _ := newSessionPair(t, false)

	var mu sync.Mutex
	var raws []string
	sb.SubscribeNotices(func(n Notice) {
		if n.Kind == NoticeMessage {
			mu.Lock()
			raws = append(raws, string(n.Raw))
			mu.Unlock()
		}
	})

	err := sa.SendMessage(context.Background(), map[string]string{"type": "chat", "text": "hello"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(raws) != 1 {
		t.Fatalf("Expected 1 pass-through message, got %d", len(raws))
	}
	if !strings.Contains(raws[0], "chat") || !strings.Contains(raws[0], "hello") {
		t.Errorf("Expected verbatim payload, got %s", raws[0])
	}
}
