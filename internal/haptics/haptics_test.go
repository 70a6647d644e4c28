package haptics

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/loqalabs/voicepay/internal/protocol"
)

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
}

func (r *recordingPublisher) Publish(subject string, data []byte) error {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return nil
}

func TestPatternPulses(t *testing.T) {
	got := Payment.Pulses()
	want := []int{150, 75, 150, 75, 300}
	if len(got) != len(want) {
		t.Fatalf("Payment pulses = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Payment pulses = %v, want %v", got, want)
		}
	}
	got[0] = 1
	if Payment.Pulses()[0] != 150 {
		t.Fatal("Pulses must return a copy")
	}
	if Pattern("buzz").Pulses() != nil {
		t.Fatal("unknown pattern should have no pulses")
	}
}

func TestNoopIsUnavailable(t *testing.T) {
	if err := (Noop{}).Vibrate(context.Background(), Tap); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestBusVibratorPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	v := NewBusVibrator(pub, "kiosk-1")
	if err := v.Vibrate(context.Background(), Notification); err != nil {
		t.Fatalf("vibrate: %v", err)
	}
	if len(pub.subjects) != 1 || pub.subjects[0] != protocol.SubjectHapticRequest {
		t.Fatalf("unexpected subjects %v", pub.subjects)
	}
	var req protocol.HapticRequest
	if err := json.Unmarshal(pub.payloads[0], &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Target != "kiosk-1" || req.Pattern != "notification" || len(req.Pulses) != 3 {
		t.Fatalf("unexpected request %+v", req)
	}

	if err := v.Vibrate(context.Background(), Pattern("buzz")); err == nil {
		t.Fatal("expected error for unknown pattern")
	}
}

func TestExecVibratorRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecVibrator("   "); err == nil {
		t.Fatal("expected error for empty command")
	}
}
