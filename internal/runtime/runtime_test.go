package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/voicepay/internal/config"
	"github.com/loqalabs/voicepay/internal/protocol"
	"github.com/loqalabs/voicepay/internal/transactions"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Bus.Enabled = false
	cfg.STT.Enabled = true
	cfg.STT.Mode = "mock"
	cfg.TTS.Enabled = true
	cfg.TTS.Mode = "mock"
	cfg.Transactions.Path = filepath.Join(dir, "transactions.db")
	cfg.EventStore.Path = filepath.Join(dir, "events.db")
	cfg.Kiosk.GreetingDelayMS = 10
	cfg.Kiosk.SuccessTimeoutMS = 200
	return cfg
}

func startKiosk(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	k, err := buildKiosk(ctx, cfg, newLogger())
	if err != nil {
		cancel()
		t.Fatalf("build kiosk: %v", err)
	}
	if err := k.start(ctx); err != nil {
		cancel()
		k.close()
		t.Fatalf("start kiosk: %v", err)
	}
	rt := New(cfg, "test", newLogger())
	rt.kiosk = k
	rt.ready.Store(true)
	srv := httptest.NewServer(rt.routes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		k.close()
	})
	return srv
}

func post(t *testing.T, url, body string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func waitState(t *testing.T, base, what string, cond func(protocol.ScreenState) bool) protocol.ScreenState {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		var st protocol.ScreenState
		get(t, base+"/api/state", &st)
		if cond(st) {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
	return protocol.ScreenState{}
}

func TestKioskVoicePayment(t *testing.T) {
	srv := startKiosk(t, testConfig(t))

	var listen protocol.ListenRequest
	if status := post(t, srv.URL+"/api/listen", `{"listen":true}`, &listen); status != http.StatusOK || !listen.Listen {
		t.Fatalf("expected listening, got %d %+v", status, listen)
	}

	say := func(text string) {
		t.Helper()
		if status := post(t, srv.URL+"/debug/say", `{"text":"`+text+`"}`, nil); status != http.StatusAccepted {
			t.Fatalf("say %q: status %d", text, status)
		}
	}

	say("tap")
	waitState(t, srv.URL, "tap screen", func(st protocol.ScreenState) bool { return st.Screen == "tap" })
	say("tap 1 5 0 0 0")
	waitState(t, srv.URL, "amount", func(st protocol.ScreenState) bool { return st.Amount == 15000 })
	say("tap 1 5 0 0 0 aktifkan")
	waitState(t, srv.URL, "waiting phase", func(st protocol.ScreenState) bool { return st.Phase == "waiting" })
	say("tap 1 5 0 0 0 aktifkan bayar")
	waitState(t, srv.URL, "success", func(st protocol.ScreenState) bool { return st.Screen == "success" })

	deadline := time.Now().Add(3 * time.Second)
	var list []transactions.Transaction
	for time.Now().Before(deadline) {
		list = nil
		get(t, srv.URL+"/api/transactions", &list)
		if len(list) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(list) != 1 || list[0].Amount != "15000" || list[0].PaymentMethod != "tap" || list[0].Status != "success" {
		t.Fatalf("unexpected transactions %+v", list)
	}

	waitState(t, srv.URL, "return home", func(st protocol.ScreenState) bool { return st.Screen == "home" })
}

func TestKioskRoutes(t *testing.T) {
	srv := startKiosk(t, testConfig(t))

	if status := get(t, srv.URL+"/healthz", nil); status != http.StatusOK {
		t.Fatalf("healthz: %d", status)
	}
	if status := get(t, srv.URL+"/readyz", nil); status != http.StatusOK {
		t.Fatalf("readyz: %d", status)
	}

	var nodes []json.RawMessage
	if status := get(t, srv.URL+"/api/nodes", &nodes); status != http.StatusOK || len(nodes) != 0 {
		t.Fatalf("nodes without a bus: %d %v", status, nodes)
	}

	var entries []json.RawMessage
	if status := get(t, srv.URL+"/api/journal/unknown", &entries); status != http.StatusOK || len(entries) != 0 {
		t.Fatalf("journal for unknown session: %d %v", status, entries)
	}
	if status := get(t, srv.URL+"/api/journal/unknown?limit=zero", nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", status)
	}

	// Not listening yet.
	if status := post(t, srv.URL+"/debug/say", `{"text":"tap"}`, nil); status != http.StatusConflict {
		t.Fatalf("expected 409 while idle, got %d", status)
	}
}

func TestBuildKioskRejectsBrokenExecCommand(t *testing.T) {
	cfg := testConfig(t)
	cfg.Haptics.Enabled = true
	cfg.Haptics.Mode = "exec"
	cfg.Haptics.Command = `"unterminated`
	if _, err := buildKiosk(context.Background(), cfg, newLogger()); err == nil {
		t.Fatal("expected error for unparsable haptics command")
	}
}
