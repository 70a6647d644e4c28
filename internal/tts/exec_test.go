package tts

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func collect(chunks <-chan SynthChunk, errs <-chan error) ([]SynthChunk, error) {
	var got []SynthChunk
	for c := range chunks {
		got = append(got, c)
	}
	return got, <-errs
}

func TestExecSynthStreamsUtterance(t *testing.T) {
	requireShell(t)
	reqPath := filepath.Join(t.TempDir(), "request.json")
	script := `cat > "$0"; echo "{\"pcm_base64\":\"AQACAA==\"}"; echo; echo "{\"pcm_base64\":\"AwA=\",\"final\":true}"`
	synth, err := NewExecSynth("sh -c '"+script+"' "+reqPath, 22050, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	if !synth.Available() {
		t.Fatal("expected sh to be available")
	}

	chunks, err := collect(synth.Synthesize(context.Background(), SynthRequest{SessionID: "utt-1", Text: "Silakan ucapkan nominal", Language: "id-ID"}))
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(chunks) != 2 || string(chunks[0].PCM) != "\x01\x00\x02\x00" || chunks[1].Sequence != 1 || !chunks[1].Final {
		t.Fatalf("unexpected chunks %+v", chunks)
	}
	if chunks[0].SessionID != "utt-1" || chunks[0].SampleRate != 22050 || chunks[0].Channels != 1 {
		t.Fatalf("chunk metadata not carried: %+v", chunks[0])
	}

	data, err := os.ReadFile(reqPath)
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	var req utteranceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	want := utteranceRequest{UtteranceID: "utt-1", Text: "Silakan ucapkan nominal", Language: "id-ID", SampleRate: 22050, Channels: 1}
	if req != want {
		t.Fatalf("expected request %+v, got %+v", want, req)
	}
}

func TestExecSynthReportsFailures(t *testing.T) {
	requireShell(t)
	cases := []struct {
		name   string
		script string
		want   string
	}{
		{"backend error", `cat >/dev/null; echo "{\"error\":\"voice id-ID missing\"}"`, "voice id-ID missing"},
		{"bad line", `cat >/dev/null; echo not-json`, "decode tts line"},
		{"exit status", `cat >/dev/null; echo model not found >&2; exit 3`, "model not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			synth, err := NewExecSynth("sh -c '"+tc.script+"'", 16000, 1)
			if err != nil {
				t.Fatalf("new exec synth: %v", err)
			}
			_, err = collect(synth.Synthesize(context.Background(), SynthRequest{SessionID: "utt-2", Text: "Bayar", Language: "id-ID"}))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestExecSynthRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecSynth("   ", 16000, 1); err == nil {
		t.Fatal("expected error for empty command")
	}
}
