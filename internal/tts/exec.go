package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execSynth runs a local voice (a piper or espeak wrapper, say) once per
// utterance. The process gets one utteranceRequest on stdin and answers with
// pcmLine JSON lines. Utterances are synthesized one at a time.
type execSynth struct {
	args       []string
	sampleRate int
	channels   int
	mu         sync.Mutex
}

type utteranceRequest struct {
	UtteranceID string `json:"utterance_id"`
	Text        string `json:"text"`
	Language    string `json:"language"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
}

type pcmLine struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
	Error     string `json:"error,omitempty"`
}

func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("tts command is empty")
	}
	return &execSynth{args: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) Name() string { return "exec" }

func (e *execSynth) Available() bool {
	_, err := exec.LookPath(e.args[0])
	return err == nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		e.mu.Lock()
		defer e.mu.Unlock()
		if err := e.run(ctx, req, chunks); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			errs <- err
		}
	}()
	return chunks, errs
}

func (e *execSynth) run(ctx context.Context, req SynthRequest, chunks chan<- SynthChunk) error {
	payload, err := json.Marshal(utteranceRequest{
		UtteranceID: req.SessionID,
		Text:        req.Text,
		Language:    req.Language,
		SampleRate:  e.sampleRate,
		Channels:    e.channels,
	})
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.args[0], e.args[1:]...)
	cmd.Stdin = bytes.NewReader(append(payload, '\n'))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("tts stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start tts command: %w", err)
	}
	streamErr := e.stream(ctx, req.SessionID, stdout, chunks)
	if streamErr != nil {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()
	switch {
	case streamErr != nil:
		return streamErr
	case waitErr != nil:
		return fmt.Errorf("tts command exited: %w: %s", waitErr, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

func (e *execSynth) stream(ctx context.Context, utteranceID string, stdout io.Reader, chunks chan<- SynthChunk) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	sequence := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var out pcmLine
		if err := json.Unmarshal(line, &out); err != nil {
			return fmt.Errorf("decode tts line: %w", err)
		}
		if out.Error != "" {
			return fmt.Errorf("tts backend: %s", out.Error)
		}
		pcm, err := base64.StdEncoding.DecodeString(out.PCMBase64)
		if err != nil {
			return fmt.Errorf("decode tts pcm: %w", err)
		}
		chunk := SynthChunk{
			SessionID:  utteranceID,
			Sequence:   sequence,
			SampleRate: e.sampleRate,
			Channels:   e.channels,
			PCM:        pcm,
			Final:      out.Final,
		}
		select {
		case chunks <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
		sequence++
	}
	return scanner.Err()
}
