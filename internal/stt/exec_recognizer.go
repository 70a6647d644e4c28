package stt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/loqalabs/voicepay/internal/config"
	"github.com/mattn/go-shellwords"
)

type execRecognizer struct {
	cmd []string
	cfg config.STTConfig
}

// One JSON object per stdout line.
type execResult struct {
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// NewExecRecognizer runs a long-lived capture process that reads the
// microphone and prints results as JSON lines until it is killed.
func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Name() string { return "exec" }

func (r *execRecognizer) Available() bool {
	_, err := exec.LookPath(r.cmd[0])
	return err == nil
}

func (r *execRecognizer) Recognize(ctx context.Context) (<-chan Result, error) {
	args := append([]string{}, r.cmd[1:]...)
	if r.cfg.Language != "" {
		args = append(args, "--language", r.cfg.Language)
	}
	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	stdout, err := command.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stt stdout: %w", err)
	}
	if err := command.Start(); err != nil {
		return nil, fmt.Errorf("start stt command: %w", err)
	}

	results := make(chan Result, 16)
	go func() {
		defer close(results)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var resp execResult
			var res Result
			if err := json.Unmarshal(line, &resp); err != nil {
				res = Result{Err: fmt.Errorf("decode stt line: %w", err)}
			} else if resp.Error != "" {
				res = Result{Err: fmt.Errorf("stt backend: %s", resp.Error)}
			} else {
				res = Result{Text: resp.Text, Final: resp.Final, Confidence: resp.Confidence}
			}
			select {
			case results <- res:
			case <-ctx.Done():
			}
		}
		if err := command.Wait(); err != nil && ctx.Err() == nil {
			select {
			case results <- Result{Err: fmt.Errorf("stt command exited: %w: %s", err, stderr.String())}:
			default:
			}
		}
	}()
	return results, nil
}
