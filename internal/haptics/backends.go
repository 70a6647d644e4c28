package haptics

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/loqalabs/voicepay/internal/protocol"
	"github.com/mattn/go-shellwords"
)

// Publisher is the subset of *nats.Conn used by the bus vibrator.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type busVibrator struct {
	pub    Publisher
	target string
}

// NewBusVibrator forwards patterns to a device agent listening on haptic.request.
func NewBusVibrator(pub Publisher, target string) Vibrator {
	return &busVibrator{pub: pub, target: target}
}

func (b *busVibrator) Name() string { return "bus" }

func (b *busVibrator) Vibrate(_ context.Context, p Pattern) error {
	vector := p.Pulses()
	if vector == nil {
		return fmt.Errorf("unknown haptic pattern %q", p)
	}
	data, err := json.Marshal(protocol.HapticRequest{Target: b.target, Pattern: string(p), Pulses: vector})
	if err != nil {
		return err
	}
	if err := b.pub.Publish(protocol.SubjectHapticRequest, data); err != nil {
		return fmt.Errorf("publish haptic request: %w", err)
	}
	return nil
}

type execVibrator struct {
	cmd []string
}

// NewExecVibrator runs command once per pattern with the pulse vector appended
// as a comma separated argument, e.g. "vibrate --pulses 150,75,150".
func NewExecVibrator(command string) (Vibrator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse haptics command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("haptics command is empty")
	}
	return &execVibrator{cmd: args}, nil
}

func (e *execVibrator) Name() string { return "exec" }

func (e *execVibrator) Vibrate(ctx context.Context, p Pattern) error {
	vector := p.Pulses()
	if vector == nil {
		return fmt.Errorf("unknown haptic pattern %q", p)
	}
	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.Itoa(v)
	}
	args := append(append([]string{}, e.cmd[1:]...), strings.Join(parts, ","))
	out, err := exec.CommandContext(ctx, e.cmd[0], args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("haptics command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
