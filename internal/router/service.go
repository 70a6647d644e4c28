// Package router bridges the controller to the presenter: it publishes screen
// state on the bus and turns presenter button presses and microphone toggles,
// received over NATS or HTTP, into controller calls.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/voicepay/internal/bus"
	"github.com/loqalabs/voicepay/internal/command"
	"github.com/loqalabs/voicepay/internal/controller"
	"github.com/loqalabs/voicepay/internal/navigation"
	"github.com/loqalabs/voicepay/internal/protocol"
	"github.com/loqalabs/voicepay/internal/screen"
	"github.com/nats-io/nats.go"
)

// ErrInvalidCommand is returned for UI commands that do not name a known
// command or target.
var ErrInvalidCommand = errors.New("invalid ui command")

const requestTimeout = 5 * time.Second

// Presenter is the controller surface driven by the bridge.
type Presenter interface {
	Submit(ctx context.Context, cmd command.Command, epoch uint64) (navigation.Outcome, error)
	SetListening(ctx context.Context, on bool) (bool, error)
	View() controller.View
}

var _ Presenter = (*controller.Controller)(nil)

type Service struct {
	bus         *bus.Client
	presenter   Presenter
	logger      *slog.Logger
	subCommands *nats.Subscription
	subListen   *nats.Subscription
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	watchers    hub
	now         func() time.Time
}

// NewService creates the bridge. busClient may be nil, in which case only the
// HTTP routes are served.
func NewService(parent context.Context, busClient *bus.Client, presenter Presenter, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:       busClient,
		presenter: presenter,
		logger:    logger.With(slog.String("component", "router")),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

func (s *Service) Start() error {
	if s.bus == nil {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectUICommand, s.handleUICommand)
	if err != nil {
		return fmt.Errorf("subscribe ui commands: %w", err)
	}
	s.subCommands = sub

	subListen, err := s.bus.Conn().Subscribe(protocol.SubjectListen, s.handleListen)
	if err != nil {
		_ = s.subCommands.Drain()
		return fmt.Errorf("subscribe listen: %w", err)
	}
	s.subListen = subListen
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.subCommands != nil {
		_ = s.subCommands.Drain()
	}
	if s.subListen != nil {
		_ = s.subListen.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.bus == nil || (s.subCommands != nil && s.subListen != nil)
}

// Publish sends v to websocket watchers and on kiosk.screen. It is the
// controller's change hook and never blocks on the network.
func (s *Service) Publish(v controller.View) {
	st := StateOf(v, s.now())
	s.watchers.broadcast(st)
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishJSON(protocol.SubjectScreen, st); err != nil {
		s.logger.Warn("failed to publish screen state", slogError(err))
	}
}

// StateOf converts a controller view to the presenter wire format.
func StateOf(v controller.View, at time.Time) protocol.ScreenState {
	st := protocol.ScreenState{
		Screen:          v.Screen.String(),
		Epoch:           v.Epoch,
		Method:          v.Method,
		Amount:          v.Amount,
		ConfirmedAmount: v.ConfirmedAmount,
		Code:            v.Code,
		Warning:         v.Warning,
		HistoryCount:    v.HistoryCount,
		Listening:       v.Listening,
		Transcript:      v.Transcript,
		Speaking:        v.Speaking,
		Timestamp:       at.UTC(),
	}
	if v.Phase != screen.NoPhase {
		st.Phase = v.Phase.String()
	}
	return st
}

// ParseUICommand validates a presenter command.
func ParseUICommand(msg protocol.UICommand) (command.Command, error) {
	kind, ok := command.ParseKind(msg.Kind)
	if !ok || kind == command.Unrecognized {
		return command.Command{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, msg.Kind)
	}
	cmd := command.Command{Kind: kind, Digits: msg.Digits}
	switch kind {
	case command.Navigate:
		target, ok := screen.Parse(msg.Target)
		if !ok {
			return command.Command{}, fmt.Errorf("%w: unknown target %q", ErrInvalidCommand, msg.Target)
		}
		cmd.Target = target
	case command.SetAmountDigits:
		if msg.Digits == "" {
			return command.Command{}, fmt.Errorf("%w: digits required", ErrInvalidCommand)
		}
	}
	return cmd, nil
}

// apply submits a presenter command and builds the reply.
func (s *Service) apply(ctx context.Context, msg protocol.UICommand) (protocol.CommandResult, error) {
	cmd, err := ParseUICommand(msg)
	if err != nil {
		return protocol.CommandResult{Error: err.Error(), State: s.state()}, err
	}
	out, err := s.presenter.Submit(ctx, cmd, msg.Epoch)
	res := protocol.CommandResult{Applied: out.Changed, Reason: out.Reason, State: s.state()}
	switch {
	case errors.Is(err, navigation.ErrStaleCommand):
		res.Stale = true
		res.Error = err.Error()
	case err != nil:
		res.Error = err.Error()
	}
	return res, err
}

func (s *Service) state() protocol.ScreenState {
	return StateOf(s.presenter.View(), s.now())
}

func (s *Service) handleUICommand(msg *nats.Msg) {
	var req protocol.UICommand
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("router failed to decode ui command", slogError(err))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
		defer cancel()
		res, err := s.apply(ctx, req)
		if err != nil && !errors.Is(err, navigation.ErrStaleCommand) {
			s.logger.Warn("ui command failed", slog.String("kind", req.Kind), slogError(err))
		}
		s.respond(msg, res)
	}()
}

func (s *Service) handleListen(msg *nats.Msg) {
	var req protocol.ListenRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("router failed to decode listen request", slogError(err))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
		defer cancel()
		listening, err := s.presenter.SetListening(ctx, req.Listen)
		if err != nil {
			s.logger.Warn("listen request failed", slogError(err))
		}
		s.respond(msg, protocol.ListenRequest{Listen: listening})
	}()
}

func (s *Service) respond(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("router failed to marshal reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("router failed to respond", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
