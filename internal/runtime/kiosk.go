package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/loqalabs/voicepay/internal/bus"
	"github.com/loqalabs/voicepay/internal/capability"
	"github.com/loqalabs/voicepay/internal/config"
	"github.com/loqalabs/voicepay/internal/controller"
	"github.com/loqalabs/voicepay/internal/device"
	"github.com/loqalabs/voicepay/internal/eventstore"
	"github.com/loqalabs/voicepay/internal/haptics"
	"github.com/loqalabs/voicepay/internal/natsserver"
	"github.com/loqalabs/voicepay/internal/navigation"
	"github.com/loqalabs/voicepay/internal/prompts"
	"github.com/loqalabs/voicepay/internal/qris"
	"github.com/loqalabs/voicepay/internal/router"
	"github.com/loqalabs/voicepay/internal/stt"
	"github.com/loqalabs/voicepay/internal/transactions"
	"github.com/loqalabs/voicepay/internal/tts"
)

const pruneInterval = time.Hour

// kiosk holds the assembled components of one kiosk process.
type kiosk struct {
	cfg    config.Config
	logger *slog.Logger

	nats     *natsserver.EmbeddedServer
	bus      *bus.Client
	store    *transactions.Store
	ledger   transactions.Ledger
	journal  *eventstore.Store
	mockSTT  *stt.MockRecognizer
	ctrl     *controller.Controller
	bridge   *router.Service
	registry *capability.Registry

	speechIn  bool
	speechOut bool
	vibrator  haptics.Vibrator

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// buildKiosk wires every component from cfg. On error the components built so
// far are closed.
func buildKiosk(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *kiosk, err error) {
	k := &kiosk{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			k.close()
		}
	}()

	if cfg.Bus.Enabled {
		k.nats, err = natsserver.Start(cfg.Bus, logger)
		if err != nil {
			return nil, err
		}
		busCfg := cfg.Bus
		if url := k.nats.ClientURL(); url != "" {
			busCfg.Servers = []string{url}
		}
		k.bus, err = bus.Connect(ctx, busCfg, cfg.RuntimeName, logger)
		if err != nil {
			return nil, err
		}
	}

	switch cfg.Transactions.Mode {
	case "remote":
		k.ledger = transactions.NewClient(cfg.Transactions.BaseURL, time.Duration(cfg.Transactions.Timeout)*time.Millisecond)
	default:
		k.store, err = transactions.Open(ctx, cfg.Transactions.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open transactions: %w", err)
		}
		k.ledger = k.store
	}

	k.journal, err = eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	rec, err := k.recognizer()
	if err != nil {
		return nil, err
	}
	synth, err := k.synthesizer()
	if err != nil {
		return nil, err
	}
	sink, err := k.sink()
	if err != nil {
		return nil, err
	}
	k.vibrator, err = k.haptics()
	if err != nil {
		return nil, err
	}
	k.speechIn = rec.Available()
	k.speechOut = synth.Available()

	session := stt.NewSession(rec, device.NewHandle("microphone"), logger, stt.Options{Language: cfg.STT.Language})
	channel := tts.NewChannel(synth, sink, device.NewHandle("speaker"), logger, tts.Options{
		Voice:        cfg.TTS.Voice,
		ResumePolicy: cfg.TTS.ResumePolicy,
	})

	machine := navigation.New(navigation.Options{
		Prompts: prompts.New(cfg.Kiosk.Language),
		Codes: qris.NewBuilder(qris.Merchant{
			ID:   cfg.Kiosk.MerchantID,
			Name: cfg.Kiosk.MerchantName,
			City: cfg.Kiosk.MerchantCity,
		}),
		SuccessTimeout: time.Duration(cfg.Kiosk.SuccessTimeoutMS) * time.Millisecond,
		GreetingDelay:  time.Duration(cfg.Kiosk.GreetingDelayMS) * time.Millisecond,
	})

	// OnChange only fires from the controller loop, after the bridge exists.
	k.ctrl = controller.New(machine, session, channel, logger, controller.Options{
		Language:  cfg.Kiosk.Language,
		QueueSize: cfg.Kiosk.QueueSize,
		Vibrator:  k.vibrator,
		Ledger:    k.ledger,
		Journal:   k.journal,
		OnChange:  func(v controller.View) { k.bridge.Publish(v) },
	})
	k.bridge = router.NewService(ctx, k.bus, k.ctrl, logger)
	return k, nil
}

func (k *kiosk) recognizer() (stt.Recognizer, error) {
	if !k.cfg.STT.Enabled {
		return stt.Noop{}, nil
	}
	switch k.cfg.STT.Mode {
	case "mock":
		k.mockSTT = stt.NewMockRecognizer()
		return k.mockSTT, nil
	case "bus":
		return stt.NewBusRecognizer(k.bus.Conn(), k.cfg.STT.Source, k.logger), nil
	case "exec":
		rec, err := stt.NewExecRecognizer(k.cfg.STT)
		if err != nil {
			return nil, fmt.Errorf("stt: %w", err)
		}
		return rec, nil
	}
	return nil, fmt.Errorf("stt: unknown mode %q", k.cfg.STT.Mode)
}

func (k *kiosk) synthesizer() (tts.Synthesizer, error) {
	if !k.cfg.TTS.Enabled {
		return tts.Noop{}, nil
	}
	switch k.cfg.TTS.Mode {
	case "mock":
		return tts.NewMockSynth(k.cfg.TTS.SampleRate, k.cfg.TTS.Channels), nil
	case "bus":
		return tts.NewBusSynth(k.bus.Conn(), k.cfg.TTS.Target), nil
	case "exec":
		synth, err := tts.NewExecSynth(k.cfg.TTS.Command, k.cfg.TTS.SampleRate, k.cfg.TTS.Channels)
		if err != nil {
			return nil, fmt.Errorf("tts: %w", err)
		}
		return synth, nil
	}
	return nil, fmt.Errorf("tts: unknown mode %q", k.cfg.TTS.Mode)
}

// sink sends synthesized audio to the speaker agent over the bus and, when
// configured, records each utterance to disk.
func (k *kiosk) sink() (tts.Sink, error) {
	var sinks []tts.Sink
	// The bus synthesizer plays on the remote speaker itself.
	if k.bus != nil && k.cfg.TTS.Mode != "bus" {
		sinks = append(sinks, tts.NewBusSink(k.bus.Conn(), k.cfg.TTS.Target, k.logger))
	}
	if k.cfg.TTS.RecordDir != "" {
		rec, err := tts.NewRecorder(k.cfg.TTS.RecordDir, k.logger)
		if err != nil {
			return nil, fmt.Errorf("tts recorder: %w", err)
		}
		sinks = append(sinks, rec)
	}
	switch len(sinks) {
	case 0:
		return tts.Discard{}, nil
	case 1:
		return sinks[0], nil
	}
	return tts.Fanout(sinks...), nil
}

func (k *kiosk) haptics() (haptics.Vibrator, error) {
	if !k.cfg.Haptics.Enabled {
		return haptics.Noop{}, nil
	}
	switch k.cfg.Haptics.Mode {
	case "noop":
		return haptics.Noop{}, nil
	case "bus":
		return haptics.NewBusVibrator(k.bus.Conn(), k.cfg.Haptics.Target), nil
	case "exec":
		v, err := haptics.NewExecVibrator(k.cfg.Haptics.Command)
		if err != nil {
			return nil, fmt.Errorf("haptics: %w", err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("haptics: unknown mode %q", k.cfg.Haptics.Mode)
}

// start runs the controller loop and brings up the bus services.
func (k *kiosk) start(ctx context.Context) error {
	ctx, k.cancel = context.WithCancel(ctx)

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		if err := k.ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			k.logger.Error("controller stopped", slogError(err))
		}
	}()

	if err := k.bridge.Start(); err != nil {
		return fmt.Errorf("start router: %w", err)
	}

	if k.bus != nil {
		reg, err := capability.NewRegistry(ctx, k.cfg.Node, "kiosk", k.capabilities(), k.bus, k.logger)
		if err != nil {
			return fmt.Errorf("start capability registry: %w", err)
		}
		k.registry = reg
	}

	if k.journal.Enabled() {
		k.wg.Add(1)
		go k.pruneLoop(ctx)
	}
	return nil
}

func (k *kiosk) capabilities() []capability.Source {
	_, hapticsOff := k.vibrator.(haptics.Noop)
	return []capability.Source{
		{Name: capability.SpeechInput, Available: func() bool { return k.speechIn }, Attributes: capability.Attrs("mode", k.cfg.STT.Mode, "language", k.cfg.STT.Language)},
		{Name: capability.SpeechOutput, Available: func() bool { return k.speechOut }, Attributes: capability.Attrs("mode", k.cfg.TTS.Mode, "voice", k.cfg.TTS.Voice)},
		{Name: capability.Haptics, Available: func() bool { return !hapticsOff }, Attributes: capability.Attrs("mode", k.cfg.Haptics.Mode)},
		{Name: capability.PaymentQRIS, Attributes: capability.Attrs("merchant_id", k.cfg.Kiosk.MerchantID)},
		{Name: capability.PaymentTap},
	}
}

func (k *kiosk) pruneLoop(ctx context.Context) {
	defer k.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := k.journal.Prune(ctx); err != nil {
				k.logger.Warn("event store prune failed", slogError(err))
			}
		}
	}
}

// register mounts the kiosk API routes.
func (k *kiosk) register(mux *http.ServeMux) {
	k.bridge.Register(mux)
	if k.store != nil {
		transactions.NewHandler(k.store, k.logger).Register(mux)
	}
	mux.HandleFunc("GET /api/journal/{session}", k.handleJournal)
	mux.HandleFunc("GET /api/nodes", k.handleNodes)
	if k.mockSTT != nil {
		mux.HandleFunc("POST /debug/say", k.handleSay)
	}
}

func (k *kiosk) healthy() bool {
	if k.bus != nil && !k.bus.Healthy() {
		return false
	}
	if k.registry != nil && !k.registry.Healthy() {
		return false
	}
	return k.bridge.Healthy()
}

func (k *kiosk) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := k.journal.Entries(r.Context(), r.PathValue("session"), limit)
	if err != nil {
		k.logger.Warn("journal query failed", slogError(err))
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	if entries == nil {
		entries = []eventstore.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (k *kiosk) handleNodes(w http.ResponseWriter, _ *http.Request) {
	var nodes []capability.NodeInfo
	if k.registry != nil {
		nodes = k.registry.Query(nil)
	}
	if nodes == nil {
		nodes = []capability.NodeInfo{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

type sayRequest struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// handleSay feeds the mock recognizer, standing in for a microphone.
func (k *kiosk) handleSay(w http.ResponseWriter, r *http.Request) {
	var req sayRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !k.mockSTT.Say(req.Text, req.Final) {
		writeError(w, http.StatusConflict, "not listening")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (k *kiosk) close() {
	if k.cancel != nil {
		k.cancel()
	}
	if k.registry != nil {
		k.registry.Close()
	}
	if k.bridge != nil {
		k.bridge.Close()
	}
	k.wg.Wait()
	if k.journal != nil {
		if err := k.journal.Close(); err != nil {
			k.logger.Warn("event store close failed", slogError(err))
		}
	}
	if k.store != nil {
		if err := k.store.Close(); err != nil {
			k.logger.Warn("transactions close failed", slogError(err))
		}
	}
	if k.bus != nil {
		k.bus.Close()
	}
	k.nats.Shutdown()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
