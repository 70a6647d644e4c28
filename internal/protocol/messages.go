package protocol

import "time"

// AudioFrame carries synthesized PCM to the kiosk speaker.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Target     string `json:"target,omitempty"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// SpeechRequest asks a remote speaker to synthesize and play text.
type SpeechRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	Target    string `json:"target"`
}

// SpeechDone marks the end of an utterance on the speaker.
type SpeechDone struct {
	SessionID string `json:"session_id"`
	Target    string `json:"target"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// Transcript represents STT output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// HapticRequest asks the kiosk device to vibrate.
type HapticRequest struct {
	Target  string `json:"target"`
	Pattern string `json:"pattern"`
	Pulses  []int  `json:"pulses_ms"`
}

// ScreenState is what the presenter renders.
type ScreenState struct {
	Screen          string    `json:"screen"`
	Phase           string    `json:"phase,omitempty"`
	Epoch           uint64    `json:"epoch"`
	Method          string    `json:"method,omitempty"`
	Amount          int64     `json:"amount"`
	ConfirmedAmount int64     `json:"confirmed_amount"`
	Code            string    `json:"code,omitempty"`
	Warning         string    `json:"warning,omitempty"`
	HistoryCount    int       `json:"history_count,omitempty"`
	Listening       bool      `json:"listening"`
	Transcript      string    `json:"transcript,omitempty"`
	Speaking        string    `json:"speaking,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// UICommand is a button press or quick action from the presenter. Epoch is
// the ScreenState.Epoch the presenter rendered when the user acted.
type UICommand struct {
	Kind   string `json:"kind"`
	Digits string `json:"digits,omitempty"`
	Target string `json:"target,omitempty"`
	Epoch  uint64 `json:"epoch"`
}

// CommandResult answers a UICommand sent as a request.
type CommandResult struct {
	Applied bool        `json:"applied"`
	Stale   bool        `json:"stale,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	Error   string      `json:"error,omitempty"`
	State   ScreenState `json:"state"`
}

// ListenRequest toggles the microphone from the presenter. Replies carry the
// resulting state.
type ListenRequest struct {
	Listen bool `json:"listen"`
}

const (
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectTTSRequest        = "tts.request"
	SubjectTTSAudio          = "tts.audio"
	SubjectTTSDone           = "tts.done"
	SubjectHapticRequest     = "haptic.request"
	SubjectScreen            = "kiosk.screen"
	SubjectUICommand         = "kiosk.ui.command"
	SubjectListen            = "kiosk.listen"
	SubjectAnnounce          = "ctrl.kiosk.announce"
	SubjectHeartbeatPrefix   = "ctrl.kiosk.heartbeat."
)
