// Package floor decides who holds the audio floor: the kiosk's voice or the
// customer's. Listening takes the floor from speech; speech requested while
// listening waits until listening ends, and only the latest request is kept.
package floor

// Request is speech waiting for the floor.
type Request struct {
	Text     string
	Language string
}

// Decision represents the action the floor manager wants to take.
type Decision struct {
	// PauseSpeech interrupts the active utterance so the microphone does not
	// hear it.
	PauseSpeech     bool
	StopUtteranceID string
	// Speak is set when a request may play now.
	Speak *Request
	// Resume hands the interrupted utterance to the resume policy.
	Resume bool
	Reason string
}

type Manager struct {
	listening         bool
	speaking          bool
	activeUtteranceID string
	deferred          *Request
}

func New() *Manager { return &Manager{} }

func (m *Manager) Listening() bool { return m.listening }

func (m *Manager) Speaking() bool { return m.speaking }

func (m *Manager) OnTTSStarted(utteranceID string) Decision {
	m.speaking = true
	m.activeUtteranceID = utteranceID
	return Decision{}
}

func (m *Manager) OnTTSStopped(utteranceID string) Decision {
	if utteranceID != "" && utteranceID != m.activeUtteranceID {
		return Decision{}
	}
	m.speaking = false
	m.activeUtteranceID = ""
	return Decision{}
}

func (m *Manager) OnListenStart() Decision {
	if m.listening {
		return Decision{}
	}
	m.listening = true
	if m.speaking {
		return Decision{PauseSpeech: true, StopUtteranceID: m.activeUtteranceID, Reason: "listening"}
	}
	return Decision{}
}

func (m *Manager) OnListenStop() Decision {
	if !m.listening {
		return Decision{}
	}
	m.listening = false
	if m.deferred != nil {
		req := m.deferred
		m.deferred = nil
		return Decision{Speak: req, Reason: "deferred"}
	}
	return Decision{Resume: true, Reason: "listen_end"}
}

// OnSpeakRequest plays req now or holds it until listening ends, replacing
// any request already held.
func (m *Manager) OnSpeakRequest(req Request) Decision {
	if m.listening {
		m.deferred = &req
		return Decision{Reason: "deferred"}
	}
	return Decision{Speak: &req}
}

// OnStopRequest drops held speech along with the active utterance.
func (m *Manager) OnStopRequest() Decision {
	held := m.deferred != nil
	m.deferred = nil
	if held {
		return Decision{StopUtteranceID: m.activeUtteranceID, Reason: "stop_dropped_deferred"}
	}
	return Decision{StopUtteranceID: m.activeUtteranceID, Reason: "stop"}
}
