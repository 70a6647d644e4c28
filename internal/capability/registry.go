// Package capability advertises what this kiosk can do on the control bus and
// tracks the other nodes (presenters, device agents) that do the same.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/voicepay/internal/bus"
	"github.com/loqalabs/voicepay/internal/config"
	"github.com/loqalabs/voicepay/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Well-known kiosk capabilities.
const (
	SpeechInput  = "speech.input"
	SpeechOutput = "speech.output"
	Haptics      = "haptics"
	PaymentQRIS  = "payment.qris"
	PaymentTap   = "payment.tap"
)

// Nodes missing this many heartbeats are reported unhealthy.
const missedHeartbeats = 3

type Capability struct {
	Name       string            `json:"name"`
	Available  bool              `json:"available"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Source reports a local capability. Available is polled on every heartbeat so
// devices that come and go are reflected without a restart.
type Source struct {
	Name       string
	Available  func() bool
	Attributes map[string]string
}

type NodeInfo struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
	Healthy      bool         `json:"healthy"`
}

type announceMessage struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type heartbeatMessage struct {
	NodeID       string       `json:"node_id"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

type Registry struct {
	cfg      config.NodeConfig
	role     string
	sources  []Source
	log      *slog.Logger
	bus      *bus.Client
	mu       sync.RWMutex
	nodes    map[string]*NodeInfo
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	subs     []*nats.Subscription
	meter    metric.Meter
	now      func() time.Time
}

// NewRegistry subscribes to peer announcements, announces the local node and
// starts heartbeating.
func NewRegistry(ctx context.Context, cfg config.NodeConfig, role string, sources []Source, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	interval := time.Duration(cfg.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	r := &Registry{
		cfg:      cfg,
		role:     role,
		sources:  sources,
		log:      log.With(slog.String("component", "capability-registry")),
		bus:      busClient,
		nodes:    make(map[string]*NodeInfo),
		interval: interval,
		meter:    otel.Meter("github.com/loqalabs/voicepay/capability"),
		cancel:   cancel,
		now:      time.Now,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slogError(err))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	r.wg.Add(2)
	go r.runHeartbeat(ctx)
	go r.monitorHealth(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slogError(err))
	}

	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectHeartbeatPrefix+"*", r.handleHeartbeat)
	if err != nil {
		_ = announceSub.Drain()
		r.subs = nil
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slogError(err))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

// Local evaluates the local capability sources.
func (r *Registry) Local() []Capability {
	caps := make([]Capability, 0, len(r.sources))
	for _, src := range r.sources {
		available := src.Available == nil || src.Available()
		caps = append(caps, Capability{Name: src.Name, Available: available, Attributes: src.Attributes})
	}
	return caps
}

func (r *Registry) announce() error {
	msg := announceMessage{
		NodeID:       r.cfg.ID,
		Role:         r.role,
		Capabilities: r.Local(),
		Timestamp:    r.now().UTC(),
	}
	if err := r.bus.PublishJSON(protocol.SubjectAnnounce, msg); err != nil {
		return err
	}
	r.updateNode(msg.NodeID, msg.Role, msg.Capabilities, msg.Timestamp)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := heartbeatMessage{
		NodeID:       r.cfg.ID,
		Capabilities: r.Local(),
		Timestamp:    r.now().UTC(),
	}
	if err := r.bus.PublishJSON(protocol.SubjectHeartbeatPrefix+r.cfg.ID, msg); err != nil {
		return err
	}
	r.updateNode(msg.NodeID, "", msg.Capabilities, msg.Timestamp)
	return nil
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slogError(err))
		return
	}
	if announcement.NodeID == "" || announcement.NodeID == r.cfg.ID {
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = r.now().UTC()
	}
	r.log.Debug("node announced",
		slog.String("node", announcement.NodeID),
		slog.String("role", announcement.Role),
		slog.Int("capabilities", len(announcement.Capabilities)))
	if r.updateNode(announcement.NodeID, announcement.Role, announcement.Capabilities, announcement.Timestamp) {
		// Late joiners learn about us without waiting for a heartbeat.
		if err := r.announce(); err != nil {
			r.log.Warn("failed to announce node", slogError(err))
		}
	}
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slogError(err))
		return
	}
	if hb.NodeID == "" {
		hb.NodeID = strings.TrimPrefix(msg.Subject, protocol.SubjectHeartbeatPrefix)
	}
	if hb.NodeID == r.cfg.ID {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.now().UTC()
	}
	r.updateNode(hb.NodeID, "", hb.Capabilities, hb.Timestamp)
}

// updateNode records a sighting and reports whether the node was new.
func (r *Registry) updateNode(nodeID, role string, capabilities []Capability, timestamp time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		r.nodes[nodeID] = node
	}
	if role != "" {
		node.Role = role
	}
	if len(capabilities) > 0 {
		node.Capabilities = capabilities
	}
	node.LastSeen = timestamp
	node.Healthy = true
	return !ok
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := missedHeartbeats * r.interval
	now := r.now()
	for _, node := range r.nodes {
		if now.Sub(node.LastSeen) > timeout {
			if node.Healthy {
				r.log.Info("node missed heartbeats", slog.String("node", node.ID))
			}
			node.Healthy = false
		}
	}
}

// Healthy reports whether the local node is announcing.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	if !ok {
		return false
	}
	return node.Healthy
}

func (r *Registry) Query(filter func(NodeInfo) bool) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []NodeInfo
	for _, node := range r.nodes {
		n := *node
		n.Capabilities = append([]Capability(nil), node.Capabilities...)
		if filter == nil || filter(n) {
			results = append(results, n)
		}
	}
	return results
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	nodeGauge, err := r.meter.Int64ObservableGauge("voicepay.capabilities.nodes", metric.WithDescription("Number of known nodes"))
	if err != nil {
		return err
	}
	availGauge, err := r.meter.Int64ObservableGauge("voicepay.capabilities.available", metric.WithDescription("Capabilities currently available across nodes"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		nodes, available := r.snapshotCounts()
		obs.ObserveInt64(nodeGauge, nodes)
		obs.ObserveInt64(availGauge, available)
		return nil
	}, nodeGauge, availGauge)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var nodes, available int64
	for _, node := range r.nodes {
		nodes++
		for _, c := range node.Capabilities {
			if c.Available {
				available++
			}
		}
	}
	return nodes, available
}

// WithCapabilityFilter matches healthy nodes offering name right now.
func WithCapabilityFilter(name string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		if !node.Healthy {
			return false
		}
		for _, c := range node.Capabilities {
			if c.Name == name && c.Available {
				return true
			}
		}
		return false
	}
}

func WithRoleFilter(role string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		return node.Role == role
	}
}

// Attrs builds capability attributes from key/value pairs.
func Attrs(kv ...string) map[string]string {
	out := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
