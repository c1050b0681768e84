// Package gateway is the downstream multiplexing proxy: it fans upstream
// event batches out to namespace-scoped client sets with at-least-once
// delivery, and converts client acks back into upstream batch acks.
package gateway

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/marko911/token-bridge/internal/codec"
	"github.com/marko911/token-bridge/internal/connector"
	"github.com/marko911/token-bridge/internal/stream"
)

// EventListener transforms one raw upstream event into protocol messages.
// Listeners are tried in registration order; the first non-empty result
// wins. An error drops the single offending event, never the batch.
type EventListener interface {
	Transform(ctx context.Context, sub codec.SubscriptionName, ev stream.Event) ([]Message, error)
}

// ConnectionListener observes downstream client lifecycle. All registered
// listeners are invoked.
type ConnectionListener interface {
	ClientStarted(namespace, clientID string)
	ClientStopped(namespace, clientID string)
}

// SubscriptionResolver looks up a subscription's packed name by id. The
// connector client provides this in production.
type SubscriptionResolver interface {
	Subscription(ctx context.Context, id string) (*connector.SubscriptionInfo, error)
}

// Upstream is the slice of the event-stream client the gateway drives.
type Upstream interface {
	Start()
	Close()
	Ack(batchNumber int64) error
	Nack(batchNumber int64) error
}

// UpstreamFactory builds the event-stream client for a namespace's topic.
type UpstreamFactory func(topic string, cb stream.Callbacks) Upstream

// Config holds gateway settings.
type Config struct {
	// SubscriptionPrefix scopes the packed subscription names this gateway
	// recognizes.
	SubscriptionPrefix string
}

// inFlightMessage tracks one dispatched-but-unacknowledged frame. client is
// the id of the connection it was last sent to, updated on redelivery.
type inFlightMessage struct {
	namespace   string
	id          string
	batchNumber int64
	client      string
	payload     []byte
}

// namespaceState is everything owned by one started namespace.
type namespaceState struct {
	name     string
	upstream Upstream
	clients  []*Client

	// queue serializes batch processing for this namespace: a batch is not
	// started until the prior one's transform-and-send step completed.
	queue pond.Pool
}

// Gateway owns the namespace table, the per-namespace upstream sockets, and
// the in-flight message list. All three are guarded by one mutex because
// every mutation is check-then-act.
type Gateway struct {
	cfg           Config
	resolver      SubscriptionResolver
	listeners     []EventListener
	connListeners []ConnectionListener
	upstreams     UpstreamFactory
	logger        *slog.Logger
	upgrader      websocket.Upgrader

	mu         sync.Mutex
	namespaces map[string]*namespaceState
	inflight   []*inFlightMessage

	// subNames caches subscription id -> unpacked name for the process
	// lifetime; subscriptions are long-lived and never renamed.
	subNames *xsync.Map[string, codec.SubscriptionName]
}

// New builds a gateway. Listener order is fixed for the gateway's lifetime.
func New(cfg Config, resolver SubscriptionResolver, upstreams UpstreamFactory,
	eventListeners []EventListener, connListeners []ConnectionListener, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg:           cfg,
		resolver:      resolver,
		listeners:     eventListeners,
		connListeners: connListeners,
		upstreams:     upstreams,
		logger:        logger.With("component", "gateway"),
		upgrader:      websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		namespaces:    make(map[string]*namespaceState),
		subNames:      xsync.NewMap[string, codec.SubscriptionName](),
	}
}

// StreamFactory adapts stream.New into an UpstreamFactory.
func StreamFactory(cfg stream.Config, logger *slog.Logger) UpstreamFactory {
	return func(topic string, cb stream.Callbacks) Upstream {
		c := cfg
		c.Topic = topic
		return stream.New(c, cb, logger)
	}
}

// HandleWS upgrades a downstream connection and runs its pumps.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(g, conn)
	g.logger.Info("client connected", "client_id", client.id, "remote_addr", conn.RemoteAddr().String())
	go client.run()
}

// handleStart joins a client to a namespace, lazily establishing the
// namespace's upstream event stream on first use.
func (g *Gateway) handleStart(c *Client, ns string) {
	if ns == "" {
		g.logger.Warn("start frame without namespace", "client_id", c.id)
		return
	}
	if !c.setNamespace(ns) {
		g.logger.Warn("client already started", "client_id", c.id, "namespace", c.Namespace())
		return
	}

	g.mu.Lock()
	state, ok := g.namespaces[ns]
	created := false
	if !ok {
		state = &namespaceState{
			name:  ns,
			queue: pond.NewPool(1),
		}
		state.upstream = g.upstreams(ns, stream.Callbacks{
			OnBatch:   func(b stream.Batch) { g.enqueueBatch(state, b) },
			OnReceipt: func(r stream.Receipt) { g.handleReceipt(ns, r) },
			OnConnect: func(restored bool) { g.handleUpstreamConnect(ns, restored) },
		})
		g.namespaces[ns] = state
		created = true
	}
	state.clients = append(state.clients, c)
	g.mu.Unlock()

	if created {
		state.upstream.Start()
	}

	g.logger.Info("client started", "client_id", c.id, "namespace", ns)
	c.sendFrame(g.logger, serverFrame{Event: "started", Data: startedData{Namespace: ns}})

	for _, l := range g.connListeners {
		l.ClientStarted(ns, c.id)
	}
}

// enqueueBatch serializes batch processing on the namespace's queue.
func (g *Gateway) enqueueBatch(state *namespaceState, batch stream.Batch) {
	state.queue.Submit(func() {
		g.processBatch(state.name, batch)
	})
}

// processBatch transforms one upstream batch and dispatches the resulting
// frames to a single live client of the namespace.
func (g *Gateway) processBatch(ns string, batch stream.Batch) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	type pendingFrame struct {
		id      string
		payload []byte
	}
	var frames []pendingFrame

	for _, ev := range batch.Events {
		sub, err := g.resolveSubscription(ctx, ev.SubID)
		if err != nil {
			g.logger.Error("unresolvable subscription, dropping event",
				"namespace", ns,
				"sub_id", ev.SubID,
				"signature", ev.Signature,
				"error", err,
			)
			continue
		}

		messages := g.transform(ctx, sub, ev)
		if len(messages) == 0 {
			continue
		}

		frame := serverFrame{
			Event:       "batch",
			ID:          uuidString(),
			BatchNumber: batch.BatchNumber,
			Data:        batchData{Events: messages},
		}
		payload, err := marshalFrame(frame)
		if err != nil {
			g.logger.Error("marshal batch frame", "error", err)
			continue
		}
		frames = append(frames, pendingFrame{id: frame.ID, payload: payload})
	}

	g.mu.Lock()
	state, ok := g.namespaces[ns]
	if !ok || len(state.clients) == 0 {
		g.mu.Unlock()
		g.nackUpstream(ns, batch.BatchNumber)
		return
	}

	if len(frames) == 0 {
		upstream := state.upstream
		g.mu.Unlock()
		if err := upstream.Ack(batch.BatchNumber); err != nil {
			g.logger.Warn("upstream ack failed", "namespace", ns, "batch", batch.BatchNumber, "error", err)
		}
		return
	}

	client := state.clients[rand.IntN(len(state.clients))]
	for _, f := range frames {
		g.inflight = append(g.inflight, &inFlightMessage{
			namespace:   ns,
			id:          f.id,
			batchNumber: batch.BatchNumber,
			client:      client.id,
			payload:     f.payload,
		})
	}
	g.mu.Unlock()

	for _, f := range frames {
		if !client.deliver(f.payload) {
			g.logger.Warn("batch delivery failed", "namespace", ns, "client_id", client.id, "message_id", f.id)
		}
	}
}

// transform runs the event listeners in order; first non-empty result wins.
func (g *Gateway) transform(ctx context.Context, sub codec.SubscriptionName, ev stream.Event) []Message {
	for _, l := range g.listeners {
		messages, err := l.Transform(ctx, sub, ev)
		if err != nil {
			g.logger.Error("event transform failed, dropping event",
				"signature", ev.Signature,
				"error", err,
			)
			return nil
		}
		if len(messages) > 0 {
			return messages
		}
	}
	return nil
}

// resolveSubscription maps a numeric subscription id to its unpacked name,
// consulting the connector on first use only.
func (g *Gateway) resolveSubscription(ctx context.Context, subID string) (codec.SubscriptionName, error) {
	if name, ok := g.subNames.Load(subID); ok {
		return name, nil
	}

	info, err := g.resolver.Subscription(ctx, subID)
	if err != nil {
		return codec.SubscriptionName{}, err
	}
	name, err := codec.UnpackSubscriptionName(g.cfg.SubscriptionPrefix, info.Name)
	if err != nil {
		return codec.SubscriptionName{}, err
	}

	g.subNames.Store(subID, name)
	return name, nil
}

// handleAck correlates a client ack back to the originating upstream batch.
// The upstream batch is acked only once no in-flight message remains for
// its batch number: all-or-nothing, never partial.
func (g *Gateway) handleAck(c *Client, id string) {
	if id == "" {
		g.logger.Warn("ack frame without id", "client_id", c.id)
		return
	}

	g.mu.Lock()
	idx := -1
	for i, m := range g.inflight {
		if m.id == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		g.mu.Unlock()
		g.logger.Warn("ack for unknown message", "client_id", c.id, "message_id", id)
		return
	}

	acked := g.inflight[idx]
	g.inflight = append(g.inflight[:idx], g.inflight[idx+1:]...)

	remaining := false
	for _, m := range g.inflight {
		if m.namespace == acked.namespace && m.batchNumber == acked.batchNumber {
			remaining = true
			break
		}
	}

	var upstream Upstream
	if state, ok := g.namespaces[acked.namespace]; ok && !remaining {
		upstream = state.upstream
	}
	g.mu.Unlock()

	if upstream != nil {
		if err := upstream.Ack(acked.batchNumber); err != nil {
			g.logger.Warn("upstream ack failed",
				"namespace", acked.namespace,
				"batch", acked.batchNumber,
				"error", err,
			)
		}
	}
}

// handleReceipt forwards a transaction receipt to every live client of the
// namespace. Receipts are informational and not tracked in-flight.
func (g *Gateway) handleReceipt(ns string, receipt stream.Receipt) {
	payload, err := marshalFrame(serverFrame{Event: "receipt", Data: receipt})
	if err != nil {
		g.logger.Error("marshal receipt frame", "error", err)
		return
	}

	g.mu.Lock()
	state, ok := g.namespaces[ns]
	var clients []*Client
	if ok {
		clients = append(clients, state.clients...)
	}
	g.mu.Unlock()

	for _, c := range clients {
		if !c.deliver(payload) {
			g.logger.Warn("receipt delivery failed", "namespace", ns, "client_id", c.id)
		}
	}
}

// handleUpstreamConnect clears stale in-flight state when the namespace's
// upstream socket recovers. The stale batches are nacked on the fresh socket
// so the connector redelivers them; their old entries can never be acked.
func (g *Gateway) handleUpstreamConnect(ns string, restored bool) {
	if !restored {
		return
	}

	g.mu.Lock()
	batches := make(map[int64]struct{})
	for _, m := range g.inflight {
		if m.namespace == ns {
			batches[m.batchNumber] = struct{}{}
		}
	}
	dropped := g.dropInflightLocked(ns)
	var upstream Upstream
	if state, ok := g.namespaces[ns]; ok {
		upstream = state.upstream
	}
	g.mu.Unlock()

	if dropped == 0 {
		return
	}
	g.logger.Info("dropped stale in-flight messages after upstream reconnect",
		"namespace", ns,
		"count", dropped,
	)
	if upstream == nil {
		return
	}
	for batch := range batches {
		if err := upstream.Nack(batch); err != nil {
			g.logger.Warn("upstream nack failed", "namespace", ns, "batch", batch, "error", err)
		}
	}
}

// handleDisconnect removes a client from its namespace. In-flight messages
// are redelivered to a surviving client where one exists, otherwise nacked
// upstream. An empty namespace is torn down entirely.
func (g *Gateway) handleDisconnect(c *Client) {
	ns := c.Namespace()
	g.logger.Info("client disconnected", "client_id", c.id, "namespace", ns)
	if ns == "" {
		return
	}

	g.mu.Lock()
	state, ok := g.namespaces[ns]
	if !ok {
		g.mu.Unlock()
		return
	}
	for i, existing := range state.clients {
		if existing == c {
			state.clients = append(state.clients[:i], state.clients[i+1:]...)
			break
		}
	}

	if len(state.clients) == 0 {
		// No live client remains: nack everything outstanding so the
		// connector redelivers, then discard the namespace.
		batches := make(map[int64]struct{})
		for _, m := range g.inflight {
			if m.namespace == ns {
				batches[m.batchNumber] = struct{}{}
			}
		}
		g.dropInflightLocked(ns)
		upstream := state.upstream
		queue := state.queue
		delete(g.namespaces, ns)
		g.mu.Unlock()

		for batch := range batches {
			if err := upstream.Nack(batch); err != nil {
				g.logger.Warn("upstream nack failed", "namespace", ns, "batch", batch, "error", err)
			}
		}
		upstream.Close()
		queue.StopAndWait()
	} else {
		// Survivors exist: hand the departed client's unacked payloads to
		// one of them. Messages still held by a live client stay put.
		survivor := state.clients[rand.IntN(len(state.clients))]
		var resend [][]byte
		for _, m := range g.inflight {
			if m.namespace == ns && m.client == c.id {
				m.client = survivor.id
				resend = append(resend, m.payload)
			}
		}
		g.mu.Unlock()

		for _, payload := range resend {
			if !survivor.deliver(payload) {
				g.logger.Warn("redelivery failed", "namespace", ns, "client_id", survivor.id)
			}
		}
	}

	for _, l := range g.connListeners {
		l.ClientStopped(ns, c.id)
	}
}

// dropInflightLocked removes all in-flight entries for a namespace.
// Caller holds g.mu.
func (g *Gateway) dropInflightLocked(ns string) int {
	kept := g.inflight[:0]
	dropped := 0
	for _, m := range g.inflight {
		if m.namespace == ns {
			dropped++
			continue
		}
		kept = append(kept, m)
	}
	g.inflight = kept
	return dropped
}

// nackUpstream nacks a batch if the namespace still has an upstream.
func (g *Gateway) nackUpstream(ns string, batchNumber int64) {
	g.mu.Lock()
	state, ok := g.namespaces[ns]
	g.mu.Unlock()
	if !ok {
		return
	}
	if err := state.upstream.Nack(batchNumber); err != nil {
		g.logger.Warn("upstream nack failed", "namespace", ns, "batch", batchNumber, "error", err)
	}
}

// Close tears down every namespace and client.
func (g *Gateway) Close() {
	g.mu.Lock()
	states := make([]*namespaceState, 0, len(g.namespaces))
	for _, state := range g.namespaces {
		states = append(states, state)
	}
	g.namespaces = make(map[string]*namespaceState)
	g.inflight = nil
	g.mu.Unlock()

	for _, state := range states {
		state.upstream.Close()
		state.queue.StopAndWait()
		for _, c := range state.clients {
			c.close()
		}
	}
}

// Stats reports gateway occupancy for the health endpoint.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	clients := 0
	for _, state := range g.namespaces {
		clients += len(state.clients)
	}
	return Stats{
		Namespaces: len(g.namespaces),
		Clients:    clients,
		InFlight:   len(g.inflight),
	}
}

// Stats summarizes gateway state.
type Stats struct {
	Namespaces int `json:"namespaces"`
	Clients    int `json:"clients"`
	InFlight   int `json:"in_flight"`
}
