package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"

	"delayboard/internal/delays"
	"delayboard/internal/domain"
)

// Topic is one live-watched selection and stop range.
type Topic struct {
	Key       string
	Selection domain.TripSelection
	Range     domain.StopRange
	// TripID is the trip the last published view resolved to.
	TripID string

	fingerprint string
}

// TopicKey identifies a selection and range independent of field order.
func TopicKey(sel domain.TripSelection, rng domain.StopRange) string {
	v := url.Values{}
	v.Set("route", sel.RouteShortName)
	v.Set("direction", sel.TripHeadsign)
	v.Set("stop", sel.DepartureStop)
	v.Set("departure", sel.ScheduledDepartureTime)
	v.Set("from", rng.From)
	v.Set("to", rng.To)
	return v.Encode()
}

type Client struct {
	ID     string
	Send   chan []byte
	topics map[string]struct{}
	closed bool
	mu     sync.RWMutex
}

func NewClient(id string, bufferSize int) *Client {
	return &Client{
		ID:     id,
		Send:   make(chan []byte, bufferSize),
		topics: make(map[string]struct{}),
	}
}

func (c *Client) HasTopic(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[key]
	return ok
}

func (c *Client) addTopic(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[key] = struct{}{}
}

func (c *Client) removeTopic(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, key)
}

// trySend queues data without blocking. It is a no-op once the client is
// closed.
func (c *Client) trySend(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.topics))
	for k := range c.topics {
		keys = append(keys, k)
	}
	return keys
}

// Observer receives hub gauges. It may be nil.
type Observer interface {
	SetClients(n int)
	SetSubscriptions(n int)
	ViewPushed()
}

type update struct {
	key  string
	data []byte
}

type Hub struct {
	mu           sync.RWMutex
	clients      map[*Client]struct{}
	topics       map[string]*Topic
	topicClients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan update

	observer Observer
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:      make(map[*Client]struct{}),
		topics:       make(map[string]*Topic),
		topicClients: make(map[string]map[*Client]struct{}),
		register:     make(chan *Client, 16),
		unregister:   make(chan *Client, 16),
		broadcast:    make(chan update, 256),
		logger:       logger.With("component", "hub"),
	}
}

func (h *Hub) SetObserver(o Observer) {
	h.observer = o
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.observeCounts()
			h.logger.Debug("client registered", "client_id", client.ID, "total", total)

		case client := <-h.unregister:
			h.removeClient(client)
			h.observeCounts()

		case u := <-h.broadcast:
			h.fanout(u)
		}
	}
}

// Subscribe adds client to the topic of sel and rng and returns its key.
func (h *Hub) Subscribe(client *Client, sel domain.TripSelection, rng domain.StopRange) string {
	sel.TripID = ""
	key := TopicKey(sel, rng)

	h.mu.Lock()
	if h.topics[key] == nil {
		h.topics[key] = &Topic{Key: key, Selection: sel, Range: rng}
		h.topicClients[key] = make(map[*Client]struct{})
	}
	h.topicClients[key][client] = struct{}{}
	client.addTopic(key)
	h.mu.Unlock()

	h.observeCounts()
	return key
}

func (h *Hub) Unsubscribe(client *Client, key string) {
	h.mu.Lock()
	client.removeTopic(key)
	h.dropMember(client, key)
	h.mu.Unlock()

	h.observeCounts()
}

// dropMember must be called with h.mu held.
func (h *Hub) dropMember(client *Client, key string) {
	members, ok := h.topicClients[key]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.topicClients, key)
		delete(h.topics, key)
	}
}

// Topics returns a copy of every topic with at least one subscriber.
func (h *Hub) Topics() []Topic {
	h.mu.RLock()
	defer h.mu.RUnlock()
	topics := make([]Topic, 0, len(h.topics))
	for _, t := range h.topics {
		topics = append(topics, *t)
	}
	return topics
}

type ViewMessage struct {
	Type    string           `json:"type"`
	Key     string           `json:"key"`
	Payload *delays.TripView `json:"payload"`
}

// EncodeView renders view as a "view" message for topic key.
func EncodeView(key string, view *delays.TripView) ([]byte, error) {
	return json.Marshal(ViewMessage{Type: "view", Key: key, Payload: view})
}

// Publish records view as the current state of topic key and pushes it to
// subscribers when its content differs from the last published view. It
// reports whether the view was pushed.
func (h *Hub) Publish(key string, view *delays.TripView) bool {
	fp := view.Fingerprint()

	h.mu.Lock()
	t, ok := h.topics[key]
	if !ok || t.fingerprint == fp {
		h.mu.Unlock()
		return false
	}
	prev := t.fingerprint
	t.fingerprint = fp
	t.TripID = view.Selection.TripID
	h.mu.Unlock()

	data, err := EncodeView(key, view)
	if err != nil {
		h.logger.Error("failed to encode view", "key", key, "error", err)
		h.forget(key, fp, prev)
		return false
	}

	select {
	case h.broadcast <- update{key: key, data: data}:
	default:
		h.logger.Warn("broadcast channel full, dropping view", "key", key)
		h.forget(key, fp, prev)
		return false
	}
	if h.observer != nil {
		h.observer.ViewPushed()
	}
	return true
}

// forget restores the fingerprint of a topic whose view was never queued, so
// the next publish of the same content goes out.
func (h *Hub) forget(key, fp, prev string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[key]; ok && t.fingerprint == fp {
		t.fingerprint = prev
	}
}

// SendTo queues data for a single client without blocking.
func (h *Hub) SendTo(client *Client, data []byte) bool {
	if !client.trySend(data) {
		h.logger.Debug("failed to send to client", "client_id", client.ID)
		return false
	}
	return true
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) fanout(u update) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.topicClients[u.key] {
		if !client.trySend(u.data) {
			h.logger.Debug("client send buffer full", "client_id", client.ID)
		}
	}
}

func (h *Hub) observeCounts() {
	if h.observer == nil {
		return
	}
	h.mu.RLock()
	clients, topics := len(h.clients), len(h.topics)
	h.mu.RUnlock()
	h.observer.SetClients(clients)
	h.observer.SetSubscriptions(topics)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	for _, key := range client.Topics() {
		h.dropMember(client, key)
	}

	delete(h.clients, client)
	client.close()
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.close()
	}
	h.clients = make(map[*Client]struct{})
	h.topics = make(map[string]*Topic)
	h.topicClients = make(map[string]map[*Client]struct{})
}
