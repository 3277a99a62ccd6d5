// Package sse implements a Server-Sent Events broker for asset change
// notifications.
//
// Every event carries a sequence id. The broker keeps the most recent
// events so a reconnecting client that sends Last-Event-ID receives what
// it missed. Clients may restrict asset events to URLs under a prefix.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	defaultHeartbeat = 30 * time.Second
	defaultHistory   = 128
	retryMillis      = 3000
	clientBuffer     = 64
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// url returns the asset URL an event refers to, or "" for graph-wide events.
func (e Event) url() string {
	if m, ok := e.Data.(map[string]string); ok {
		return m["url"]
	}
	return ""
}

type message struct {
	id  uint64
	url string
	raw []byte
}

type client struct {
	ch     chan []byte
	prefix string
}

func (c *client) wants(m message) bool {
	return c.prefix == "" || m.url == "" || strings.HasPrefix(m.url, c.prefix)
}

type subscription struct {
	c      *client
	after  uint64
	replay bool
}

type assetEventReq struct {
	kind string
	url  string
}

// Broker manages SSE client connections and broadcasts events.
//
// A single event loop goroutine owns the clients, the sequence counter,
// the replay history and the graph.updated throttle. Public methods talk
// to the loop through channels.
type Broker struct {
	graphMin  time.Duration
	heartbeat time.Duration
	history   int

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	assetEventCh  chan assetEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sets the interval of the keep-alive comments sent to idle
// clients.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// WithHistory sets how many past events are kept for Last-Event-ID replay.
// Zero disables replay.
func WithHistory(n int) Option {
	return func(b *Broker) {
		if n >= 0 {
			b.history = n
		}
	}
}

// NewBroker creates a broker. graph.updated is sent at most once per
// graphThrottle; changes inside the window are announced when it closes.
func NewBroker(graphThrottle time.Duration, opts ...Option) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}

	b := &Broker{
		graphMin:      graphThrottle,
		heartbeat:     defaultHeartbeat,
		history:       defaultHistory,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		assetEventCh:  make(chan assetEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]*client)
	var (
		seq       uint64
		history   []message
		lastGraph time.Time
		graphT    *time.Timer
		graphC    <-chan time.Time
	)

	deliver := func(c *client, m message) {
		if !c.wants(m) {
			return
		}
		select {
		case c.ch <- m.raw:
		default:
			// Slow client; drop rather than block the loop.
		}
	}

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		m := message{
			id:  seq,
			url: event.url(),
			raw: []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload)),
		}
		if b.history > 0 {
			if len(history) == b.history {
				history = history[1:]
			}
			history = append(history, m)
		}
		for _, c := range clients {
			deliver(c, m)
		}
	}

	graphUpdated := func(now time.Time) {
		lastGraph = now
		broadcast(Event{Type: "graph.updated", Data: map[string]string{}})
	}

	for {
		select {
		case <-b.stopCh:
			if graphT != nil {
				graphT.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.c.ch] = sub.c
			if sub.replay {
				for _, m := range history {
					if m.id > sub.after {
						deliver(sub.c, m)
					}
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.assetEventCh:
			switch req.kind {
			case "created", "updated", "deleted":
				broadcast(Event{Type: "asset." + req.kind, Data: map[string]string{"url": req.url}})
			default:
				continue
			}
			now := time.Now()
			elapsed := now.Sub(lastGraph)
			switch {
			case elapsed >= b.graphMin:
				graphUpdated(now)
			case graphT == nil:
				graphT = time.NewTimer(b.graphMin - elapsed)
				graphC = graphT.C
			}

		case now := <-graphC:
			graphT, graphC = nil, nil
			graphUpdated(now)

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client that receives every new event.
func (b *Broker) Subscribe() chan []byte {
	return b.subscribe(subscription{})
}

// SubscribeFrom adds a client that only receives asset events for URLs
// under prefix. If replay is set, retained events with an id above
// lastID are delivered first.
func (b *Broker) SubscribeFrom(prefix string, lastID uint64, replay bool) chan []byte {
	return b.subscribe(subscription{c: &client{prefix: prefix}, after: lastID, replay: replay})
}

func (b *Broker) subscribe(sub subscription) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if sub.c == nil {
		sub.c = &client{}
	}
	sub.c.ch = ch
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- sub:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishAssetEvent publishes an asset change followed by a throttled
// graph.updated event. kind is one of "created", "updated", "deleted";
// others are dropped.
func (b *Broker) PublishAssetEvent(kind, url string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.assetEventCh <- assetEventReq{kind: kind, url: url}:
	case <-b.stopped:
	}
}

// lastEventID reads the replay position from the Last-Event-ID header or
// the lastEventId query parameter used by polyfills.
func lastEventID(r *http.Request) (uint64, bool) {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		v = r.URL.Query().Get("lastEventId")
	}
	if v == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). The optional
// "url" query parameter restricts asset events to URLs with that prefix.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", retryMillis)
	flusher.Flush()

	lastID, replay := lastEventID(r)
	ch := b.SubscribeFrom(r.URL.Query().Get("url"), lastID, replay)
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
