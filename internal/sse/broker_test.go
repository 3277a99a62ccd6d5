package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// drain collects everything buffered on ch after a short settle delay.
func drain(ch chan []byte, settle time.Duration) []string {
	time.Sleep(settle)
	var out []string
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func countType(msgs []string, typ string) int {
	n := 0
	for _, m := range msgs {
		if strings.Contains(m, "event: "+typ+"\n") {
			n++
		}
	}
	return n
}

// serve runs the handler until the returned stop func is called and
// returns the response body written so far.
func serve(t *testing.T, b *Broker, target string, header http.Header) func() string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()
	return func() string {
		cancel()
		<-done
		return w.Body.String()
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	a := b.Subscribe()
	c := b.SubscribeFrom("file:///site/", 0, false)
	if n := b.ClientCount(); n != 2 {
		t.Fatalf("clients = %d, want 2", n)
	}
	b.Unsubscribe(a)
	b.Unsubscribe(c)
	// Second unsubscribe of the same channel is ignored.
	b.Unsubscribe(a)
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients = %d after unsubscribe, want 0", n)
	}
}

func TestPublishFormatsFrame(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "asset.created", Data: map[string]string{"url": "file:///site/a.html"}})

	select {
	case msg := <-ch:
		want := "id: 1\nevent: asset.created\ndata: {\"url\":\"file:///site/a.html\"}\n\n"
		if string(msg) != want {
			t.Errorf("frame = %q, want %q", msg, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishAssetEvent_GraphThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishAssetEvent("created", "file:///site/a.html")
	b.PublishAssetEvent("updated", "file:///site/b.css")
	b.PublishAssetEvent("renamed", "file:///site/c.css")

	msgs := drain(ch, 50*time.Millisecond)
	if n := countType(msgs, "asset.created") + countType(msgs, "asset.updated"); n != 2 {
		t.Errorf("asset events = %d, want 2", n)
	}
	if n := countType(msgs, "graph.updated"); n != 1 {
		t.Errorf("graph events = %d, want 1 inside the window", n)
	}
}

func TestPublishAssetEvent_TrailingGraphUpdate(t *testing.T) {
	b := NewBroker(80 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishAssetEvent("created", "file:///site/a.html")
	b.PublishAssetEvent("deleted", "file:///site/b.html")
	b.PublishAssetEvent("updated", "file:///site/c.html")

	msgs := drain(ch, 250*time.Millisecond)
	if n := countType(msgs, "graph.updated"); n != 2 {
		t.Errorf("graph events = %d, want leading and trailing", n)
	}
	if !strings.Contains(msgs[len(msgs)-1], "graph.updated") {
		t.Errorf("last frame = %q, want trailing graph.updated", msgs[len(msgs)-1])
	}
}

func TestSubscribeFrom_ReplaysAfterID(t *testing.T) {
	b := NewBroker(time.Second, WithHistory(3))
	defer b.Close()

	for _, u := range []string{"a", "b", "c", "d"} {
		b.Publish(Event{Type: "asset.updated", Data: map[string]string{"url": "file:///site/" + u}})
	}
	time.Sleep(20 * time.Millisecond)

	ch := b.SubscribeFrom("", 2, true)
	defer b.Unsubscribe(ch)
	msgs := drain(ch, 20*time.Millisecond)
	if len(msgs) != 2 {
		t.Fatalf("replayed %d frames, want 2: %q", len(msgs), msgs)
	}
	if !strings.HasPrefix(msgs[0], "id: 3\n") || !strings.HasPrefix(msgs[1], "id: 4\n") {
		t.Errorf("replay = %q", msgs)
	}

	// History holds three events, so id 1 is gone.
	old := b.SubscribeFrom("", 0, true)
	defer b.Unsubscribe(old)
	if msgs := drain(old, 20*time.Millisecond); len(msgs) != 3 {
		t.Errorf("replay from 0 = %d frames, want 3", len(msgs))
	}
}

func TestSubscribeFrom_PrefixFilter(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.SubscribeFrom("file:///site/blog/", 0, false)
	defer b.Unsubscribe(ch)

	b.PublishAssetEvent("updated", "file:///site/blog/post.html")
	b.PublishAssetEvent("updated", "file:///site/index.html")

	msgs := drain(ch, 50*time.Millisecond)
	if n := countType(msgs, "asset.updated"); n != 1 {
		t.Errorf("asset events = %d, want 1", n)
	}
	for _, m := range msgs {
		if strings.Contains(m, "index.html") {
			t.Errorf("unexpected frame %q", m)
		}
	}
	if n := countType(msgs, "graph.updated"); n != 1 {
		t.Errorf("graph events = %d, want 1", n)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	stop := serve(t, b, "/api/events", nil)
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "asset.updated", Data: map[string]string{"url": "file:///site/x.html"}})
	time.Sleep(50 * time.Millisecond)
	body := stop()

	if !strings.HasPrefix(body, "retry: 3000\n\n") {
		t.Errorf("body does not start with retry hint: %q", body)
	}
	if !strings.Contains(body, "event: asset.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestSSEHandler_LastEventID(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	b.Publish(Event{Type: "asset.created", Data: map[string]string{"url": "file:///site/one.html"}})
	b.Publish(Event{Type: "asset.created", Data: map[string]string{"url": "file:///site/two.html"}})
	time.Sleep(20 * time.Millisecond)

	stop := serve(t, b, "/api/events", http.Header{"Last-Event-Id": {"1"}})
	time.Sleep(50 * time.Millisecond)
	body := stop()
	if strings.Contains(body, "one.html") || !strings.Contains(body, "two.html") {
		t.Errorf("replay via header = %q", body)
	}

	stop = serve(t, b, "/api/events?lastEventId=0&url=file:///site/one", nil)
	time.Sleep(50 * time.Millisecond)
	body = stop()
	if !strings.Contains(body, "one.html") || strings.Contains(body, "two.html") {
		t.Errorf("replay via query = %q", body)
	}

	// No Last-Event-ID means live events only.
	stop = serve(t, b, "/api/events", nil)
	time.Sleep(50 * time.Millisecond)
	if body := stop(); strings.Contains(body, "event:") {
		t.Errorf("fresh client got history: %q", body)
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < clientBuffer+6; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	if msgs := drain(ch, 20*time.Millisecond); len(msgs) != clientBuffer {
		t.Errorf("buffered %d frames, want %d", len(msgs), clientBuffer)
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}
	if _, ok := <-b.Subscribe(); ok {
		t.Error("subscribe after close should return a closed channel")
	}

	b.Publish(Event{Type: "asset.updated", Data: map[string]string{"url": "file:///site/x.html"}})
	b.PublishAssetEvent("updated", "file:///site/x.html")
}

func TestSSEHandler_Heartbeat(t *testing.T) {
	b := NewBroker(time.Second, WithHeartbeat(10*time.Millisecond))
	defer b.Close()

	stop := serve(t, b, "/api/events", nil)
	time.Sleep(60 * time.Millisecond)
	if body := stop(); !strings.Contains(body, ": ping") {
		t.Errorf("expected keep-alive comment, got %q", body)
	}
}
