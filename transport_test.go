package pairux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"nhooyr.io/websocket"
)

// realtimeServer accepts one realtime socket per request and hands it to
// serve.
func realtimeServer(t *testing.T, serve func(ctx context.Context, c *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/v1/websocket" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("apikey") != "anon" || r.URL.Query().Get("vsn") != "1.0.0" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler exited")
		serve(r.Context(), c)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readFrame(ctx context.Context, c *websocket.Conn) (Envelope, error) {
	_, data, err := c.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	return DecodeEnvelope(data)
}

func TestWebsocketSession(t *testing.T) {
	frames := make(chan Envelope, 16)
	srv := realtimeServer(t, func(ctx context.Context, c *websocket.Conn) {
		join, err := readFrame(ctx, c)
		if err != nil {
			return
		}
		frames <- join
		reply := `{"topic":"` + join.Topic + `","event":"phx_reply","payload":{"status":"ok","response":{}},"ref":"1"}`
		_ = c.Write(ctx, websocket.MessageText, []byte(reply))
		_ = c.Write(ctx, websocket.MessageText, []byte(broadcastFrame(join.Topic, `{"type":"offer","sdp":"v=0","from_user_id":"host"}`)))
		for {
			env, err := readFrame(ctx, c)
			if err != nil {
				return
			}
			frames <- env
		}
	})

	client := NewClient(srv.URL, "anon", WithCredentials(Credentials{AccessToken: "t1", UserID: "u1"}))
	offers := make(chan any, 1)
	client.Events().On("signaling:offer", func(event string, payload any) {
		offers <- payload
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Signaling().Connect(ctx, "s1", "", false); err != nil {
		t.Fatal(err)
	}

	join := <-frames
	assert.Equal(t, join.Event, EventJoin)
	assert.Equal(t, join.Topic, "realtime:session:s1")

	select {
	case p := <-offers:
		assert.Equal(t, p, any(Offer{SDP: "v=0", FromUserID: "host"}))
	case <-ctx.Done():
		t.Fatal("offer not emitted")
	}
	waitState(t, client.Signaling().Status, StatusJoined)

	greeting := <-frames
	if !strings.Contains(string(greeting.Payload), `"user_joined"`) {
		t.Fatalf("expected greeting, got %s", greeting.Payload)
	}

	client.Close()
	<-client.Signaling().Done()

	left := <-frames
	if !strings.Contains(string(left.Payload), `"user_left"`) {
		t.Fatalf("expected user_left, got %s", left.Payload)
	}
}

func TestWebsocketServerClose(t *testing.T) {
	srv := realtimeServer(t, func(ctx context.Context, c *websocket.Conn) {
		if _, err := readFrame(ctx, c); err != nil {
			return
		}
		_ = c.Close(websocket.StatusNormalClosure, "bye")
	})

	client := NewClient(srv.URL, "anon", WithCredentials(Credentials{AccessToken: "t1", UserID: "u1"}))
	if err := client.Chat().Connect(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	waitState(t, client.Chat().Status, StatusDisconnected)
}

func TestWebsocketDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	client := NewClient(srv.URL, "anon", WithCredentials(Credentials{AccessToken: "t1", UserID: "u1"}))
	err := client.Chat().Connect(context.Background(), "")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	assert.Equal(t, client.Chat().Status().Status, StatusDisconnected)
}
