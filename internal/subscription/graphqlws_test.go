package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/deltaview/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collectSink records deltas. After limit submissions it refuses further
// messages; zero means no limit.
type collectSink struct {
	mu     sync.Mutex
	deltas []model.Delta
	limit  int
	got    chan struct{}
}

func newCollectSink(limit int) *collectSink {
	return &collectSink{limit: limit, got: make(chan struct{}, 16)}
}

func (s *collectSink) Submit(d model.Delta) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && len(s.deltas) >= s.limit {
		return false
	}
	s.deltas = append(s.deltas, d)
	select {
	case s.got <- struct{}{}:
	default:
	}
	return true
}

func (s *collectSink) Deltas() []model.Delta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Delta(nil), s.deltas...)
}

var tws = dialects[ProtocolTransportWS]

// serve runs script against the first graphql-transport-ws connection and
// returns the ws:// URL of the server.
func serve(t *testing.T, script func(t *testing.T, conn *websocket.Conn)) string {
	t.Helper()
	return serveProtocol(t, ProtocolTransportWS, script)
}

// serveProtocol is serve for a server that selects protocol ("" selects
// no subprotocol).
func serveProtocol(t *testing.T, protocol string, script func(t *testing.T, conn *websocket.Conn)) string {
	t.Helper()
	var upgrader websocket.Upgrader
	if protocol != "" {
		upgrader.Subprotocols = []string{protocol}
	}
	done := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer once.Do(func() { close(done) })
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		assert.Equal(t, protocol, conn.Subprotocol())
		script(t, conn)
	}))
	t.Cleanup(func() {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server script did not finish")
		}
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readFrame(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	var m wsMessage
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func acceptInit(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	m := readFrame(t, conn)
	require.Equal(t, msgConnectionInit, m.Type)
	require.NoError(t, conn.WriteJSON(wsMessage{Type: msgConnectionAck}))
}

func readSubscribe(t *testing.T, conn *websocket.Conn) (wsMessage, subscribePayload) {
	t.Helper()
	m := readFrame(t, conn)
	require.Equal(t, tws.start, m.Type)
	var p subscribePayload
	require.NoError(t, json.Unmarshal(m.Payload, &p))
	return m, p
}

func sendNext(t *testing.T, conn *websocket.Conn, id, payload string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(wsMessage{ID: id, Type: tws.data, Payload: json.RawMessage(payload)}))
}

func fixedID(id string) ClientOption {
	return WithOperationID(func() string { return id })
}

func TestGraphQLClient_StreamsUntilComplete(t *testing.T) {
	url := serve(t, func(t *testing.T, conn *websocket.Conn) {
		acceptInit(t, conn)
		sub, payload := readSubscribe(t, conn)
		assert.Equal(t, "op-1", sub.ID)
		assert.Contains(t, payload.Query, "subscription TreeSubscription")
		assert.Equal(t, []any{"w1"}, payload.Variables["workflows"])

		sendNext(t, conn, sub.ID, `{"data":{"deltas":{"id":"d1","added":{"workflow":{"id":"w1","status":"running"}}}}}`)
		sendNext(t, conn, sub.ID, `{"data":{"deltas":{"updated":{"taskProxies":[{"id":"w1//1/foo","state":"running"}]}}}}`)
		require.NoError(t, conn.WriteJSON(wsMessage{ID: sub.ID, Type: msgComplete}))
	})

	sink := newCollectSink(0)
	err := NewGraphQLClient(url, fixedID("op-1")).Run(context.Background(), []string{"w1"}, sink)
	require.ErrorIs(t, err, ErrStreamComplete)

	deltas := sink.Deltas()
	require.Len(t, deltas, 2)
	assert.Equal(t, "w1", deltas[0].Added.Workflow.ID())
	require.Len(t, deltas[1].Updated.TaskProxies, 1)
	assert.Equal(t, "w1//1/foo", deltas[1].Updated.TaskProxies[0].ID())
	assert.Nil(t, deltas[1].Added, "partial payloads stay partial")
}

func TestGraphQLClient_ServerError(t *testing.T) {
	url := serve(t, func(t *testing.T, conn *websocket.Conn) {
		acceptInit(t, conn)
		sub, _ := readSubscribe(t, conn)
		require.NoError(t, conn.WriteJSON(wsMessage{
			ID:      sub.ID,
			Type:    msgError,
			Payload: json.RawMessage(`[{"message":"unknown workflow"}]`),
		}))
	})

	err := NewGraphQLClient(url, fixedID("op-2")).Run(context.Background(), []string{"nope"}, newCollectSink(0))
	var serr *ServerError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "op-2", serr.OperationID)
	assert.Equal(t, []string{"unknown workflow"}, serr.Messages)
	assert.Contains(t, err.Error(), "unknown workflow")
}

func TestGraphQLClient_CancelSendsComplete(t *testing.T) {
	completed := make(chan string, 1)
	url := serve(t, func(t *testing.T, conn *websocket.Conn) {
		acceptInit(t, conn)
		sub, _ := readSubscribe(t, conn)
		sendNext(t, conn, sub.ID, `{"data":{"deltas":{"added":{"workflow":{"id":"w1"}}}}}`)
		for {
			var m wsMessage
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			if m.Type == msgComplete {
				completed <- m.ID
				return
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := newCollectSink(0)
	errc := make(chan error, 1)
	go func() { errc <- NewGraphQLClient(url, fixedID("op-3")).Run(ctx, nil, sink) }()

	select {
	case <-sink.got:
	case <-time.After(5 * time.Second):
		t.Fatal("no delta received")
	}
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	select {
	case id := <-completed:
		assert.Equal(t, "op-3", id)
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw complete")
	}
}

func TestGraphQLClient_ConnectionDropIsAnError(t *testing.T) {
	url := serve(t, func(t *testing.T, conn *websocket.Conn) {
		acceptInit(t, conn)
		sub, _ := readSubscribe(t, conn)
		sendNext(t, conn, sub.ID, `{"data":{"deltas":{"added":{"workflow":{"id":"w1"}}}}}`)
	})

	sink := newCollectSink(0)
	err := NewGraphQLClient(url).Run(context.Background(), []string{"w1"}, sink)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStreamComplete)
	assert.Len(t, sink.Deltas(), 1, "messages before the failure are kept")
}

func TestGraphQLClient_AnswersPing(t *testing.T) {
	url := serve(t, func(t *testing.T, conn *websocket.Conn) {
		m := readFrame(t, conn)
		require.Equal(t, msgConnectionInit, m.Type)
		require.NoError(t, conn.WriteJSON(wsMessage{Type: tws.ping}))
		assert.Equal(t, tws.pong, readFrame(t, conn).Type)
		require.NoError(t, conn.WriteJSON(wsMessage{Type: msgConnectionAck}))

		sub, _ := readSubscribe(t, conn)
		require.NoError(t, conn.WriteJSON(wsMessage{Type: tws.ping}))
		assert.Equal(t, tws.pong, readFrame(t, conn).Type)
		require.NoError(t, conn.WriteJSON(wsMessage{ID: sub.ID, Type: msgComplete}))
	})

	err := NewGraphQLClient(url).Run(context.Background(), nil, newCollectSink(0))
	assert.ErrorIs(t, err, ErrStreamComplete)
}

func TestGraphQLClient_SinkClosedCompletes(t *testing.T) {
	completed := make(chan struct{})
	url := serve(t, func(t *testing.T, conn *websocket.Conn) {
		acceptInit(t, conn)
		sub, _ := readSubscribe(t, conn)
		sendNext(t, conn, sub.ID, `{"data":{"deltas":{"added":{"workflow":{"id":"w1"}}}}}`)
		sendNext(t, conn, sub.ID, `{"data":{"deltas":{"added":{"workflow":{"id":"w2"}}}}}`)
		for {
			var m wsMessage
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			if m.Type == msgComplete {
				close(completed)
				return
			}
		}
	})

	sink := newCollectSink(1)
	err := NewGraphQLClient(url).Run(context.Background(), nil, sink)
	require.NoError(t, err)
	assert.Len(t, sink.Deltas(), 1)
	select {
	case <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw complete")
	}
}

func TestGraphQLClient_SkipsUnusablePayloads(t *testing.T) {
	url := serve(t, func(t *testing.T, conn *websocket.Conn) {
		acceptInit(t, conn)
		sub, _ := readSubscribe(t, conn)
		sendNext(t, conn, sub.ID, `"garbage"`)
		sendNext(t, conn, sub.ID, `{"data":null,"errors":[{"message":"resolver failed"}]}`)
		sendNext(t, conn, sub.ID, `{"data":{"deltas":{"pruned":{"jobs":["w1//1/foo/01"]}}}}`)
		require.NoError(t, conn.WriteJSON(wsMessage{ID: sub.ID, Type: msgComplete}))
	})

	sink := newCollectSink(0)
	err := NewGraphQLClient(url).Run(context.Background(), nil, sink)
	require.ErrorIs(t, err, ErrStreamComplete)

	deltas := sink.Deltas()
	require.Len(t, deltas, 1)
	assert.Equal(t, []string{"w1//1/foo/01"}, deltas[0].Pruned.Jobs)
}

func TestGraphQLClient_InitPayloadAndHeader(t *testing.T) {
	url := serve(t, func(t *testing.T, conn *websocket.Conn) {
		m := readFrame(t, conn)
		require.Equal(t, msgConnectionInit, m.Type)
		assert.JSONEq(t, `{"token":"secret"}`, string(m.Payload))
		require.NoError(t, conn.WriteJSON(wsMessage{Type: msgConnectionAck}))
		sub, p := readSubscribe(t, conn)
		assert.Contains(t, p.Query, "subscription TableSubscription")
		assert.Nil(t, p.Variables["workflows"])
		require.NoError(t, conn.WriteJSON(wsMessage{ID: sub.ID, Type: msgComplete}))
	})

	c := NewGraphQLClient(url,
		WithQuery(TableQuery()),
		WithInitPayload(map[string]any{"token": "secret"}),
		WithHeader(http.Header{"X-Client": []string{"deltaview"}}),
	)
	assert.ErrorIs(t, c.Run(context.Background(), nil, newCollectSink(0)), ErrStreamComplete)
}

func TestGraphQLClient_RejectedAck(t *testing.T) {
	url := serve(t, func(t *testing.T, conn *websocket.Conn) {
		readFrame(t, conn)
		require.NoError(t, conn.WriteJSON(wsMessage{Type: tws.data}))
	})
	err := NewGraphQLClient(url).Run(context.Background(), nil, newCollectSink(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection_ack")
}

func TestGraphQLClient_DialFailure(t *testing.T) {
	err := NewGraphQLClient("ws://127.0.0.1:1/subscriptions").Run(context.Background(), nil, newCollectSink(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial")
}

// uiHandshake plays the UI server's side of graphql-ws up to the start
// frame. Frame types the server does not know are answered the way the
// UI server answers them, with an error frame.
func uiHandshake(t *testing.T, conn *websocket.Conn) (wsMessage, subscribePayload) {
	t.Helper()
	for {
		m := readFrame(t, conn)
		switch m.Type {
		case msgConnectionInit:
			require.NoError(t, conn.WriteJSON(wsMessage{Type: msgConnectionAck}))
			require.NoError(t, conn.WriteJSON(wsMessage{Type: "ka"}))
		case "start":
			var p subscribePayload
			require.NoError(t, json.Unmarshal(m.Payload, &p))
			return m, p
		default:
			require.NoError(t, conn.WriteJSON(wsMessage{
				ID:      m.ID,
				Type:    msgError,
				Payload: json.RawMessage(`{"message":"Invalid message type: ` + m.Type + `."}`),
			}))
			t.Errorf("client sent %q", m.Type)
			return m, subscribePayload{}
		}
	}
}

func sendData(t *testing.T, conn *websocket.Conn, id, payload string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(wsMessage{ID: id, Type: "data", Payload: json.RawMessage(payload)}))
}

func TestGraphQLClient_GraphQLWS(t *testing.T) {
	url := serveProtocol(t, ProtocolGraphQLWS, func(t *testing.T, conn *websocket.Conn) {
		start, payload := uiHandshake(t, conn)
		assert.Equal(t, "op-ws", start.ID)
		assert.Contains(t, payload.Query, "subscription TreeSubscription")

		sendData(t, conn, start.ID, `{"data":{"deltas":{"id":"w1","added":{"workflow":{"id":"w1","status":"running"}}}}}`)
		require.NoError(t, conn.WriteJSON(wsMessage{Type: "ka"}))
		sendData(t, conn, start.ID, `{"data":{"deltas":{"id":"w1","updated":{"taskProxies":[{"id":"w1//1/foo","state":"running"}]}}}}`)
		require.NoError(t, conn.WriteJSON(wsMessage{ID: start.ID, Type: msgComplete}))
	})

	sink := newCollectSink(0)
	err := NewGraphQLClient(url, fixedID("op-ws")).Run(context.Background(), []string{"w1"}, sink)
	require.ErrorIs(t, err, ErrStreamComplete)

	deltas := sink.Deltas()
	require.Len(t, deltas, 2)
	assert.Equal(t, "w1", deltas[0].Added.Workflow.ID())
	assert.Equal(t, "w1//1/foo", deltas[1].Updated.TaskProxies[0].ID())
}

func TestGraphQLClient_GraphQLWSCancelSendsStop(t *testing.T) {
	frames := make(chan []string, 1)
	url := serveProtocol(t, ProtocolGraphQLWS, func(t *testing.T, conn *websocket.Conn) {
		start, _ := uiHandshake(t, conn)
		sendData(t, conn, start.ID, `{"data":{"deltas":{"added":{"workflow":{"id":"w1"}}}}}`)
		var got []string
		for {
			var m wsMessage
			if err := conn.ReadJSON(&m); err != nil {
				frames <- got
				return
			}
			got = append(got, m.Type+":"+m.ID)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := newCollectSink(0)
	errc := make(chan error, 1)
	go func() { errc <- NewGraphQLClient(url, fixedID("op-stop")).Run(ctx, nil, sink) }()

	select {
	case <-sink.got:
	case <-time.After(5 * time.Second):
		t.Fatal("no delta received")
	}
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	select {
	case got := <-frames:
		assert.Equal(t, []string{"stop:op-stop", "connection_terminate:"}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the connection close")
	}
}

func TestGraphQLClient_GraphQLWSErrorObject(t *testing.T) {
	url := serveProtocol(t, ProtocolGraphQLWS, func(t *testing.T, conn *websocket.Conn) {
		start, _ := uiHandshake(t, conn)
		require.NoError(t, conn.WriteJSON(wsMessage{
			ID:      start.ID,
			Type:    msgError,
			Payload: json.RawMessage(`{"message":"not authorized"}`),
		}))
	})

	err := NewGraphQLClient(url, fixedID("op-err")).Run(context.Background(), nil, newCollectSink(0))
	var serr *ServerError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, []string{"not authorized"}, serr.Messages)
}

func TestGraphQLClient_ConnectionError(t *testing.T) {
	url := serveProtocol(t, ProtocolGraphQLWS, func(t *testing.T, conn *websocket.Conn) {
		readFrame(t, conn)
		require.NoError(t, conn.WriteJSON(wsMessage{
			Type:    msgConnectionError,
			Payload: json.RawMessage(`{"message":"bad token"}`),
		}))
	})

	err := NewGraphQLClient(url).Run(context.Background(), nil, newCollectSink(0))
	var serr *ServerError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, []string{"bad token"}, serr.Messages)
	assert.Contains(t, err.Error(), "connection rejected")
}

func TestGraphQLClient_NoSubprotocolMeansGraphQLWS(t *testing.T) {
	url := serveProtocol(t, "", func(t *testing.T, conn *websocket.Conn) {
		start, _ := uiHandshake(t, conn)
		require.NoError(t, conn.WriteJSON(wsMessage{ID: start.ID, Type: msgComplete}))
	})

	err := NewGraphQLClient(url).Run(context.Background(), nil, newCollectSink(0))
	assert.ErrorIs(t, err, ErrStreamComplete)
}

func TestNewGraphQLClient_KeepsCallerDialer(t *testing.T) {
	d := &websocket.Dialer{Subprotocols: []string{"custom"}, HandshakeTimeout: time.Second}

	c := NewGraphQLClient("ws://example.invalid", WithDialer(d), WithSubprotocols(ProtocolTransportWS))
	assert.Equal(t, []string{"custom"}, d.Subprotocols)
	assert.Equal(t, []string{ProtocolTransportWS}, c.dialer.Subprotocols)
	assert.Equal(t, time.Second, c.dialer.HandshakeTimeout)
	assert.NotSame(t, d, c.dialer)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, errorMessages(json.RawMessage(`[{"message":"a"},{"message":"b"}]`)))
	assert.Equal(t, []string{"c"}, errorMessages(json.RawMessage(`{"message":"c"}`)))
	assert.Equal(t, []string{`"oops"`}, errorMessages(json.RawMessage(`"oops"`)))
}
