package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roach88/deltaview/internal/model"
)

// Websocket subprotocols understood by GraphQLClient.
//
// The cylc UI server speaks the legacy graphql-ws protocol
// (subscriptions-transport-ws); newer GraphQL servers speak
// graphql-transport-ws. The client offers both and follows the server's
// choice.
const (
	ProtocolGraphQLWS   = "graphql-ws"
	ProtocolTransportWS = "graphql-transport-ws"
)

// Message types shared by both protocols.
const (
	msgConnectionInit  = "connection_init"
	msgConnectionAck   = "connection_ack"
	msgConnectionError = "connection_error" // graphql-ws only
	msgError           = "error"
	msgComplete        = "complete"
)

// dialect names the frames that differ between the two protocols. An
// empty type is not part of that protocol.
type dialect struct {
	name      string
	start     string // client: begin an operation
	data      string // server: one execution result
	stop      string // client: end an operation
	terminate string // client: end the connection
	ping      string
	pong      string
	keepAlive string // server: keep-alive, ignored
}

var dialects = map[string]dialect{
	ProtocolGraphQLWS: {
		name:      ProtocolGraphQLWS,
		start:     "start",
		data:      "data",
		stop:      "stop",
		terminate: "connection_terminate",
		keepAlive: "ka",
	},
	ProtocolTransportWS: {
		name:  ProtocolTransportWS,
		start: "subscribe",
		data:  "next",
		stop:  "complete",
		ping:  "ping",
		pong:  "pong",
	},
}

// dialectFor returns the dialect of the negotiated subprotocol. A server
// that selects none is assumed to speak graphql-ws, as the UI server's
// reference client does.
func dialectFor(subprotocol string) dialect {
	if d, ok := dialects[subprotocol]; ok {
		return d
	}
	return dialects[ProtocolGraphQLWS]
}

// is reports whether a frame type equals want, a frame this protocol has.
func is(want, t string) bool { return want != "" && t == want }

const writeTimeout = 10 * time.Second

var errSessionClosed = errors.New("connection closed")

// wsMessage is one protocol frame.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// gqlError is a GraphQL error object as carried by data and error frames.
type gqlError struct {
	Message string `json:"message"`
}

// ServerError is a subscription rejected or ended by the server with
// GraphQL errors.
type ServerError struct {
	OperationID string
	Messages    []string
}

func (e *ServerError) Error() string {
	if e.OperationID == "" {
		return "server error: " + strings.Join(e.Messages, "; ")
	}
	return fmt.Sprintf("subscription %s failed: %s", e.OperationID, strings.Join(e.Messages, "; "))
}

// GraphQLClient subscribes to deltas over graphql-ws or
// graphql-transport-ws.
//
// Each Run opens its own connection and issues one subscription whose
// operation id is a UUIDv7. The client does not retry: dial, protocol and
// read failures end Run with an error.
type GraphQLClient struct {
	url         string
	query       string
	header      http.Header
	dialer      *websocket.Dialer
	protocols   []string
	newID       func() string
	initPayload map[string]any
}

// ClientOption configures a GraphQLClient.
type ClientOption func(*GraphQLClient)

// WithQuery sets the subscription document. Defaults to TreeQuery().
func WithQuery(q string) ClientOption {
	return func(c *GraphQLClient) { c.query = q }
}

// WithHeader sets extra headers for the websocket handshake.
func WithHeader(h http.Header) ClientOption {
	return func(c *GraphQLClient) { c.header = h }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *GraphQLClient) { c.dialer = d }
}

// WithSubprotocols restricts the subprotocols offered to the server, in
// order of preference.
func WithSubprotocols(protocols ...string) ClientOption {
	return func(c *GraphQLClient) { c.protocols = protocols }
}

// WithOperationID sets the generator for subscription operation ids.
func WithOperationID(fn func() string) ClientOption {
	return func(c *GraphQLClient) { c.newID = fn }
}

// WithInitPayload sets the connection_init payload (e.g. an auth token).
func WithInitPayload(p map[string]any) ClientOption {
	return func(c *GraphQLClient) { c.initPayload = p }
}

// NewGraphQLClient creates a client for the websocket endpoint url.
func NewGraphQLClient(url string, opts ...ClientOption) *GraphQLClient {
	c := &GraphQLClient{
		url:       url,
		query:     TreeQuery(),
		protocols: []string{ProtocolGraphQLWS, ProtocolTransportWS},
		newID:     func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	// Copy so a caller's dialer is never modified.
	base := c.dialer
	if base == nil {
		base = websocket.DefaultDialer
	}
	d := *base
	d.Subprotocols = slices.Clone(c.protocols)
	c.dialer = &d
	return c
}

// Run implements Source.
//
// Run returns nil when the sink stops accepting messages, ctx.Err() when
// the context is cancelled, ErrStreamComplete when the server completes
// the subscription, and an error for any transport or protocol failure.
func (c *GraphQLClient) Run(ctx context.Context, workflows []string, sink Sink) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()

	s := &wsSession{conn: conn, opID: c.newID(), proto: dialectFor(conn.Subprotocol())}
	stop := context.AfterFunc(ctx, s.shutdown)
	defer stop()

	if err := s.handshake(c.initPayload); err != nil {
		return s.cause(ctx, err)
	}

	payload, err := json.Marshal(subscribePayload{Query: c.query, Variables: Variables(workflows)})
	if err != nil {
		return fmt.Errorf("encode subscribe: %w", err)
	}
	if err := s.write(wsMessage{ID: s.opID, Type: s.proto.start, Payload: payload}); err != nil {
		return s.cause(ctx, err)
	}
	s.setSubscribed()

	slog.Info("subscription started",
		"url", c.url,
		"protocol", s.proto.name,
		"operation", s.opID,
		"workflows", workflows,
	)
	err = s.receive(sink)
	if err == nil {
		slog.Info("subscription stopped: sink closed", "operation", s.opID)
		s.complete()
		return nil
	}
	return s.cause(ctx, err)
}

// wsSession serializes writes on one connection.
type wsSession struct {
	conn  *websocket.Conn
	opID  string
	proto dialect

	mu         sync.Mutex
	subscribed bool
	done       bool
}

func (s *wsSession) write(m wsMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(m)
}

func (s *wsSession) writeLocked(m wsMessage) error {
	if s.done {
		return errSessionClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(m)
}

func (s *wsSession) setSubscribed() {
	s.mu.Lock()
	s.subscribed = true
	s.mu.Unlock()
}

// complete ends the subscription and closes the connection. Safe to call
// more than once and from any goroutine.
func (s *wsSession) complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	if s.subscribed {
		_ = s.writeLocked(wsMessage{ID: s.opID, Type: s.proto.stop})
	}
	if s.proto.terminate != "" {
		_ = s.writeLocked(wsMessage{Type: s.proto.terminate})
	}
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	s.done = true
	s.conn.Close()
}

// shutdown runs when the context is cancelled.
func (s *wsSession) shutdown() {
	s.complete()
}

// cause maps an error seen after cancellation to the context error.
func (s *wsSession) cause(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *wsSession) handshake(initPayload map[string]any) error {
	var payload json.RawMessage
	if initPayload != nil {
		b, err := json.Marshal(initPayload)
		if err != nil {
			return fmt.Errorf("encode connection_init: %w", err)
		}
		payload = b
	}
	if err := s.write(wsMessage{Type: msgConnectionInit, Payload: payload}); err != nil {
		return fmt.Errorf("connection_init: %w", err)
	}
	for {
		var m wsMessage
		if err := s.conn.ReadJSON(&m); err != nil {
			return fmt.Errorf("await connection_ack: %w", err)
		}
		switch {
		case m.Type == msgConnectionAck:
			return nil
		case m.Type == msgConnectionError:
			return fmt.Errorf("connection rejected: %w",
				&ServerError{Messages: errorMessages(m.Payload)})
		case is(s.proto.ping, m.Type):
			if err := s.write(wsMessage{Type: s.proto.pong}); err != nil {
				return fmt.Errorf("pong: %w", err)
			}
		case is(s.proto.keepAlive, m.Type):
		default:
			return fmt.Errorf("await connection_ack: unexpected %q", m.Type)
		}
	}
}

// receive reads frames until the stream ends. It returns nil only when
// the sink refuses a message.
func (s *wsSession) receive(sink Sink) error {
	for {
		var m wsMessage
		if err := s.conn.ReadJSON(&m); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		switch {
		case m.Type == s.proto.data:
			d, ok := s.decodeNext(m)
			if !ok {
				continue
			}
			if !sink.Submit(d) {
				return nil
			}
		case m.Type == msgError:
			return &ServerError{OperationID: m.ID, Messages: errorMessages(m.Payload)}
		case m.Type == msgComplete:
			slog.Info("subscription completed by server", "operation", s.opID)
			return ErrStreamComplete
		case is(s.proto.ping, m.Type):
			if err := s.write(wsMessage{Type: s.proto.pong}); err != nil {
				return fmt.Errorf("pong: %w", err)
			}
		case is(s.proto.pong, m.Type), is(s.proto.keepAlive, m.Type):
		default:
			slog.Debug("ignoring frame", "type", m.Type, "operation", s.opID)
		}
	}
}

// decodeNext turns a data (or next) payload into a delta. Malformed payloads and
// payloads carrying only errors are logged and skipped.
func (s *wsSession) decodeNext(m wsMessage) (model.Delta, bool) {
	var result struct {
		Data   json.RawMessage `json:"data"`
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(m.Payload, &result); err != nil {
		slog.Warn("malformed result payload", "operation", s.opID, "error", err)
		return model.Delta{}, false
	}
	if len(result.Errors) > 0 && string(result.Errors) != "null" {
		slog.Warn("subscription result carries errors",
			"operation", s.opID,
			"errors", strings.Join(errorMessages(result.Errors), "; "))
	}
	if len(result.Data) == 0 || string(result.Data) == "null" {
		return model.Delta{}, false
	}
	d, err := model.DecodeDelta(m.Payload)
	if err != nil {
		slog.Warn("malformed delta", "operation", s.opID, "error", err)
		return model.Delta{}, false
	}
	return d, true
}

// errorMessages reads an error payload: a list of GraphQL errors
// (graphql-transport-ws) or a single {"message": ...} object (graphql-ws).
func errorMessages(raw json.RawMessage) []string {
	var errs []gqlError
	if err := json.Unmarshal(raw, &errs); err == nil {
		out := make([]string, 0, len(errs))
		for _, e := range errs {
			out = append(out, e.Message)
		}
		return out
	}
	var one gqlError
	if err := json.Unmarshal(raw, &one); err == nil && one.Message != "" {
		return []string{one.Message}
	}
	return []string{string(raw)}
}
