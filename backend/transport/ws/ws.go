// Package ws is the websocket gateway clients connect to. Every connection
// sends enveloped messages to the registry and receives what the broker
// publishes on the topics of the documents it joined.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"Co-Edit/backend/metrics"
	"Co-Edit/backend/peer"
	"Co-Edit/backend/registry"
	"Co-Edit/backend/transport"
	"Co-Edit/backend/types"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20

	sendBuffer = 256
)

// ErrorTopic is the pseudo topic of the error frames sent to a client whose
// message failed.
const ErrorTopic = "error"

// UserQueryParam names the user of a connection.
const UserQueryParam = "userId"

// Gateway upgrades HTTP requests to websocket connections.
//
// - implements http.Handler
type Gateway struct {
	broker    transport.Broker
	registry  registry.Registry
	lifecycle peer.Lifecycle
	metrics   *metrics.Metrics
	log       zerolog.Logger
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	wg      sync.WaitGroup
}

// NewGateway returns a gateway. lifecycle is told when a user's connection
// closes, m may be nil.
func NewGateway(broker transport.Broker, reg registry.Registry, lifecycle peer.Lifecycle, m *metrics.Metrics,
	log zerolog.Logger) *Gateway {

	return &Gateway{
		broker:    broker,
		registry:  reg,
		lifecycle: lifecycle,
		metrics:   m,
		log:       log.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	sub    transport.Subscription
	send   chan types.TopicMessage
	done   chan struct{}
	log    zerolog.Logger
}

// ServeHTTP implements http.Handler
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	c := &client{
		id:     xid.New().String(),
		userID: r.URL.Query().Get(UserQueryParam),
		conn:   conn,
		send:   make(chan types.TopicMessage, sendBuffer),
		done:   make(chan struct{}),
	}
	c.log = g.log.With().Str("connection", c.id).Logger()

	topics := []string{transport.AckTopic(c.id)}
	if c.userID != "" {
		topics = append(topics, transport.AckTopic(c.userID))
	}

	c.sub, err = g.broker.Subscribe(context.Background(), topics...)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to subscribe connection")
		conn.Close()
		return
	}

	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()

	g.metrics.ConnectionOpened()
	c.log.Info().Str("user", c.userID).Str("remote", r.RemoteAddr).Msg("connection opened")

	g.wg.Add(2)
	go g.writePump(c)
	go g.readPump(c)
}

// Close closes every open connection and waits for them to be cleaned up.
func (g *Gateway) Close() error {
	g.mu.Lock()
	for _, c := range g.clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.conn.Close()
	}
	g.mu.Unlock()

	g.wg.Wait()
	return nil
}

// Connections returns the number of open connections.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

func (g *Gateway) readPump(c *client) {
	defer g.wg.Done()
	defer g.disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}

		var env types.Envelope
		err = json.Unmarshal(data, &env)
		if err != nil {
			g.sendError(c, xerrors.Errorf("failed to decode envelope: %w", err))
			continue
		}

		err = g.route(c, env)
		if err != nil {
			c.log.Warn().Str("type", env.Type).Err(err).Msg("failed to process message")
			g.sendError(c, err)
		}
	}
}

// route keeps the connection's subscriptions in line with the documents it
// joined and hands the envelope to the registry.
func (g *Gateway) route(c *client, env types.Envelope) error {
	ctx := context.Background()

	var target struct {
		types.DocumentRef
		ClientID string `json:"clientId"`
		UserID   string `json:"userId"`
	}
	if len(env.Payload) > 0 {
		err := json.Unmarshal(env.Payload, &target)
		if err != nil {
			return xerrors.Errorf("failed to decode %s payload: %w", env.Type, err)
		}
	}

	switch env.Type {
	case types.JoinMessage{}.Name(), types.StateRequestMessage{}.Name():
		if c.userID == "" && target.UserID != "" {
			c.userID = target.UserID
			err := c.sub.Add(ctx, transport.AckTopic(c.userID))
			if err != nil {
				return err
			}
		}
		if target.SessionID != "" && target.DocumentID != "" {
			err := c.sub.Add(ctx, transport.DocumentTopics(target.SessionID, target.DocumentID)...)
			if err != nil {
				return err
			}
		}
	case types.OperationMessage{}.Name():
		if target.ClientID != "" {
			err := c.sub.Add(ctx, transport.AckTopic(target.ClientID))
			if err != nil {
				return err
			}
		}
	}

	err := g.registry.ProcessEnvelope(ctx, env, registry.Origin{ConnectionID: c.id, UserID: c.userID})
	if err != nil {
		return err
	}

	if env.Type == (types.LeaveMessage{}).Name() && target.SessionID != "" && target.DocumentID != "" {
		return c.sub.Remove(ctx, transport.DocumentTopics(target.SessionID, target.DocumentID)...)
	}
	return nil
}

func (g *Gateway) sendError(c *client, err error) {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})

	select {
	case c.send <- types.TopicMessage{Topic: ErrorTopic, Type: ErrorTopic, Payload: payload}:
	default:
		c.log.Warn().Msg("send buffer full, error frame dropped")
	}
}

func (g *Gateway) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		g.wg.Done()
	}()

	messages := c.sub.Messages()

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.write(msg) {
				return
			}
		case msg := <-c.send:
			if !c.write(msg) {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) write(msg types.TopicMessage) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteJSON(msg)
	if err != nil {
		c.log.Debug().Err(err).Msg("failed to write message")
		return false
	}
	return true
}

func (g *Gateway) disconnect(c *client) {
	close(c.done)

	err := c.sub.Close()
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to close subscription")
	}

	g.mu.Lock()
	delete(g.clients, c.id)
	g.mu.Unlock()

	g.metrics.ConnectionClosed()
	c.log.Info().Str("user", c.userID).Msg("connection closed")

	if c.userID != "" && g.lifecycle != nil {
		g.lifecycle.HandleDisconnect(context.Background(), c.userID)
	}
}
