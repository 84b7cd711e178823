// Package wsbridge is the reference websocket fan-out subscriber sink:
// it subscribes to the event bus and forwards every topic to connected
// browser/CLI clients over github.com/coder/websocket, adapted from the
// teacher's internal/ws hub (connection registry, write pump, broadcast
// drop-on-full-buffer). Per spec §5, a write carries a deadline and a
// subscriber that misses it is disconnected rather than allowed to
// stall the bus.
package wsbridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/signalmesh/fleetwatch/internal/eventbus"
)

// Message is the envelope forwarded to every connected client.
type Message struct {
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// client is one connected websocket subscriber.
type client struct {
	conn    *websocket.Conn
	send    chan Message
	limiter *rate.Limiter
}

// Bridge manages connected websocket clients and relays event bus
// traffic to them.
type Bridge struct {
	mu             sync.RWMutex
	clients        map[*client]struct{}
	bus            *eventbus.Bus
	logger         *zap.Logger
	writeDeadline  time.Duration
	clientBuffer   int
	handles        []subHandle
}

type subHandle struct {
	topic  string
	handle eventbus.Handle
	inbox  *eventbus.Inbox
}

// New creates a Bridge. writeDeadline bounds every client write (spec
// §5 default 1s); clientBuffer is the per-client outbound queue depth.
func New(bus *eventbus.Bus, logger *zap.Logger, writeDeadline time.Duration, clientBuffer int) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if writeDeadline <= 0 {
		writeDeadline = time.Second
	}
	if clientBuffer <= 0 {
		clientBuffer = 256
	}
	return &Bridge{
		clients:       make(map[*client]struct{}),
		bus:           bus,
		logger:        logger,
		writeDeadline: writeDeadline,
		clientBuffer:  clientBuffer,
	}
}

// Run subscribes to every derived-event topic and relays them to
// connected clients until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	topics := []string{eventbus.TopicMeasurement, eventbus.TopicHealth, eventbus.TopicAnomaly, eventbus.TopicRegion, eventbus.TopicAlert}
	for _, topic := range topics {
		inbox, handle := b.bus.Subscribe(topic, 0)
		b.handles = append(b.handles, subHandle{topic: topic, handle: handle, inbox: inbox})
		go b.relay(ctx, topic, inbox)
	}
	<-ctx.Done()
	for _, h := range b.handles {
		b.bus.Unsubscribe(h.topic, h.handle)
	}
}

func (b *Bridge) relay(ctx context.Context, topic string, inbox *eventbus.Inbox) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-inbox.C:
			b.broadcast(Message{Topic: topic, Timestamp: time.Now(), Payload: ev.Payload})
		}
	}
}

// broadcast fans a message out to every connected client without
// blocking: a client whose send buffer is full has its message dropped.
func (b *Bridge) broadcast(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		select {
		case c.send <- msg:
		default:
			b.logger.Warn("websocket client buffer full, dropping message", zap.String("topic", msg.Topic))
		}
	}
}

// ServeHTTP upgrades the connection and streams bus events to it until
// the client disconnects or writes start missing their deadline.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		b.logger.Error("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	c := &client{
		conn:    conn,
		send:    make(chan Message, b.clientBuffer),
		limiter: rate.NewLimiter(rate.Limit(50), 50),
	}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.clients, c)
		b.mu.Unlock()
	}()

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		b.writePump(ctx, c)
		close(done)
	}()

	// We don't expect client-to-server traffic; read to detect
	// disconnects and drain anything the client sends.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	<-done
}

func (b *Bridge) writePump(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, b.writeDeadline)
			err := wsjson.Write(writeCtx, c.conn, msg)
			cancel()
			if err != nil {
				b.logger.Debug("websocket write missed deadline, disconnecting", zap.Error(err))
				return
			}
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (b *Bridge) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
