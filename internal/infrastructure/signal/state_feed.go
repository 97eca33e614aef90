package signal

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"facecast/internal/core/domain"
	"facecast/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// feedClient serializes all writes to one connection. The reducer
// publishes, the handler replays and pings; gorilla/websocket allows
// only one writer at a time, so every write goes through the mutex.
type feedClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *feedClient) writeJSON(v interface{}, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(v)
}

func (c *feedClient) ping(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// StateFeed pushes session snapshots to connected UI clients over
// WebSocket. It implements ports.StateNotifier: Publish never blocks
// the session reducer, slow clients are dropped instead.
type StateFeed struct {
	connections map[string]*feedClient
	latest      *domain.SessionSnapshot
	mu          sync.RWMutex

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

type stateMessage struct {
	Type     string                  `json:"type"`
	Snapshot *domain.SessionSnapshot `json:"snapshot,omitempty"`
}

func NewStateFeed(writeTimeout time.Duration, logger *zap.SugaredLogger) *StateFeed {
	return &StateFeed{
		connections:  make(map[string]*feedClient),
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Publish fans the snapshot out to every connected client. Called from
// the session reducer on every state change.
func (f *StateFeed) Publish(snapshot domain.SessionSnapshot) {
	f.mu.Lock()
	f.latest = &snapshot
	clients := make(map[string]*feedClient, len(f.connections))
	for id, client := range f.connections {
		clients[id] = client
	}
	f.mu.Unlock()

	msg := stateMessage{Type: "state", Snapshot: &snapshot}
	for id, client := range clients {
		if err := client.writeJSON(msg, f.writeTimeout); err != nil {
			f.logger.Infow("dropping slow state client", "client_id", id, "error", err)
			f.remove(id)
		}
	}
}

func (f *StateFeed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	clientID := utils.GenerateClientID()
	client := &feedClient{conn: conn}

	f.mu.Lock()
	f.connections[clientID] = client
	latest := f.latest
	f.mu.Unlock()

	f.logger.Infow("state client connected", "client_id", clientID)

	// New clients get the current state immediately, not on the next
	// change.
	if latest != nil {
		if err := client.writeJSON(stateMessage{Type: "state", Snapshot: latest}, f.writeTimeout); err != nil {
			f.remove(clientID)
			return
		}
	}

	conn.SetReadDeadline(time.Now().Add(f.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(f.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(f.pingInterval)
	defer pingTicker.Stop()

	errorChan := make(chan error, 1)

	// The feed is one-way; the reader only notices disconnects and
	// keeps pong handling alive.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(f.readTimeout))
		}
	}()

	for {
		select {
		case <-pingTicker.C:
			if err := client.ping(f.writeTimeout); err != nil {
				f.logger.Infow("error sending ping", "client_id", clientID, "error", err)
				f.remove(clientID)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				f.logger.Infow("error reading from state client", "client_id", clientID, "error", err)
			}
			f.remove(clientID)
			f.logger.Infow("state client disconnected", "client_id", clientID)
			return
		}
	}
}

func (f *StateFeed) remove(clientID string) {
	f.mu.Lock()
	delete(f.connections, clientID)
	f.mu.Unlock()
}

func (f *StateFeed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.connections)
}

func (f *StateFeed) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": f.ClientCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
