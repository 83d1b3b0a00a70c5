package websocket

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/i2vstudio/api/internal/model"
	"github.com/i2vstudio/api/internal/runner"
)

// AllJobs is the topic of clients that receive every job's messages
const AllJobs = ""

const sendBufferSize = 256

// Client represents a WebSocket client
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// NewClient creates a client subscribed to jobID, or to every job when jobID is AllJobs
func NewClient(conn *websocket.Conn, jobID string) *Client {
	return &Client{
		JobID: jobID,
		Conn:  conn,
		Send:  make(chan []byte, sendBufferSize),
	}
}

// Hub maintains active WebSocket connections. All membership changes and
// deliveries happen on the Run goroutine, so messages for one job reach each
// client in the order they were broadcast.
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	direct     chan *directMessage

	done chan struct{}
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

type directMessage struct {
	client  *Client
	message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 1024),
		direct:     make(chan *directMessage, 64),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is canceled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.clients {
				for client := range clients {
					close(client.Send)
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			return

		case client := <-h.register:
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			log.Printf("Client registered for job %q", client.JobID)

		case client := <-h.unregister:
			if h.remove(client) {
				log.Printf("Client unregistered from job %q", client.JobID)
			}

		case msg := <-h.broadcast:
			h.deliver(h.clients[msg.JobID], msg.Message)
			if msg.JobID != AllJobs {
				h.deliver(h.clients[AllJobs], msg.Message)
			}

		case msg := <-h.direct:
			if h.clients[msg.client.JobID][msg.client] {
				h.deliver(map[*Client]bool{msg.client: true}, msg.message)
			}
		}
	}
}

// deliver never blocks: a client whose send buffer is full is dropped
func (h *Hub) deliver(clients map[*Client]bool, message []byte) {
	for client := range clients {
		select {
		case client.Send <- message:
		default:
			log.Printf("Dropping slow client for job %q", client.JobID)
			h.remove(client)
		}
	}
}

func (h *Hub) remove(client *Client) bool {
	clients, ok := h.clients[client.JobID]
	if !ok || !clients[client] {
		return false
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
	return true
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a raw message for the job's subscribers and the firehose
func (h *Hub) Broadcast(jobID string, message []byte) {
	select {
	case h.broadcast <- &BroadcastMessage{JobID: jobID, Message: message}:
	case <-h.done:
	}
}

func (h *Hub) broadcastJSON(jobID string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal %T: %v", v, err)
		return
	}
	h.Broadcast(jobID, data)
}

// BroadcastLog relays one worker output line
func (h *Hub) BroadcastLog(jobID, line string) {
	h.broadcastJSON(jobID, model.WSLogMessage{
		Type:    model.WSMessageTypeLog,
		JobID:   jobID,
		Message: line,
	})
}

// BroadcastStatus announces a job state transition
func (h *Hub) BroadcastStatus(jobID string, status model.JobStatus) {
	h.broadcastJSON(jobID, model.WSStatusMessage{
		Type:   model.WSMessageTypeStatus,
		JobID:  jobID,
		Status: status,
	})
}

// BroadcastProgress sends a progress update to all job subscribers
func (h *Hub) BroadcastProgress(jobID string, progress int, status model.JobStatus, step string) {
	h.broadcastJSON(jobID, model.WSProgressMessage{
		Type:        model.WSMessageTypeProgress,
		JobID:       jobID,
		Progress:    progress,
		Status:      status,
		CurrentStep: step,
	})
}

// BroadcastComplete sends a completion message to all job subscribers
func (h *Hub) BroadcastComplete(jobID string, result interface{}) {
	h.broadcastJSON(jobID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		JobID:  jobID,
		Result: result,
	})
}

// BroadcastError sends an error message to all job subscribers
func (h *Hub) BroadcastError(jobID string, code, message string) {
	h.broadcastJSON(jobID, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

// JobStatusChanged implements runner.Observer
func (h *Hub) JobStatusChanged(jobID string, status model.JobStatus) {
	h.BroadcastStatus(jobID, status)
}

// JobLine implements runner.Observer
func (h *Hub) JobLine(jobID string, line string) {
	h.BroadcastLog(jobID, line)
}

var _ runner.Observer = (*Hub)(nil)

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	client := NewClient(c, jobID)

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			h.sendTo(client, pong)
		}
	}
}

// sendTo delivers to a single client through the hub loop, which knows
// whether the client's channel is still open
func (h *Hub) sendTo(client *Client, message []byte) {
	select {
	case h.direct <- &directMessage{client: client, message: message}:
	case <-h.done:
	}
}
