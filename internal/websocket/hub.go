package websocket

import (
	"sync"

	"github.com/isdelr/tts-broker-be/internal/models"
	"github.com/rs/zerolog/log"
)

// deliveryBuffer bounds how many undelivered notifications may queue before new ones are dropped.
const deliveryBuffer = 256

// delivery targets either one client or every connection of an account.
type delivery struct {
	accountID string
	client    *Client
	message   []byte
}

// Hub maintains the set of active clients and pushes account events to them.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// A map of account IDs to the set of connections opened by that account.
	subscriptions map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	deliver    chan delivery

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		deliver:       make(chan delivery, deliveryBuffer),
		done:          make(chan struct{}),
	}
}

// Run starts the Hub's message processing loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				close(client.Send)
			}
			h.clients = make(map[*Client]bool)
			h.subscriptions = make(map[string]map[*Client]bool)
			return
		case client := <-h.register:
			h.clients[client] = true
			h.addSubscription(client)
			log.Info().Str("account_id", client.AccountID).Int("total_clients", len(h.clients)).Msg("Client connected")
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				log.Info().Str("account_id", client.AccountID).Int("total_clients", len(h.clients)).Msg("Client disconnected")
			}
		case d := <-h.deliver:
			if d.client != nil {
				if h.clients[d.client] {
					h.send(d.client, d.message)
				}
				continue
			}
			for client := range h.subscriptions[d.accountID] {
				h.send(client, d.message)
			}
		}
	}
}

// send must only be called from Run, which owns every client's Send channel.
func (h *Hub) send(client *Client, message []byte) {
	select {
	case client.Send <- message:
	default:
		// Slow consumer; disconnect it rather than stall the hub.
		h.drop(client)
	}
}

// Stop ends Run and closes every client's send channel.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastTo queues a message for every connection of accountID. It never blocks;
// when the queue is full the message is dropped.
func (h *Hub) BroadcastTo(accountID string, message []byte) {
	h.enqueue(delivery{accountID: accountID, message: message})
}

func (h *Hub) enqueue(d delivery) {
	if d.message == nil {
		return
	}
	select {
	case h.deliver <- d:
	default:
		log.Warn().Str("account_id", d.accountID).Msg("Notification queue full, dropping message")
	}
}

// NotifyBalance pushes a balance.updated event to the account's connections.
func (h *Hub) NotifyBalance(accountID string, balance int) {
	h.BroadcastTo(accountID, NewBalanceMessage(balance))
}

// NotifyArtifact pushes an artifact.ready event to the account's connections.
func (h *Hub) NotifyArtifact(accountID string, artifact models.Artifact) {
	h.BroadcastTo(accountID, NewArtifactReadyMessage(artifact))
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.Send)
	if subs, ok := h.subscriptions[client.AccountID]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.subscriptions, client.AccountID)
		}
	}
}

func (h *Hub) addSubscription(client *Client) {
	if h.subscriptions[client.AccountID] == nil {
		h.subscriptions[client.AccountID] = make(map[*Client]bool)
	}
	h.subscriptions[client.AccountID][client] = true
}
