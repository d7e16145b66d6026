// Package registry implements the concurrent channel<->client
// membership map. A single Registry instance is created once by the
// server and passed by reference to the listener and every connection
// handler; there is no process-wide singleton.
package registry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Peer is the minimal capability set the registry needs from a
// connected client: a stable id plus the two fields introspection
// exposes. Any type implementing it, including a test double with
// fixed values, can be tracked, so registry tests never need a real
// QUIC connection.
type Peer interface {
	ClientID() uint32
	Alias() string
	RemoteAddr() string
}

// ChannelZero is the reserved quarantine channel: clients on it
// receive and send nothing externally.
const ChannelZero uint32 = 0

// Registry holds two logically coherent maps: client->channel and
// channel->set-of-clients. Mutations are serialized behind a single
// coarse mutex; the critical sections are small and channel/client
// cardinality is low, so this is sufficient.
type Registry struct {
	mu             sync.Mutex
	clientChannel  map[uint32]uint32
	channelClients map[uint32]map[uint32]Peer

	nextID    atomic.Uint32
	createdAt time.Time
}

// New creates an empty registry with its uptime clock started now.
func New() *Registry {
	return &Registry{
		clientChannel:  make(map[uint32]uint32),
		channelClients: make(map[uint32]map[uint32]Peer),
		createdAt:      time.Now(),
	}
}

// NewClientID mints the next process-unique client id. The first id
// issued is 0; subsequent ids increase by 1 and wrap on overflow.
func (r *Registry) NewClientID() uint32 {
	return r.nextID.Add(1) - 1
}

// Add assigns client to channelID. If the client is already on that
// channel this is a no-op returning false. If the client is on a
// different channel it is moved: removed from the old channel's set
// (collapsing that entry if it becomes empty) before being inserted
// into the new one. Returns true on any mutation.
func (r *Registry) Add(client Peer, channelID uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := client.ClientID()
	if current, ok := r.clientChannel[id]; ok {
		if current == channelID {
			return false
		}
		r.removeFromChannelLocked(current, id)
	}

	set, ok := r.channelClients[channelID]
	if !ok {
		set = make(map[uint32]Peer)
		r.channelClients[channelID] = set
	}
	set[id] = client
	r.clientChannel[id] = channelID
	return true
}

// Remove erases client's membership entirely. Returns false if the
// client had no entry.
func (r *Registry) Remove(client Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := client.ClientID()
	channelID, ok := r.clientChannel[id]
	if !ok {
		return false
	}
	delete(r.clientChannel, id)
	r.removeFromChannelLocked(channelID, id)
	return true
}

// removeFromChannelLocked deletes id from channelID's set and collapses
// the set's entry if it becomes empty. Callers must hold r.mu.
func (r *Registry) removeFromChannelLocked(channelID, id uint32) {
	set, ok := r.channelClients[channelID]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.channelClients, channelID)
	}
}

// Clear empties both maps. Intended for tests and full-registry
// resets; the relay itself never calls this in steady-state operation.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clientChannel = make(map[uint32]uint32)
	r.channelClients = make(map[uint32]map[uint32]Peer)
}

// PeersOnSameChannel returns a snapshot slice of every client sharing
// client's channel, excluding client itself. If ignoreChannelZero is
// true and client is on channel 0, or if client is not registered, the
// result is empty. The returned slice is a fresh copy: callers may
// iterate it without holding the registry lock, which matters for
// fan-out.
func (r *Registry) PeersOnSameChannel(client Peer, ignoreChannelZero bool) []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := client.ClientID()
	channelID, ok := r.clientChannel[id]
	if !ok {
		return nil
	}
	if ignoreChannelZero && channelID == ChannelZero {
		return nil
	}

	set := r.channelClients[channelID]
	peers := make([]Peer, 0, len(set))
	for peerID, peer := range set {
		if peerID == id {
			continue
		}
		peers = append(peers, peer)
	}
	return peers
}

// StoreInfo is the consistent snapshot exposed by GET /info/store.
type StoreInfo struct {
	ChannelCount int           `json:"channel_count"`
	ClientCount  int           `json:"client_count"`
	NextClientID uint32        `json:"next_client_id"`
	Uptime       time.Duration `json:"uptime"`
}

// StoreInfo returns a coherent snapshot of registry sizes, the next id
// the client factory will issue, and elapsed uptime.
func (r *Registry) StoreInfo() StoreInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	return StoreInfo{
		ChannelCount: len(r.channelClients),
		ClientCount:  len(r.clientChannel),
		NextClientID: r.nextID.Load(),
		Uptime:       time.Since(r.createdAt),
	}
}

// ClientInfo is one entry of the map exposed by GET /info/clients.
type ClientInfo struct {
	Alias      string `json:"alias"`
	Channel    uint32 `json:"channel"`
	RemoteAddr string `json:"remote"`
}

// ClientInfos returns a consistent snapshot of every registered
// client's public identity fields, keyed by id.
func (r *Registry) ClientInfos() map[uint32]ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make(map[uint32]ClientInfo, len(r.clientChannel))
	for id, channelID := range r.clientChannel {
		peer := r.channelClients[channelID][id]
		infos[id] = ClientInfo{
			Alias:      peer.Alias(),
			Channel:    channelID,
			RemoteAddr: peer.RemoteAddr(),
		}
	}
	return infos
}
