package registry

import (
	"testing"

	"pgregory.net/rapid"
)

type regOp struct {
	kind      string // "add", "remove", "clear"
	clientID  uint32
	channelID uint32
}

func drawOp(t *rapid.T) regOp {
	kind := rapid.SampledFrom([]string{"add", "add", "add", "remove", "clear"}).Draw(t, "kind")
	return regOp{
		kind:      kind,
		clientID:  rapid.Uint32Range(0, 4).Draw(t, "clientID"),
		channelID: rapid.Uint32Range(0, 3).Draw(t, "channelID"),
	}
}

// After any sequence of add/remove/clear, StoreInfo's counts match the
// maps' actual cardinality and no reverse-map set is empty.
func TestRegistry_InvariantsHoldAfterAnySequence_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New()
		ops := rapid.SliceOfN(rapid.Custom(drawOp), 0, 50).Draw(t, "ops")

		for _, op := range ops {
			c := fakePeer{id: op.clientID}
			switch op.kind {
			case "add":
				r.Add(c, op.channelID)
			case "remove":
				r.Remove(c)
			case "clear":
				r.Clear()
			}
		}

		r.mu.Lock()
		distinctClients := len(r.clientChannel)
		distinctChannels := len(r.channelClients)
		for ch, set := range r.channelClients {
			if len(set) == 0 {
				t.Fatalf("channel %d has an empty set", ch)
			}
			for id, peer := range set {
				if peer.ClientID() != id {
					t.Fatalf("channel %d set key %d holds peer with id %d", ch, id, peer.ClientID())
				}
				if r.clientChannel[id] != ch {
					t.Fatalf("forward map disagrees with reverse map for client %d", id)
				}
			}
		}
		for id, ch := range r.clientChannel {
			if _, ok := r.channelClients[ch][id]; !ok {
				t.Fatalf("client %d missing from channel %d's set", id, ch)
			}
		}
		r.mu.Unlock()

		info := r.StoreInfo()
		if info.ClientCount != distinctClients {
			t.Fatalf("client_count %d != distinct clients %d", info.ClientCount, distinctClients)
		}
		if info.ChannelCount != distinctChannels {
			t.Fatalf("channel_count %d != distinct channels %d", info.ChannelCount, distinctChannels)
		}
	})
}

// PeersOnSameChannel(c) never contains c.
func TestRegistry_PeersNeverContainSelf_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New()
		n := rapid.IntRange(1, 8).Draw(t, "n")
		channel := rapid.Uint32Range(0, 3).Draw(t, "channel")
		for i := 0; i < n; i++ {
			r.Add(fakePeer{id: uint32(i)}, channel)
		}

		target := fakePeer{id: uint32(rapid.IntRange(0, n-1).Draw(t, "target"))}
		for _, peer := range r.PeersOnSameChannel(target, false) {
			if peer.ClientID() == target.ClientID() {
				t.Fatalf("peers_on_same_channel included self (id=%d)", target.ClientID())
			}
		}
	})
}

// A client on channel 0 always sees an empty peer set when
// ignoreChannelZero is set.
func TestRegistry_ChannelZeroAlwaysEmpty_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New()
		n := rapid.IntRange(1, 8).Draw(t, "n")
		for i := 0; i < n; i++ {
			r.Add(fakePeer{id: uint32(i)}, ChannelZero)
		}

		target := fakePeer{id: uint32(rapid.IntRange(0, n-1).Draw(t, "target"))}
		if peers := r.PeersOnSameChannel(target, true); len(peers) != 0 {
			t.Fatalf("expected empty peer set on channel zero, got %d peers", len(peers))
		}
	})
}

// Re-adding (c, k) when c is already in k returns false. Re-adding to
// a different channel returns true and leaves c in exactly one
// channel.
func TestRegistry_ReaddSemantics_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New()
		c := fakePeer{id: 0}
		first := rapid.Uint32Range(0, 5).Draw(t, "first")
		second := rapid.Uint32Range(0, 5).Draw(t, "second")

		r.Add(c, first)
		if r.Add(c, first) {
			t.Fatal("re-adding to the same channel must return false")
		}

		result := r.Add(c, second)
		if second == first {
			if result {
				t.Fatal("re-adding to the same channel must return false")
			}
		} else if !result {
			t.Fatal("re-adding to a different channel must return true")
		}

		infos := r.ClientInfos()
		if infos[c.ClientID()].Channel != second {
			t.Fatalf("expected client on channel %d, got %d", second, infos[c.ClientID()].Channel)
		}
		if r.StoreInfo().ClientCount != 1 {
			t.Fatal("client must be in exactly one channel")
		}
	})
}
