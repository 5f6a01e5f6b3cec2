package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/driveledger/internal/identity"
)

// Registry is read-mostly. Writers are serialized by writeMu so that a
// channel becomes visible to readers only once it is fully built and stored.
type Registry struct {
	mu        sync.RWMutex
	writeMu   sync.Mutex
	channels  map[ChannelID]*Channel
	drives    map[identity.PeerKey]map[identity.PeerKey]struct{}
	listeners []Listener
	store     Store
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. store may be nil.
func NewRegistry(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels: make(map[ChannelID]*Channel),
		drives:   make(map[identity.PeerKey]map[identity.PeerKey]struct{}),
		store:    store,
		logger:   logger,
	}
}

// Subscribe registers a lifecycle listener.
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// Load restores channels and drives from the store.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	chs, err := r.store.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("channels: load channels: %w", err)
	}
	drives, err := r.store.ListDrives(ctx)
	if err != nil {
		return fmt.Errorf("channels: load drives: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range chs {
		r.channels[ch.ID] = ch.clone()
	}
	for _, d := range drives {
		r.drives[d.Key] = replicatorSet(d.Replicators)
	}
	channelsActive.Set(float64(len(r.channels)))
	r.logger.Info("channel registry loaded", "channels", len(chs), "drives", len(drives))
	return nil
}

// Create registers a channel. The stored flags never change afterwards.
func (r *Registry) Create(ctx context.Context, ch Channel) error {
	if err := ch.validate(); err != nil {
		return err
	}
	stored := ch.clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	_, exists := r.channels[ch.ID]
	r.mu.RUnlock()
	if exists {
		return ErrChannelExists
	}
	if r.store != nil {
		if err := r.store.SaveChannel(ctx, stored); err != nil {
			return fmt.Errorf("channels: persist: %w", err)
		}
	}

	r.mu.Lock()
	r.channels[ch.ID] = stored
	listeners := append([]Listener(nil), r.listeners...)
	channelsActive.Set(float64(len(r.channels)))
	r.mu.Unlock()

	r.logger.Info("channel created", "channel", ch.ID.Short(), "owner", ch.Owner.Short(), "drive", ch.Drive.Short())
	for _, l := range listeners {
		l.ChannelCreated(*stored.clone())
	}
	return nil
}

// Close removes a channel.
func (r *Registry) Close(ctx context.Context, id ChannelID) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	_, ok := r.channels[id]
	r.mu.RUnlock()
	if !ok {
		return ErrChannelNotFound
	}
	if r.store != nil {
		if err := r.store.DeleteChannel(ctx, id); err != nil {
			return fmt.Errorf("channels: delete: %w", err)
		}
	}

	r.mu.Lock()
	delete(r.channels, id)
	listeners := append([]Listener(nil), r.listeners...)
	channelsActive.Set(float64(len(r.channels)))
	r.mu.Unlock()

	r.logger.Info("channel closed", "channel", id.Short())
	for _, l := range listeners {
		l.ChannelClosed(id)
	}
	return nil
}

// Lookup returns a copy of the channel.
func (r *Registry) Lookup(id ChannelID) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	if !ok {
		return Channel{}, ErrChannelNotFound
	}
	return *ch.clone(), nil
}

// Exists reports whether the channel is registered.
func (r *Registry) Exists(id ChannelID) bool {
	r.mu.RLock()
	_, ok := r.channels[id]
	r.mu.RUnlock()
	return ok
}

// RoleOf classifies peer against the channel: its owner, an accepted
// receiver or a replicator of its drive, or unrelated.
func (r *Registry) RoleOf(id ChannelID, peer identity.PeerKey) (Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	if !ok {
		return RoleUnrelated, ErrChannelNotFound
	}
	if ch.Owner == peer {
		return RoleOwner, nil
	}
	for _, rcv := range ch.Receivers {
		if rcv == peer {
			return RoleParticipant, nil
		}
	}
	if _, ok := r.drives[ch.Drive][peer]; ok {
		return RoleParticipant, nil
	}
	return RoleUnrelated, nil
}

// IsReceiver reports whether peer is the owner or an accepted receiver.
func (r *Registry) IsReceiver(id ChannelID, peer identity.PeerKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	if !ok {
		return false
	}
	if ch.Owner == peer {
		return true
	}
	for _, rcv := range ch.Receivers {
		if rcv == peer {
			return true
		}
	}
	return false
}

// SetDrive replaces the replicator set of a drive.
func (r *Registry) SetDrive(ctx context.Context, d Drive) error {
	if d.Key.IsZero() {
		return ErrInvalidDrive
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.store != nil {
		if err := r.store.SaveDrive(ctx, d); err != nil {
			return fmt.Errorf("channels: persist drive: %w", err)
		}
	}
	set := replicatorSet(d.Replicators)
	r.mu.Lock()
	r.drives[d.Key] = set
	r.mu.Unlock()
	r.logger.Info("drive updated", "drive", d.Key.Short(), "replicators", len(set))
	return nil
}

// IsDriveReplicator reports whether peer is a registered replicator of drive.
func (r *Registry) IsDriveReplicator(drive, peer identity.PeerKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.drives[drive][peer]
	return ok
}

// DriveReplicators lists a drive's replicators in key order.
func (r *Registry) DriveReplicators(drive identity.PeerKey) []identity.PeerKey {
	r.mu.RLock()
	set := r.drives[drive]
	out := make([]identity.PeerKey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// List returns all channels ordered by creation time.
func (r *Registry) List() []Channel {
	r.mu.RLock()
	out := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, *ch.clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func replicatorSet(keys []identity.PeerKey) map[identity.PeerKey]struct{} {
	set := make(map[identity.PeerKey]struct{}, len(keys))
	for _, k := range keys {
		if !k.IsZero() {
			set[k] = struct{}{}
		}
	}
	return set
}
