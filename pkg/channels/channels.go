// Package channels is a named-mailbox pub/sub facility. Components use it
// through the channel layer hook to talk across connections.
package channels

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLayer is the name of the layer every process has.
const DefaultLayer = "default"

var (
	// ErrChannelFull is returned when a mailbox is at capacity.
	ErrChannelFull = errors.New("channels: channel full")

	// ErrInvalidName is returned for channel or group names outside
	// [a-zA-Z0-9_.-] (plus one "!" for process-local channels) or longer
	// than 100 characters.
	ErrInvalidName = errors.New("channels: invalid name")

	// ErrLayerNotFound is returned when a named layer does not exist.
	ErrLayerNotFound = errors.New("channels: layer not found")
)

// Message is the payload carried by a layer.
type Message map[string]any

// Layer is a pub/sub backend.
type Layer interface {
	// NewChannel returns a fresh unique channel name starting with prefix.
	NewChannel(prefix string) string

	// Send appends msg to channel's mailbox.
	Send(ctx context.Context, channel string, msg Message) error

	// Receive blocks until a message arrives on channel or ctx is done.
	// Concurrent receivers compete; each message goes to one of them.
	Receive(ctx context.Context, channel string) (Message, error)

	// GroupAdd adds channel to group.
	GroupAdd(ctx context.Context, group, channel string) error

	// GroupDiscard removes channel from group.
	GroupDiscard(ctx context.Context, group, channel string) error

	// GroupSend sends msg to every channel in group. Full mailboxes are
	// skipped.
	GroupSend(ctx context.Context, group string, msg Message) error
}

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_.\-]+!?[a-zA-Z0-9_.\-]*$`)

// ValidName reports whether name may be used as a channel or group name.
func ValidName(name string) bool {
	return len(name) > 0 && len(name) < 100 && nameRe.MatchString(name)
}

// MemoryOption configures an InMemoryLayer.
type MemoryOption func(*InMemoryLayer)

// WithCapacity sets the per-channel mailbox size. Default: 100.
func WithCapacity(n int) MemoryOption {
	return func(l *InMemoryLayer) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithExpiry sets how long an undelivered message is kept. Default: 60s.
func WithExpiry(d time.Duration) MemoryOption {
	return func(l *InMemoryLayer) {
		l.expiry = d
	}
}

// WithGroupExpiry sets how long a group membership lasts. Default: 24h.
func WithGroupExpiry(d time.Duration) MemoryOption {
	return func(l *InMemoryLayer) {
		l.groupExpiry = d
	}
}

// WithLayerClock replaces time.Now.
func WithLayerClock(now func() time.Time) MemoryOption {
	return func(l *InMemoryLayer) {
		l.now = now
	}
}

type envelope struct {
	msg       Message
	expiresAt time.Time
}

// mailbox is one channel's queue. It is dropped from the layer once it is
// empty, nobody is receiving on it and it belongs to no group.
type mailbox struct {
	ch         chan envelope
	receivers  int
	groups     int
	lastExpiry time.Time
}

// InMemoryLayer is a process-local Layer.
type InMemoryLayer struct {
	capacity    int
	expiry      time.Duration
	groupExpiry time.Duration
	now         func() time.Time

	mu     sync.Mutex
	swept  time.Time
	boxes  map[string]*mailbox
	groups map[string]map[string]time.Time
}

// NewInMemoryLayer creates an empty layer.
func NewInMemoryLayer(opts ...MemoryOption) *InMemoryLayer {
	l := &InMemoryLayer{
		capacity:    100,
		expiry:      60 * time.Second,
		groupExpiry: 24 * time.Hour,
		now:         time.Now,
		boxes:       make(map[string]*mailbox),
		groups:      make(map[string]map[string]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewChannel implements Layer.
func (l *InMemoryLayer) NewChannel(prefix string) string {
	l.mu.Lock()
	l.sweep()
	l.mu.Unlock()
	return prefix + "!" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// box returns channel's mailbox, creating it. Callers hold l.mu.
func (l *InMemoryLayer) box(channel string) *mailbox {
	b, ok := l.boxes[channel]
	if !ok {
		b = &mailbox{ch: make(chan envelope, l.capacity)}
		l.boxes[channel] = b
	}
	return b
}

// release drops channel's mailbox if nothing refers to it and it holds no
// deliverable messages. Callers hold l.mu.
func (l *InMemoryLayer) release(channel string) {
	b, ok := l.boxes[channel]
	if !ok || b.receivers > 0 || b.groups > 0 {
		return
	}
	if len(b.ch) == 0 || (!b.lastExpiry.IsZero() && !l.now().Before(b.lastExpiry)) {
		delete(l.boxes, channel)
	}
}

// sweep releases idle mailboxes whose messages have all expired. It runs at
// most once per message expiry period. Callers hold l.mu.
func (l *InMemoryLayer) sweep() {
	if l.expiry <= 0 {
		return
	}
	now := l.now()
	if now.Sub(l.swept) < l.expiry {
		return
	}
	l.swept = now
	for name := range l.boxes {
		l.release(name)
	}
}

// Send implements Layer.
func (l *InMemoryLayer) Send(ctx context.Context, channel string, msg Message) error {
	if !ValidName(channel) {
		return fmt.Errorf("%w: %q", ErrInvalidName, channel)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	env := envelope{msg: msg}
	if l.expiry > 0 {
		env.expiresAt = l.now().Add(l.expiry)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.box(channel)
	select {
	case b.ch <- env:
		b.lastExpiry = env.expiresAt
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrChannelFull, channel)
	}
}

// Receive implements Layer.
func (l *InMemoryLayer) Receive(ctx context.Context, channel string) (Message, error) {
	if !ValidName(channel) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, channel)
	}
	l.mu.Lock()
	b := l.box(channel)
	b.receivers++
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		b.receivers--
		l.release(channel)
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case env := <-b.ch:
			if !env.expiresAt.IsZero() && !l.now().Before(env.expiresAt) {
				continue
			}
			return env.msg, nil
		}
	}
}

// GroupAdd implements Layer.
func (l *InMemoryLayer) GroupAdd(ctx context.Context, group, channel string) error {
	if !ValidName(group) || !ValidName(channel) {
		return fmt.Errorf("%w: %q/%q", ErrInvalidName, group, channel)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	members, ok := l.groups[group]
	if !ok {
		members = make(map[string]time.Time)
		l.groups[group] = members
	}
	if _, ok := members[channel]; !ok {
		l.box(channel).groups++
	}
	members[channel] = l.now()
	return nil
}

// GroupDiscard implements Layer.
func (l *InMemoryLayer) GroupDiscard(ctx context.Context, group, channel string) error {
	if !ValidName(group) || !ValidName(channel) {
		return fmt.Errorf("%w: %q/%q", ErrInvalidName, group, channel)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if members, ok := l.groups[group]; ok {
		if _, ok := members[channel]; ok {
			l.leave(group, channel)
		}
	}
	return nil
}

// GroupSend implements Layer.
func (l *InMemoryLayer) GroupSend(ctx context.Context, group string, msg Message) error {
	if !ValidName(group) {
		return fmt.Errorf("%w: %q", ErrInvalidName, group)
	}
	for _, ch := range l.members(group) {
		if err := l.Send(ctx, ch, msg); err != nil && !errors.Is(err, ErrChannelFull) {
			return err
		}
	}
	return nil
}

// members returns the live members of group, dropping expired ones.
func (l *InMemoryLayer) members(group string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	var out []string
	for ch, joined := range l.groups[group] {
		if l.groupExpiry > 0 && now.Sub(joined) >= l.groupExpiry {
			l.leave(group, ch)
			continue
		}
		out = append(out, ch)
	}
	return out
}

// leave removes channel from group and releases its mailbox if that was
// the last reference. Callers hold l.mu.
func (l *InMemoryLayer) leave(group, channel string) {
	members := l.groups[group]
	delete(members, channel)
	if len(members) == 0 {
		delete(l.groups, group)
	}
	if b, ok := l.boxes[channel]; ok {
		b.groups--
		l.release(channel)
	}
}

func (l *InMemoryLayer) mailboxes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.boxes)
}

// Flush drops every mailbox and group.
func (l *InMemoryLayer) Flush() {
	l.mu.Lock()
	l.boxes = make(map[string]*mailbox)
	l.groups = make(map[string]map[string]time.Time)
	l.mu.Unlock()
}

// Layers maps names to layers.
type Layers struct {
	mu     sync.RWMutex
	layers map[string]Layer
}

// NewLayers returns a set with an InMemoryLayer registered as DefaultLayer.
func NewLayers() *Layers {
	return &Layers{layers: map[string]Layer{DefaultLayer: NewInMemoryLayer()}}
}

// Add registers layer under name.
func (ls *Layers) Add(name string, layer Layer) {
	ls.mu.Lock()
	ls.layers[name] = layer
	ls.mu.Unlock()
}

// Get returns the named layer.
func (ls *Layers) Get(name string) (Layer, error) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	if l, ok := ls.layers[name]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrLayerNotFound, name)
}
