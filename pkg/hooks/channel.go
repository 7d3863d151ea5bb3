package hooks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vango-dev/conduit/pkg/channels"
	"github.com/vango-dev/conduit/pkg/layout"
)

// ChannelOptions configures UseChannelLayer.
type ChannelOptions struct {
	// Name is the mailbox to receive on. A random one is used when only
	// GroupName is set.
	Name string

	// GroupName, when set, adds the mailbox to this group and makes the
	// returned Sender broadcast to it.
	GroupName string

	// NoGroupAdd skips adding the mailbox to the group on mount.
	NoGroupAdd bool

	// NoGroupDiscard skips removing the mailbox from the group on unmount.
	NoGroupDiscard bool

	// Receiver is called for every message received on the mailbox.
	Receiver func(ctx context.Context, msg channels.Message)

	// Layer names the channel layer. Default: "default".
	Layer string
}

// Sender publishes a message.
type Sender func(ctx context.Context, msg channels.Message) error

const groupDiscardTimeout = 5 * time.Second

// UseChannelLayer subscribes the component to a mailbox. The receive loop
// stops when the component unmounts. It panics with ErrChannelNameRequired
// when neither Name nor GroupName is set.
func UseChannelLayer(s *layout.Scope, opts ChannelOptions) Sender {
	if opts.Name == "" && opts.GroupName == "" {
		panic(ErrChannelNameRequired)
	}
	rt := RuntimeFrom(s)
	layerName := opts.Layer
	if layerName == "" {
		layerName = channels.DefaultLayer
	}
	layer, err := rt.Layers.Get(layerName)
	if err != nil {
		panic(err)
	}

	channel := layout.UseMemo(s, func() string {
		if opts.Name != "" {
			return opts.Name
		}
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}, opts.Name)

	receiver := layout.UseRefFunc(s, func() *receiverBox { return &receiverBox{} }).Current
	receiver.set(opts.Receiver)

	group := opts.GroupName
	layout.UseEffect(s, func() func() {
		if group == "" || opts.NoGroupAdd {
			return nil
		}
		if err := layer.GroupAdd(s.Context(), group, channel); err != nil {
			rt.Logger.Error("channel group add failed", "group", group, "channel", channel, "error", err)
			return nil
		}
		if opts.NoGroupDiscard {
			return nil
		}
		return func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(s.Context()), groupDiscardTimeout)
			defer cancel()
			if err := layer.GroupDiscard(ctx, group, channel); err != nil {
				rt.Logger.Debug("channel group discard failed", "group", group, "channel", channel, "error", err)
			}
		}
	}, group, channel)

	hasReceiver := opts.Receiver != nil
	layout.UseEffect(s, func() func() {
		if !hasReceiver {
			return nil
		}
		ctx, cancel := context.WithCancel(withEnv(s.Context(), s, rt))
		go receiveLoop(ctx, rt, layer, channel, receiver)
		return cancel
	}, channel, hasReceiver)

	return func(ctx context.Context, msg channels.Message) error {
		if group != "" {
			return layer.GroupSend(ctx, group, msg)
		}
		return layer.Send(ctx, channel, msg)
	}
}

// receiverBox holds the latest receiver; the receive goroutine reads it
// while renders replace it.
type receiverBox struct {
	fn atomic.Pointer[func(context.Context, channels.Message)]
}

func (b *receiverBox) set(fn func(context.Context, channels.Message)) {
	if fn == nil {
		b.fn.Store(nil)
		return
	}
	b.fn.Store(&fn)
}

func (b *receiverBox) get() func(context.Context, channels.Message) {
	if p := b.fn.Load(); p != nil {
		return *p
	}
	return nil
}

func receiveLoop(ctx context.Context, rt *Runtime, layer channels.Layer, channel string, receiver *receiverBox) {
	for {
		msg, err := layer.Receive(ctx, channel)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				rt.Logger.Error("channel receive failed", "channel", channel, "error", err)
			}
			return
		}
		deliverMessage(ctx, rt, channel, receiver.get(), msg)
	}
}

func deliverMessage(ctx context.Context, rt *Runtime, channel string, fn func(context.Context, channels.Message), msg channels.Message) {
	defer func() {
		if r := recover(); r != nil {
			rt.Logger.Error("channel receiver panicked",
				"channel", channel,
				"error", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	if fn != nil {
		fn(ctx, msg)
	}
}
