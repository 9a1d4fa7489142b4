package instrument

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/instrumentkit/instrument-core/internal/iprop"
)

// Subsystem groups related properties under a dotted path. It shares the
// driver's operation lock and transport but carries its own cache,
// patches and validators.
type Subsystem struct {
	Base
}

// ChannelIDPlaceholder is replaced by the channel id in channel property
// commands when no custom Command rewriter is configured.
const ChannelIDPlaceholder = "{ch}"

// ChannelConfig declares a channel group.
type ChannelConfig struct {
	// Properties is the property set stamped onto every channel instance.
	// Declarations are immutable, so instances share them.
	Properties []*iprop.Property

	// Command rewrites an owner command for a channel id. The default
	// replaces ChannelIDPlaceholder with the id.
	Command func(id, cmd string) string
}

// ChannelGroup stamps out one property owner per channel id.
//
// Instances are memoized: the same id always yields the same *Channel, so
// per-instance cache, patches and validators survive between lookups.
type ChannelGroup struct {
	name  string
	owner *Base
	props []*iprop.Property
	cmd   func(id, cmd string) string

	mu        sync.Mutex
	instances map[string]*Channel
	order     []string
}

// Channel is one instantiated member of a channel group.
type Channel struct {
	Base
	id string
}

// ID returns the channel id.
func (c *Channel) ID() string { return c.id }

func newChannelGroup(name string, owner *Base, cfg ChannelConfig) *ChannelGroup {
	cmd := cfg.Command
	if cmd == nil {
		cmd = func(id, command string) string {
			return strings.ReplaceAll(command, ChannelIDPlaceholder, id)
		}
	}
	return &ChannelGroup{
		name:      name,
		owner:     owner,
		props:     cfg.Properties,
		cmd:       cmd,
		instances: make(map[string]*Channel),
	}
}

// Name returns the group name.
func (g *ChannelGroup) Name() string { return g.name }

// Channel returns the owner for the given channel id, creating it on
// first use. Ids are opaque; they must not contain '.', '[' or ']'.
func (g *ChannelGroup) Channel(id string) (*Channel, error) {
	if id == "" || strings.ContainsAny(id, ".[]") {
		return nil, fmt.Errorf("%w: invalid channel id %q for group %s",
			ErrNotFound, id, g.owner.qual(g.name))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if ch, ok := g.instances[id]; ok {
		return ch, nil
	}

	ch := &Channel{id: id}
	path := fmt.Sprintf("%s[%s]", g.owner.qual(g.name), id)
	ch.Base = newBase(path, g.owner.drv, &channelBackend{
		parent:  g.owner.backend,
		id:      id,
		rewrite: g.cmd,
	})
	for _, p := range g.props {
		ch.props[p.Name()] = p
		ch.order = append(ch.order, p.Name())
	}

	g.instances[id] = ch
	g.order = append(g.order, id)
	g.owner.drv.logger.Debug("channel instantiated", "path", path)
	return ch, nil
}

// PropertyNames returns the names of the properties stamped onto every
// channel instance, in declaration order.
func (g *ChannelGroup) PropertyNames() []string {
	names := make([]string, 0, len(g.props))
	for _, p := range g.props {
		names = append(names, p.Name())
	}
	return names
}

// IDs returns the instantiated channel ids in first-use order.
func (g *ChannelGroup) IDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	return ids
}

func (g *ChannelGroup) instance(id string) (*Channel, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.instances[id]
	return ch, ok
}

func (g *ChannelGroup) liveInstances() []*Channel {
	g.mu.Lock()
	defer g.mu.Unlock()
	chans := make([]*Channel, 0, len(g.order))
	for _, id := range g.order {
		chans = append(chans, g.instances[id])
	}
	return chans
}

// channelBackend rewrites commands for one channel id before handing them
// to the parent backend.
type channelBackend struct {
	parent  backend
	id      string
	rewrite func(id, cmd string) string
}

func (cb *channelBackend) defaultGet(ctx context.Context, cmd string) (string, error) {
	return cb.parent.defaultGet(ctx, cb.rewrite(cb.id, cmd))
}

func (cb *channelBackend) defaultSet(ctx context.Context, cmd, value string) error {
	return cb.parent.defaultSet(ctx, cb.rewrite(cb.id, cmd), value)
}

func (cb *channelBackend) checkOperation(ctx context.Context) error {
	return cb.parent.checkOperation(ctx)
}

func (cb *channelBackend) reopen(ctx context.Context) error {
	return cb.parent.reopen(ctx)
}
