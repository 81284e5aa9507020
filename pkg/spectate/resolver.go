// Package spectate turns the external feed's "currently observed identity"
// into target changes for viewers.
package spectate

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/tomaslejdung/obscam/pkg/actor"
	"github.com/tomaslejdung/obscam/pkg/platform/logger"
	"github.com/tomaslejdung/obscam/pkg/registry"
)

// DefaultRosterTTL bounds how long a feed identity is remembered after the
// feed stops mentioning it.
const DefaultRosterTTL = 5 * time.Minute

// Event is one observation from the external feed.
type Event struct {
	ObservedExternalID string
	// VisibilityHint overrides the registered source's preference when set.
	VisibilityHint *bool
}

// TargetChanged names the source viewers should now show. EndpointID is empty
// when the observed identity has no live registration.
type TargetChanged struct {
	ExternalID  string
	DisplayName string
	EndpointID  string
	Visible     bool
}

// Player is one identity known to the feed.
type Player struct {
	ExternalID   string
	DisplayName  string
	IsRegistered bool
}

// Options configures a Resolver.
type Options struct {
	RosterTTL time.Duration
	Logger    *slog.Logger
}

// Resolver de-duplicates feed observations and resolves them to registered
// sources. Inputs are queued and handled on one goroutine, so registry
// notifications can arrive while the registry is locked.
type Resolver struct {
	reg      *registry.Registry
	onTarget func(TargetChanged)
	roster   *ttlcache.Cache[string, string]
	mailbox  *actor.Mailbox[func()]
	log      *slog.Logger

	// owned by the run goroutine
	last string
	hint *bool

	mu      sync.RWMutex
	current TargetChanged
	emitted bool
}

// NewResolver starts a resolver over reg. onTarget is called on the
// resolver's goroutine for every target change.
func NewResolver(reg *registry.Registry, onTarget func(TargetChanged), opts Options) *Resolver {
	if opts.RosterTTL <= 0 {
		opts.RosterTTL = DefaultRosterTTL
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if onTarget == nil {
		onTarget = func(TargetChanged) {}
	}

	roster := ttlcache.New(
		ttlcache.WithTTL[string, string](opts.RosterTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go roster.Start()

	r := &Resolver{
		reg:      reg,
		onTarget: onTarget,
		roster:   roster,
		mailbox:  actor.NewMailbox[func()](),
		log:      opts.Logger,
	}
	reg.Subscribe(r)
	go r.mailbox.Run(func(fn func()) { fn() })
	return r
}

// Observe queues a feed observation.
func (r *Resolver) Observe(ev Event) {
	r.mailbox.Push(func() { r.observe(ev) })
}

// UpdateRoster queues the feed's identity list and links registered sources
// whose display name matches a feed name.
func (r *Resolver) UpdateRoster(players map[string]string) {
	r.mailbox.Push(func() { r.updateRoster(players) })
}

// Ingest applies a decoded feed push: roster first, then the observation.
func (r *Resolver) Ingest(f Feed) {
	r.UpdateRoster(f.Roster)
	r.Observe(Event{ObservedExternalID: f.Observed})
}

// Notify implements registry.Observer.
func (r *Resolver) Notify(n registry.Notification) {
	r.mailbox.Push(r.reevaluate)
}

// Current returns the last emitted target.
func (r *Resolver) Current() (TargetChanged, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, r.emitted
}

// Players lists identities the feed reported recently, ordered by name.
func (r *Resolver) Players() []Player {
	items := r.roster.Items()
	out := make([]Player, 0, len(items))
	for id, it := range items {
		name := it.Value()
		out = append(out, Player{
			ExternalID:   id,
			DisplayName:  name,
			IsRegistered: r.reg.IsRegistered(id, name),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out
}

// Flush blocks until everything queued before the call has been handled.
func (r *Resolver) Flush() {
	done := make(chan struct{})
	if !r.mailbox.Push(func() { close(done) }) {
		return
	}
	<-done
}

// Close stops the resolver after draining queued inputs.
func (r *Resolver) Close() {
	r.mailbox.Close()
	<-r.mailbox.Done()
	r.roster.Stop()
}

func (r *Resolver) observe(ev Event) {
	id := ev.ObservedExternalID
	if id == r.last {
		return
	}
	r.last = id
	r.hint = ev.VisibilityHint

	if id != "" {
		if _, ok := r.reg.ResolveExternal(id); !ok {
			if it := r.roster.Get(id); it != nil {
				r.reg.Correlate(id, it.Value())
			}
		}
	}

	r.emit(r.resolve())
}

func (r *Resolver) updateRoster(players map[string]string) {
	ids := make([]string, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		name := players[id]
		if id == "" || name == "" {
			continue
		}
		r.roster.Set(id, name, ttlcache.DefaultTTL)
		if r.reg.Correlate(id, name) {
			r.log.Info("linked source to feed identity", "externalId", id, "name", name)
		}
	}
}

// reevaluate re-resolves the observed identity after a roster change and
// emits only if the outcome differs from what viewers already have.
func (r *Resolver) reevaluate() {
	if r.last == "" {
		return
	}
	t := r.resolve()

	r.mu.RLock()
	same := r.emitted && r.current == t
	r.mu.RUnlock()
	if same {
		return
	}
	r.emit(t)
}

func (r *Resolver) resolve() TargetChanged {
	if r.last == "" {
		return TargetChanged{}
	}

	if e, ok := r.reg.ResolveExternal(r.last); ok {
		visible := e.Visible
		if r.hint != nil {
			visible = *r.hint
		}
		return TargetChanged{
			ExternalID:  r.last,
			DisplayName: e.DisplayName,
			EndpointID:  e.EndpointID,
			Visible:     visible,
		}
	}

	t := TargetChanged{ExternalID: r.last}
	if it := r.roster.Get(r.last); it != nil {
		t.DisplayName = it.Value()
	}
	return t
}

func (r *Resolver) emit(t TargetChanged) {
	r.mu.Lock()
	r.current = t
	r.emitted = true
	r.mu.Unlock()

	r.log.Info("spectate target changed", "externalId", t.ExternalID, "name", t.DisplayName, "endpoint", t.EndpointID, "visible", t.Visible)
	r.onTarget(t)
}
