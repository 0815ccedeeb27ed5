package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Engine executes blog, profile and post operations against a Store. Each
// operation is one Store.Update; preconditions are checked against the
// committed state inside that unit of work.
type Engine struct {
	// mu orders commits and their notifications so sinks observe events in
	// commit order.
	mu sync.Mutex

	store    Store
	verifier Verifier
	clock    clock.Clock
	notifier *Notifier
	limits   Limits
	log      zerolog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithVerifier replaces the default SignerSet verifier.
func WithVerifier(v Verifier) EngineOption {
	return func(e *Engine) { e.verifier = v }
}

// WithClock sets the clock used for post timestamps.
func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithNotifier sets the event notifier.
func WithNotifier(n *Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithLimits sets field length limits.
func WithLimits(l Limits) EngineOption {
	return func(e *Engine) { e.limits = l.withDefaults() }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// NewEngine returns an Engine over store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		verifier: SignerSet{},
		clock:    clock.New(),
		limits:   DefaultLimits(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = NewNotifier(e.log)
	}
	return e
}

// Limits returns the field limits in effect.
func (e *Engine) Limits() Limits { return e.limits }

// Notifier returns the notifier events are delivered through.
func (e *Engine) Notifier() *Notifier { return e.notifier }

// Store returns the underlying store.
func (e *Engine) Store() Store { return e.store }

func (e *Engine) commit(ctx context.Context, op string, fn func(Tx) error, ev func() PostEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var event *PostEvent
	err := e.store.Update(ctx, func(tx Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if ev == nil {
			return nil
		}
		pe := ev()
		if j, ok := tx.(Journal); ok {
			if err := j.Append(pe); err != nil {
				return asStorage("append event", pe.PostID, err)
			}
		}
		event = &pe
		return nil
	})
	if err != nil {
		e.log.Debug().Err(err).Str("op", op).Msg("operation aborted")
		return err
	}
	if event != nil {
		e.log.Debug().Str("op", op).Str("event", event.String()).Msg("operation committed")
		// The mutation is committed; a caller that has gone away must not
		// cut delivery short.
		e.notifier.Notify(context.WithoutCancel(ctx), *event)
	}
	return nil
}

// InitBlog creates an empty blog administered by the caller.
func (e *Engine) InitBlog(ctx context.Context, c Caller) (Address, error) {
	if !e.verifier.Authenticated(c.Authority, c.Signers) {
		return None, &AuthorizationError{Authority: c.Authority, Reason: "authority did not sign the request"}
	}
	var addr Address
	err := e.commit(ctx, "init_blog", func(tx Tx) error {
		var err error
		addr, err = tx.Allocate(KindBlog, e.limits.BlogSpace())
		if err != nil {
			return asStorage("allocate blog", None, err)
		}
		return Save(tx, addr, &Blog{Administrator: c.Authority, Head: None})
	}, nil)
	if err != nil {
		return None, err
	}
	return addr, nil
}

// CloseBlog destroys an empty blog. Only its administrator may close it.
func (e *Engine) CloseBlog(ctx context.Context, c Caller, blog Address) error {
	return e.commit(ctx, "close_blog", func(tx Tx) error {
		var b Blog
		if err := Load(tx, blog, &b); err != nil {
			return err
		}
		if err := e.authorize(c, b.Administrator, "blog administrator"); err != nil {
			return err
		}
		if !b.Head.IsNone() {
			return &ConsistencyError{Reason: fmt.Sprintf("blog %s still has posts", blog)}
		}
		return asStorage("destroy blog", blog, tx.Destroy(blog))
	}, nil)
}

// Blog returns the chain head record.
func (e *Engine) Blog(ctx context.Context, addr Address) (*Blog, error) {
	var b Blog
	if err := e.store.View(ctx, func(tx Tx) error { return Load(tx, addr, &b) }); err != nil {
		return nil, err
	}
	return &b, nil
}

// Post returns a post record.
func (e *Engine) Post(ctx context.Context, addr Address) (*Post, error) {
	var p Post
	if err := e.store.View(ctx, func(tx Tx) error { return Load(tx, addr, &p) }); err != nil {
		return nil, err
	}
	return &p, nil
}

// Profile returns a profile record.
func (e *Engine) Profile(ctx context.Context, addr Address) (*Profile, error) {
	var p Profile
	if err := e.store.View(ctx, func(tx Tx) error { return Load(tx, addr, &p) }); err != nil {
		return nil, err
	}
	return &p, nil
}
