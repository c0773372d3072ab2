// Package view derives what the user sees from the session and runs the
// user's actions against the wallet gateway and the store client.
package view

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atinyakov/GifHub/internal/client/session"
	"github.com/atinyakov/GifHub/internal/failure"
	"github.com/atinyakov/GifHub/internal/models"
)

// Mode selects which screen is rendered.
type Mode string

const (
	Unauthenticated            Mode = "unauthenticated"
	AuthenticatedUninitialized Mode = "uninitialized"
	AuthenticatedReady         Mode = "ready"
)

// ModeOf derives the mode from a session snapshot. Without an identity the
// mode is Unauthenticated whatever the records say.
func ModeOf(s session.Snapshot) Mode {
	if !s.Identity.Present() {
		return Unauthenticated
	}
	if s.Records.Exists() {
		return AuthenticatedReady
	}
	return AuthenticatedUninitialized
}

// Loading reports whether an identity is present but the first read of
// the store has not finished yet. Neither the initialize nor the entry
// form may be offered in that state.
func Loading(s session.Snapshot) bool {
	return s.Identity.Present() && s.Records.Kind == models.Unknown && s.FetchErr == nil
}

// ErrBusy is returned when an action is started while a conflicting one
// is still in flight. Initialize, Submit and Refresh conflict with each
// other and with the background refresh.
var ErrBusy = errors.New("action already in progress")

// Action names an affordance.
type Action string

const (
	ActionConnect    Action = "connect"
	ActionInitialize Action = "initialize"
	ActionSubmit     Action = "submit"
	ActionRefresh    Action = "refresh"
)

// Wallet is the part of the wallet gateway the controller uses.
type Wallet interface {
	SilentConnect(ctx context.Context) (models.Identity, bool)
	Connect(ctx context.Context) (models.Identity, error)
}

// Store is the part of the store client the controller uses.
type Store interface {
	InitializeStore(ctx context.Context, id models.Identity) error
	AppendEntry(ctx context.Context, id models.Identity, text string) error
	Refresh(ctx context.Context) (models.RecordList, error)
}

// Notice is a message shown above the current screen.
type Notice struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Model is everything the page needs to render.
type Model struct {
	Mode          Mode            `json:"mode"`
	Identity      models.Identity `json:"identity,omitempty"`
	ShortIdentity string          `json:"shortIdentity,omitempty"`
	Records       []models.Record `json:"records"`
	Input         string          `json:"input"`
	Notice        *Notice         `json:"notice,omitempty"`
	// Loading means the first read for the identity is still in flight.
	Loading bool `json:"loading"`
	// FetchFailed means the store state is unknown because the last read
	// failed; the page offers a retry instead of assuming no store exists.
	FetchFailed bool            `json:"fetchFailed"`
	Busy        map[string]bool `json:"busy"`
	// Screen identifies what the page shows apart from the input text and
	// the busy flags. The page reloads only when it changes.
	Screen  string `json:"screen"`
	Version uint64 `json:"version"`
}

// Controller owns the user-facing state machine.
type Controller struct {
	session *session.Store
	wallet  Wallet
	store   Store
	log     *zap.Logger

	// slot admits one store operation at a time.
	slot chan struct{}

	mu         sync.Mutex
	connecting bool
	storeOp    Action
	notice     *Notice
	seq        uint64
	watchers   map[uint64]func(Model)
	running    bool
	group      *errgroup.Group
	ctx        context.Context
	cancel     context.CancelFunc
	unsub      func()
}

// NewController wires the controller. Call Start before use.
func NewController(s *session.Store, w Wallet, st Store, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		session:  s,
		wallet:   w,
		store:    st,
		log:      log.With(zap.String("component", "view")),
		slot:     make(chan struct{}, 1),
		watchers: make(map[uint64]func(Model)),
	}
}

// Start subscribes to the session and attempts a silent connect in the
// background. An identity change triggers a store refresh.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("controller already started")
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.group = &errgroup.Group{}
	c.unsub = c.session.Subscribe(c.onSessionChange)
	c.mu.Unlock()

	c.goBackground("silent_connect", func(ctx context.Context) {
		if id, ok := c.wallet.SilentConnect(ctx); ok {
			c.log.Info("restored trusted session", zap.String("identity", string(id)))
		}
	})
	return nil
}

// Stop unsubscribes from the session and waits for background work.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel, group, unsub := c.cancel, c.group, c.unsub
	c.mu.Unlock()

	unsub()
	cancel()
	_ = group.Wait()
}

func (c *Controller) goBackground(name string, fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	ctx := c.ctx
	c.group.Go(func() error {
		c.log.Debug("background task", zap.String("task", name))
		fn(ctx)
		return nil
	})
}

func (c *Controller) onSessionChange(prev, next session.Snapshot) {
	if prev.Identity != next.Identity && next.Identity.Present() {
		c.goBackground("refresh", func(ctx context.Context) {
			c.runRefresh(ctx, uuid.NewString())
		})
	}
	c.broadcast()
}

// Connect asks the wallet for an interactive connection.
func (c *Controller) Connect(ctx context.Context) error {
	return c.run(ctx, ActionConnect, func(ctx context.Context, log *zap.Logger) error {
		id, err := c.wallet.Connect(ctx)
		if err != nil {
			return err
		}
		log.Info("wallet connected", zap.String("identity", string(id)))
		return nil
	})
}

// Initialize creates the remote store for the connected identity.
func (c *Controller) Initialize(ctx context.Context) error {
	return c.run(ctx, ActionInitialize, func(ctx context.Context, log *zap.Logger) error {
		return c.store.InitializeStore(ctx, c.session.Snapshot().Identity)
	})
}

// SetInput updates the pending entry text.
func (c *Controller) SetInput(text string) {
	c.session.SetInput(text)
}

// Submit appends the pending input. The input is cleared only after the
// append succeeded.
func (c *Controller) Submit(ctx context.Context) error {
	return c.run(ctx, ActionSubmit, func(ctx context.Context, log *zap.Logger) error {
		snap := c.session.Snapshot()
		if err := c.store.AppendEntry(ctx, snap.Identity, snap.Input); err != nil {
			return err
		}
		if c.session.Snapshot().Input == snap.Input {
			c.session.SetInput("")
		}
		return nil
	})
}

// Refresh re-reads the store.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.run(ctx, ActionRefresh, func(ctx context.Context, log *zap.Logger) error {
		_, err := c.store.Refresh(ctx)
		return err
	})
}

// runRefresh waits for the store slot so that its read never races a
// write and its read-back.
func (c *Controller) runRefresh(ctx context.Context, opID string) {
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return
	}
	c.mu.Lock()
	c.storeOp = ActionRefresh
	c.mu.Unlock()
	c.broadcast()

	if _, err := c.store.Refresh(ctx); err != nil {
		c.log.Warn("refresh failed", zap.String("op_id", opID), zap.String("kind", failure.Kind(err)), zap.Error(err))
	}

	c.mu.Lock()
	c.release(ActionRefresh)
	c.mu.Unlock()
	c.broadcast()
}

// tryAcquire claims action without waiting. Connect has its own flag;
// store actions share the slot. c.mu must be held.
func (c *Controller) tryAcquire(action Action) bool {
	if action == ActionConnect {
		if c.connecting {
			return false
		}
		c.connecting = true
		return true
	}
	select {
	case c.slot <- struct{}{}:
		c.storeOp = action
		return true
	default:
		return false
	}
}

// release undoes tryAcquire. c.mu must be held.
func (c *Controller) release(action Action) {
	if action == ActionConnect {
		c.connecting = false
		return
	}
	c.storeOp = ""
	<-c.slot
}

// run guards action with its busy flag and turns its error into a
// notice. The action keeps running if ctx is cancelled by the caller
// going away.
func (c *Controller) run(ctx context.Context, action Action, fn func(ctx context.Context, log *zap.Logger) error) error {
	c.mu.Lock()
	if !c.tryAcquire(action) {
		c.mu.Unlock()
		return ErrBusy
	}
	c.notice = nil
	c.mu.Unlock()
	c.broadcast()

	log := c.log.With(zap.String("op_id", uuid.NewString()), zap.String("action", string(action)))
	log.Debug("action started")
	err := fn(context.WithoutCancel(ctx), log)

	c.mu.Lock()
	c.release(action)
	if err != nil {
		c.notice = &Notice{Kind: "error", Text: failure.Message(err)}
	}
	c.mu.Unlock()

	if err != nil {
		log.Warn("action failed", zap.String("kind", failure.Kind(err)), zap.Error(err))
	} else {
		log.Debug("action finished")
	}
	c.broadcast()
	return err
}

// View returns the current render model.
func (c *Controller) View() Model {
	snap := c.session.Snapshot()
	m := Model{
		Mode:     ModeOf(snap),
		Identity: snap.Identity,
		Records:  []models.Record{},
		Input:    snap.Input,
		Version:  snap.Version,
		Busy:     make(map[string]bool, 4),
	}
	if snap.Identity.Present() {
		m.ShortIdentity = snap.Identity.Short()
	}
	if m.Mode == AuthenticatedReady {
		m.Records = append(m.Records, snap.Records.Records...)
	}
	if m.Mode != Unauthenticated && snap.FetchErr != nil {
		m.FetchFailed = true
	}
	m.Loading = Loading(snap)

	c.mu.Lock()
	m.Busy[string(ActionConnect)] = c.connecting
	for _, a := range []Action{ActionInitialize, ActionSubmit, ActionRefresh} {
		m.Busy[string(a)] = c.storeOp == a
	}
	if c.notice != nil {
		n := *c.notice
		m.Notice = &n
	}
	c.mu.Unlock()

	if m.Notice == nil && m.FetchFailed {
		m.Notice = &Notice{Kind: "warning", Text: "Could not load the store: " + failure.Message(snap.FetchErr)}
	}
	m.Screen = screenOf(m)
	return m
}

// screenOf fingerprints the parts of m that change the page layout.
func screenOf(m Model) string {
	data, err := json.Marshal(struct {
		Mode        Mode
		Identity    models.Identity
		Records     []models.Record
		Notice      *Notice
		Loading     bool
		FetchFailed bool
	}{m.Mode, m.Identity, m.Records, m.Notice, m.Loading, m.FetchFailed})
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return strconv.FormatUint(h.Sum64(), 16)
}

// Watch calls fn with a fresh model after every change until the
// returned function is called.
func (c *Controller) Watch(fn func(Model)) (unwatch func()) {
	c.mu.Lock()
	c.seq++
	id := c.seq
	c.watchers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

func (c *Controller) broadcast() {
	c.mu.Lock()
	if len(c.watchers) == 0 {
		c.mu.Unlock()
		return
	}
	fns := make([]func(Model), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	m := c.View()
	for _, fn := range fns {
		fn(m)
	}
}
