package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/openfield/crmsync/internal/localstore"
	"github.com/openfield/crmsync/internal/model"
	"github.com/openfield/crmsync/internal/remote"
)

// settingsCollection holds the single remote configuration document.
// It is not one of the four sync loops; it is pulled on full sync and
// pushed explicitly through PushConfig.
const (
	settingsCollection model.Collection = "settings"
	settingsDocID                       = "app"
)

// Config holds engine tuning knobs.
type Config struct {
	// Debounce batches local change bursts before a push cycle.
	Debounce time.Duration

	// TaxonomyDebounce is the longer debounce for the reference
	// lists, which change rarely; a shorter window would waste
	// remote writes on full set reconciliations.
	TaxonomyDebounce time.Duration

	// Settle is how long the echo gate stays up after a pull batch.
	Settle time.Duration

	// Logger for engine activity.
	Logger *log.Logger

	// OnPushError, when set, receives per-record push failures for a
	// user-visible transient notice. The record itself stays dirty
	// and is retried on the next cycle regardless.
	OnPushError func(col model.Collection, err error)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce:         500 * time.Millisecond,
		TaxonomyDebounce: 2 * time.Second,
		Settle:           500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Engine coordinates pull, push and cascade operations for one device.
// At most one sync session runs at a time; StartSync supersedes any
// session already running.
type Engine struct {
	local  *localstore.Store
	remote remote.Store
	cfg    *Config
	logger *log.Logger
	gate   *Gate
	cols   []*collection

	// startMu serializes StartSync and ForceFullSync end to end, so
	// two concurrent starts cannot interleave their stop-then-register
	// sequences and orphan a session.
	startMu sync.Mutex

	mu      sync.Mutex
	session *session
}

// session is one cancellation scope: the catch-up task, four push
// loops and four listeners all live under ctx and are reaped by Stop.
type session struct {
	tenant string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	unsubMu sync.Mutex
	unsubs  []remote.CancelFunc
}

func (s *session) addUnsub(cancel remote.CancelFunc) {
	s.unsubMu.Lock()
	s.unsubs = append(s.unsubs, cancel)
	s.unsubMu.Unlock()
}

// New creates an engine. The store must be schema-initialized.
func New(local *localstore.Store, rem remote.Store, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	def := DefaultConfig()
	if cfg.Debounce == 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.TaxonomyDebounce == 0 {
		cfg.TaxonomyDebounce = def.TaxonomyDebounce
	}
	if cfg.Settle == 0 {
		cfg.Settle = def.Settle
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}

	e := &Engine{
		local:  local,
		remote: rem,
		cfg:    cfg,
		logger: cfg.Logger,
		gate:   NewGate(cfg.Settle),
	}
	e.cols = e.buildCollections()
	return e
}

// StartSync starts a sync session for the tenant. Any session already
// running is stopped first. Concurrent starts are serialized, so at
// most one session survives.
//
// The call blocks through the incremental pull and the settle delay;
// push loops and listeners are running when it returns nil.
func (e *Engine) StartSync(ctx context.Context, tenant string) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	return e.startSession(ctx, tenant)
}

// startSession is the body of StartSync. Callers hold startMu.
func (e *Engine) startSession(ctx context.Context, tenant string) error {
	e.StopSync()

	sctx, cancel := context.WithCancel(ctx)
	s := &session{tenant: tenant, ctx: sctx, cancel: cancel}

	e.mu.Lock()
	e.session = s
	e.mu.Unlock()

	watermark, err := e.local.Watermark(sctx)
	if err != nil {
		e.teardown(s)
		return fmt.Errorf("failed to read watermark: %w", err)
	}

	e.logger.Printf("Starting sync for tenant %s (watermark=%q)", tenant, watermark)

	if err := e.pullCatchUp(sctx, tenant, watermark); err != nil {
		e.teardown(s)
		return fmt.Errorf("incremental pull failed: %w", err)
	}

	sessionStart := model.Now()
	if err := e.local.SetWatermark(sctx, sessionStart); err != nil {
		e.teardown(s)
		return fmt.Errorf("failed to advance watermark: %w", err)
	}

	// The catch-up is not complete until its settle delay has passed;
	// only then may push loops observe the change stream.
	select {
	case <-time.After(e.cfg.Settle):
	case <-sctx.Done():
		e.teardown(s)
		return sctx.Err()
	}

	// A StopSync during the pull or the settle wait has already torn
	// this session down; starting its loops would orphan them.
	e.mu.Lock()
	superseded := e.session != s
	e.mu.Unlock()
	if superseded {
		e.teardown(s)
		return fmt.Errorf("sync session stopped during startup")
	}

	for _, c := range e.cols {
		s.wg.Add(1)
		go e.pushLoop(s, c)
	}

	e.attachListeners(s, sessionStart)

	e.logger.Printf("Sync session running for tenant %s", tenant)
	return nil
}

// StopSync stops the running session, if any. It unsubscribes every
// listener and waits for every loop to halt before returning; no
// callback of the old session fires afterwards. Safe to call when
// nothing is running.
func (e *Engine) StopSync() {
	e.mu.Lock()
	s := e.session
	e.session = nil
	e.mu.Unlock()

	if s == nil {
		return
	}
	e.teardown(s)
	e.logger.Printf("Sync session stopped for tenant %s", s.tenant)
}

func (e *Engine) teardown(s *session) {
	s.cancel()

	s.unsubMu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.unsubMu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}

	s.wg.Wait()
}

// ForceFullSync discards the watermark and rebuilds local state from
// the remote store: a full pull of all four collections plus the
// settings document, then a fresh session. The outcome is reported
// through onComplete; the engine keeps running (or stays stopped) on
// failure exactly as the callback says.
func (e *Engine) ForceFullSync(ctx context.Context, tenant string, onComplete func(error)) {
	e.startMu.Lock()
	err := func() error {
		e.StopSync()

		if err := e.local.ClearWatermark(ctx); err != nil {
			return fmt.Errorf("failed to clear watermark: %w", err)
		}
		if err := e.pullSettings(ctx, tenant); err != nil {
			return fmt.Errorf("failed to pull settings: %w", err)
		}
		// The fresh session sees the empty watermark and pulls
		// everything, then restamps and restarts the loops.
		return e.startSession(ctx, tenant)
	}()
	e.startMu.Unlock()

	if err != nil {
		e.logger.Printf("Full sync failed: %v", err)
	} else {
		e.logger.Printf("Full sync complete for tenant %s", tenant)
	}
	if onComplete != nil {
		onComplete(err)
	}
}

// PushConfig merge-writes the settings document and mirrors the same
// keys into the local settings table. Not part of the dirty-tracking
// push path.
func (e *Engine) PushConfig(ctx context.Context, tenant string, settings map[string]string) error {
	fields := make(map[string]any, len(settings))
	for k, v := range settings {
		fields[k] = v
	}
	if err := e.remote.UpsertMerge(ctx, tenant, settingsCollection, settingsDocID, fields); err != nil {
		return fmt.Errorf("failed to push settings: %w", err)
	}
	if err := e.local.PutSettings(ctx, settings); err != nil {
		return fmt.Errorf("failed to store settings locally: %w", err)
	}
	return nil
}

// settingsDefaults are the documented values for absent settings
// fields, applied on pull so a partial remote document still yields a
// complete local configuration.
var settingsDefaults = map[string]string{
	"theme":      "system",
	"currency":   "USD",
	"country":    "",
	"multiplier": "1",
	"viewMode":   "list",
}

// pullSettings reads the remote settings document with the same
// default-on-missing-field discipline the mapper applies to records.
func (e *Engine) pullSettings(ctx context.Context, tenant string) error {
	doc, found, err := e.remote.Get(ctx, tenant, settingsCollection, settingsDocID)
	if err != nil {
		return err
	}

	merged := make(map[string]string, len(settingsDefaults))
	for k, v := range settingsDefaults {
		merged[k] = v
	}
	if found {
		for k, v := range doc.Fields {
			merged[k] = fmt.Sprint(v)
		}
	}
	return e.local.PutSettings(ctx, merged)
}

func (e *Engine) notifyPushError(col model.Collection, err error) {
	if e.cfg.OnPushError != nil {
		e.cfg.OnPushError(col, err)
	}
}
