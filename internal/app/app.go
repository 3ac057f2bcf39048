package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"travellog/internal/config"
	"travellog/internal/database"
	"travellog/internal/encryption"
	"travellog/internal/importer"
	"travellog/internal/persistence"
	"travellog/internal/remote"
	"travellog/internal/travellog"
)

// ErrNoOwner is returned by operations that need an active owner.
var ErrNoOwner = errors.New("no owner: run `travellog owner NEW` first")

// ErrEncryptionDisabled is returned by InitKeys when encryption type is none.
var ErrEncryptionDisabled = errors.New("encryption is disabled: set [encryption] type = \"age\"")

// TravelLogApp is the application layer between the CLI and the Synchronizer.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw strings, and releases resources on Close.
type TravelLogApp struct {
	cfg         *config.Config
	configPath  string
	store       travellog.RecordStore
	remote      travellog.Remote
	encryptor   travellog.Encryptor
	persistence travellog.Persistence
	sync        *travellog.Synchronizer
	clock       travellog.Clock
	logger      *slog.Logger
	op          *Operation
	logFile     *os.File

	mu       sync.Mutex
	progress func(travellog.Notification)
}

type options struct {
	passphrase persistence.PassphraseFunc
	logEcho    io.Writer
	clock      travellog.Clock
	idgen      travellog.IDGenerator
}

// Option customises NewTravelLogApp.
type Option func(*options)

// WithPassphrase supplies the passphrase used to read encrypted snapshots.
// It is only called when a snapshot actually has to be decrypted.
func WithPassphrase(fn persistence.PassphraseFunc) Option {
	return func(o *options) { o.passphrase = fn }
}

// WithLogEcho copies every log line to w in addition to the log file.
func WithLogEcho(w io.Writer) Option {
	return func(o *options) { o.logEcho = w }
}

func WithClock(c travellog.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithIDGenerator(g travellog.IDGenerator) Option {
	return func(o *options) { o.idgen = g }
}

// NewTravelLogApp creates a fully wired TravelLogApp from the given config.
// configPath is where owner changes are saved; empty disables saving.
// operation identifies the CLI command being run (e.g. "Add", "List").
// The caller must call Close when done.
func NewTravelLogApp(ctx context.Context, cfg *config.Config, configPath, operation string, opts ...Option) (*TravelLogApp, error) {
	o := options{
		clock: travellog.RealClock{},
		idgen: travellog.UUIDGenerator{},
		passphrase: func() (string, error) {
			return "", errors.New("no passphrase available")
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if err := cfg.Sync.Validate(); err != nil {
		return nil, fmt.Errorf("reading sync config: %w", err)
	}
	policy, err := travellog.ParseInsertPolicy(cfg.Sync.InsertPolicy)
	if err != nil {
		return nil, fmt.Errorf("reading sync config: %w", err)
	}
	ordering, err := travellog.ParseOrdering(cfg.Sync.Ordering)
	if err != nil {
		return nil, fmt.Errorf("reading sync config: %w", err)
	}

	op := NewOperation(operation, "", o.clock.Now())
	logger, logFile, err := newLogger(cfg.LogDir, op.ID, level, o.logEcho)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	adapter := &slogAdapter{l: logger}

	a := &TravelLogApp{
		cfg:        cfg,
		configPath: configPath,
		clock:      o.clock,
		logger:     logger,
		op:         op,
		logFile:    logFile,
	}

	a.store, err = database.NewStoreFromConfig(cfg.Database, policy)
	if err != nil {
		a.release()
		return nil, fmt.Errorf("creating record store: %w", err)
	}

	a.remote, err = remote.NewRemoteFromConfig(cfg.Remote, o.clock, adapter)
	if err != nil {
		a.release()
		return nil, fmt.Errorf("creating remote: %w", err)
	}

	a.encryptor, err = encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		a.release()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	a.persistence, err = persistence.NewPersistenceFromConfig(ctx, cfg.Persistence, a.encryptor, o.passphrase)
	if err != nil {
		a.release()
		return nil, fmt.Errorf("creating snapshot persistence: %w", err)
	}

	a.sync = travellog.NewSynchronizer(a.store, a.remote, a.persistence, o.clock, o.idgen, adapter, travellog.Options{
		SoftMaxAge:  cfg.Sync.SoftMaxAge.Duration,
		HardCeiling: cfg.Sync.HardCeiling.Duration,
		TxTimeout:   cfg.Sync.TxTimeout.Duration,
		Ordering:    ordering,
	})
	a.sync.Observe(travellog.ObserverFunc(a.notify))

	if err := a.sync.OnOwnerChanged(ctx, travellog.OwnerKey(cfg.Owner)); err != nil {
		a.release()
		return nil, fmt.Errorf("activating owner: %w", err)
	}

	logger.Debug("operation started", "operation", operation, "owner", cfg.Owner)
	return a, nil
}

// Config returns the loaded configuration.
func (a *TravelLogApp) Config() *config.Config { return a.cfg }

// Owner returns the active owner, empty when logged out.
func (a *TravelLogApp) Owner() travellog.OwnerKey { return a.sync.Current() }

// Synchronizer exposes the underlying synchronizer.
func (a *TravelLogApp) Synchronizer() *travellog.Synchronizer { return a.sync }

// OnProgress registers fn to receive lifecycle notifications of the active
// owner. A nil fn stops delivery.
func (a *TravelLogApp) OnProgress(fn func(travellog.Notification)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.progress = fn
}

func (a *TravelLogApp) notify(n travellog.Notification) {
	a.mu.Lock()
	fn := a.progress
	a.mu.Unlock()
	if fn != nil && n.Owner == a.sync.Current() {
		fn(n)
	}
}

func (a *TravelLogApp) owner() (travellog.OwnerKey, error) {
	owner := a.sync.Current()
	if owner.IsZero() {
		return "", ErrNoOwner
	}
	return owner, nil
}

// Add records a visit and waits until the write is confirmed or fails.
// date is YYYY-MM-DD; empty means today.
func (a *TravelLogApp) Add(ctx context.Context, country, city, date string) (*travellog.Handle, error) {
	a.op.Parameters = country + "/" + city
	owner, err := a.owner()
	if err != nil {
		return nil, err
	}

	visited := travellog.DateOf(a.clock.Now())
	if strings.TrimSpace(date) != "" {
		visited, err = travellog.ParseDate(date)
		if err != nil {
			a.op.Record(err)
			return nil, &travellog.Error{Kind: travellog.KindInvalidInput, Op: "add", Owner: owner, Err: err}
		}
	}

	h, err := a.submit(ctx, owner, travellog.NewRecord(owner, country, city, visited))
	a.op.Record(err)
	return h, err
}

// submit writes rec and waits for its outcome.
func (a *TravelLogApp) submit(ctx context.Context, owner travellog.OwnerKey, rec travellog.Record) (*travellog.Handle, error) {
	h, err := a.sync.Submit(ctx, owner, rec)
	if err != nil {
		return h, err
	}
	if _, err := h.Wait(ctx); err != nil {
		return h, err
	}
	return h, nil
}

// List returns the active owner's records. refresh forces a fetch from the
// remote; otherwise a fresh cache entry may be served. order overrides the
// configured ordering and search filters by country or city.
func (a *TravelLogApp) List(ctx context.Context, order, search string, refresh bool) (*travellog.View, error) {
	owner, err := a.owner()
	if err != nil {
		return nil, err
	}

	var view *travellog.View
	if refresh {
		view, err = a.sync.Resync(ctx, owner)
	} else {
		view, err = a.sync.Refresh(ctx, owner)
	}
	if err != nil {
		a.op.Record(err)
		return nil, err
	}

	if order != "" {
		o, err := travellog.ParseOrdering(order)
		if err != nil {
			return nil, &travellog.Error{Kind: travellog.KindInvalidInput, Op: "list", Err: err}
		}
		travellog.SortRecords(view.Records, o)
	}
	view.Records = travellog.Filter(view.Records, search)
	return view, nil
}

// Count returns how many places the active owner has visited.
func (a *TravelLogApp) Count(ctx context.Context) (int, error) {
	owner, err := a.owner()
	if err != nil {
		return 0, err
	}
	return a.sync.Count(ctx, owner)
}

// Remove deletes a record from the local view.
func (a *TravelLogApp) Remove(ctx context.Context, id string) (bool, error) {
	a.op.Parameters = id
	owner, err := a.owner()
	if err != nil {
		return false, err
	}
	removed, err := a.sync.Remove(ctx, owner, id)
	a.op.Record(err)
	return removed, err
}

// Import reads a visit file and writes its records one at a time, waiting
// for each confirmation. It stops at the first failure and returns the
// handles of every write attempted.
func (a *TravelLogApp) Import(ctx context.Context, r io.Reader) ([]*travellog.Handle, error) {
	owner, err := a.owner()
	if err != nil {
		return nil, err
	}

	f, err := importer.Parse(r)
	if err != nil {
		a.op.Record(err)
		return nil, err
	}
	if f.Owner != "" && travellog.OwnerKey(f.Owner) != owner {
		err := fmt.Errorf("visit file belongs to owner %s, active owner is %s", f.Owner, owner)
		a.op.Record(err)
		return nil, err
	}
	recs, err := f.Records(owner, a.clock.Now())
	if err != nil {
		a.op.Record(err)
		return nil, err
	}

	handles := make([]*travellog.Handle, 0, len(recs))
	for _, rec := range recs {
		h, err := a.submit(ctx, owner, rec)
		if h != nil {
			handles = append(handles, h)
		}
		if err != nil {
			a.op.Record(err)
			return handles, fmt.Errorf("importing %s, %s: %w", rec.City, rec.Country, err)
		}
	}
	a.logger.Info("import finished", "owner", owner, "count", len(handles))
	return handles, nil
}

// SetOwner switches the active owner and saves it to the config file.
// An empty owner logs out and clears the previous owner's local records.
func (a *TravelLogApp) SetOwner(ctx context.Context, owner string) error {
	owner = strings.TrimSpace(owner)
	a.op.Parameters = owner
	if err := a.sync.OnOwnerChanged(ctx, travellog.OwnerKey(owner)); err != nil {
		a.op.Record(err)
		return err
	}

	a.cfg.Owner = owner
	if a.configPath == "" {
		return nil
	}
	if err := config.Save(a.configPath, a.cfg); err != nil {
		a.op.Record(err)
		return fmt.Errorf("saving owner: %w", err)
	}
	return nil
}

// InitKeys generates the snapshot encryption key pair.
func (a *TravelLogApp) InitKeys(passphrase string) error {
	if a.encryptor == nil {
		return ErrEncryptionDisabled
	}
	if err := a.encryptor.Setup(passphrase); err != nil {
		a.op.Record(err)
		return fmt.Errorf("setting up encryption keys: %w", err)
	}
	a.logger.Info("encryption keys created", "public_key", a.cfg.Encryption.PublicKeyPath)
	return nil
}

// TxLink returns the explorer URL for ref, or ref itself when no explorer
// is configured.
func (a *TravelLogApp) TxLink(ref travellog.ExternalRef) string {
	return TxLink(a.cfg.Sync.ExplorerURL, ref)
}

// Close logs the outcome of the operation and closes all resources.
func (a *TravelLogApp) Close() error {
	a.logger.Info("operation finished",
		"operation", a.op.Operation,
		"parameters", a.op.Parameters,
		"status", a.op.Status,
		"duration", a.clock.Now().Sub(a.op.StartedAt))
	return a.release()
}

func (a *TravelLogApp) release() error {
	var firstErr error

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = fmt.Errorf("closing record store: %w", err)
		}
	}

	if c, ok := a.remote.(io.Closer); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing remote: %w", err)
		}
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
