// Package app is the application layer between the CLI and the sync
// service: it constructs all dependencies from config and exposes the
// high-level operations the commands call.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cardsync/internal/config"
	"cardsync/internal/csync"
	"cardsync/internal/directory"
	"cardsync/internal/model"
	"cardsync/internal/normalizer"
	"cardsync/internal/photos"
	"cardsync/internal/secrets"
	"cardsync/internal/store"
)

// PassphraseFunc supplies the local passphrase protecting stored
// connection credentials. The CLI prompts; tests return a constant.
type PassphraseFunc func() (string, error)

// App wires the store, directory, normalizer and photo cache into a
// SyncService. The caller must call Close when done.
type App struct {
	cfg        *config.Config
	store      *store.SQLiteStore
	photos     csync.PhotoStore
	service    *csync.SyncService
	clock      csync.Clock
	idgen      csync.IDGenerator
	passphrase PassphraseFunc
	cached     string // unsealed passphrase, prompted at most once
	logFile    *os.File
}

// NewApp creates a fully wired App from the given config. operation
// identifies the CLI command being run (e.g. "Pull", "Push") and tags the
// log stream.
func NewApp(cfg *config.Config, operation string, passphrase PassphraseFunc) (*App, error) {
	st, err := store.NewStoreFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	ph, err := photos.NewStoreFromConfig(context.Background(), cfg.Photos)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating photo store: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z") + "-" + operation
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &App{
		cfg:        cfg,
		store:      st,
		photos:     ph,
		clock:      csync.RealClock{},
		idgen:      csync.UUIDGenerator{},
		passphrase: passphrase,
		logFile:    logFile,
	}

	dir := directory.NewCardDAVDirectory(a.resolveCredential)
	a.service = csync.NewSyncService(st, dir, normalizer.New(), ph,
		&slogAdapter{l: logger}, a.clock, a.idgen, cfg.PushWorkers)
	return a, nil
}

// resolveCredential unseals a connection's password, prompting for the
// passphrase at most once per process.
func (a *App) resolveCredential(conn *model.SyncConnection) (string, error) {
	if len(conn.SealedPassword) == 0 {
		return "", fmt.Errorf("connection %s has no stored credential", conn.ID)
	}
	pp, err := a.unsealPassphrase()
	if err != nil {
		return "", err
	}
	plaintext, err := secrets.Open(conn.SealedPassword, pp)
	if err != nil {
		return "", fmt.Errorf("unsealing credential for %s: %w", conn.ID, err)
	}
	return string(plaintext), nil
}

func (a *App) unsealPassphrase() (string, error) {
	if a.cached != "" {
		return a.cached, nil
	}
	pp, err := a.passphrase()
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	a.cached = pp
	return pp, nil
}

// Close closes the store and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// Sync operations

// Pull reconciles local state from the remote address book.
func (a *App) Pull(ctx context.Context, connectionID string) (*csync.PullResult, error) {
	return a.service.Pull(ctx, connectionID)
}

// Push writes dirty contacts to the remote address book.
func (a *App) Push(ctx context.Context, connectionID string, contactIDs ...string) (*csync.PushResult, error) {
	return a.service.Push(ctx, connectionID, contactIDs...)
}

// Import reads a JSON batch of scraped profiles and merges it.
func (a *App) Import(ctx context.Context, path, connectionID string) (*csync.MergeResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading import batch: %w", err)
	}
	var batch []model.ScrapedProfile
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decoding import batch: %w", err)
	}
	return a.service.MergeImport(ctx, batch, connectionID)
}

// Connection operations

// AddConnection stores a new CardDAV connection with its password sealed
// under the local passphrase. Returns the new connection's id.
func (a *App) AddConnection(ctx context.Context, name, endpoint, bookPath, username, password string) (string, error) {
	pp, err := a.unsealPassphrase()
	if err != nil {
		return "", err
	}
	sealed, err := secrets.Seal([]byte(password), pp)
	if err != nil {
		return "", fmt.Errorf("sealing credential: %w", err)
	}

	conn := &model.SyncConnection{
		ID:              a.idgen.New(),
		Name:            name,
		Kind:            model.SourceCardDAV,
		Endpoint:        endpoint,
		AddressBookPath: bookPath,
		Username:        username,
		SealedPassword:  sealed,
		CreatedAt:       a.clock.Now(),
	}
	if err := a.store.SaveConnection(ctx, conn); err != nil {
		return "", fmt.Errorf("saving connection: %w", err)
	}
	return conn.ID, nil
}

// AddImportConnection stores a connection representing a scrape source.
// It carries no credential: imports are fed from batch files.
func (a *App) AddImportConnection(ctx context.Context, name string) (string, error) {
	conn := &model.SyncConnection{
		ID:        a.idgen.New(),
		Name:      name,
		Kind:      model.SourceLinkedIn,
		CreatedAt: a.clock.Now(),
	}
	if err := a.store.SaveConnection(ctx, conn); err != nil {
		return "", fmt.Errorf("saving connection: %w", err)
	}
	return conn.ID, nil
}

func (a *App) ListConnections(ctx context.Context) ([]*model.SyncConnection, error) {
	return a.store.ListConnections(ctx)
}

func (a *App) RemoveConnection(ctx context.Context, id string) error {
	return a.store.DeleteConnection(ctx, id)
}

// Contact operations

func (a *App) ListContacts(ctx context.Context) ([]*model.Contact, error) {
	return a.service.ListContacts(ctx)
}

// SetContactField applies a local field edit and marks the contact for the
// next push.
func (a *App) SetContactField(ctx context.Context, id, kind, label, value string) error {
	k, err := model.ParseFieldKind(kind)
	if err != nil {
		return err
	}
	_, err = a.service.SetField(ctx, id, k, label, value)
	return err
}

func (a *App) HideContact(ctx context.Context, id string) error {
	return a.service.HideContact(ctx, id)
}

func (a *App) UnhideContact(ctx context.Context, id string) error {
	return a.service.UnhideContact(ctx, id)
}

// ExportPhoto writes a contact's first cached photo to outPath.
func (a *App) ExportPhoto(ctx context.Context, contactID, outPath string) error {
	if a.photos == nil {
		return fmt.Errorf("no photo store configured")
	}
	c, err := a.service.GetContact(ctx, contactID)
	if err != nil {
		return err
	}
	checksums := csync.PhotoChecksums(c)
	if len(checksums) == 0 {
		return fmt.Errorf("contact %s has no cached photo", contactID)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	if err := a.photos.Get(ctx, checksums[0], f); err != nil {
		return fmt.Errorf("exporting photo: %w", err)
	}
	return nil
}

// Conflict operations

func (a *App) ListConflicts(ctx context.Context, connectionID string) ([]*model.Conflict, error) {
	return a.service.ListConflicts(ctx, connectionID)
}

func (a *App) ResolveConflict(ctx context.Context, conflictID, keep string) error {
	return a.service.ResolveConflict(ctx, conflictID, keep)
}
