package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"shelfkeeper/pkg/authz"
	"shelfkeeper/pkg/datasource"
	"shelfkeeper/pkg/domain"
	"shelfkeeper/pkg/inventory"
	"shelfkeeper/pkg/query"
	"shelfkeeper/pkg/session"
)

// ErrInvalidCredentials is the only login failure callers ever see.
var ErrInvalidCredentials = errors.New("invalid username or password")

// Config holds runtime dependencies for the console core.
type Config struct {
	Gateway      *datasource.Gateway
	Sessions     *session.Store
	LandingRoute string
	Logger       *slog.Logger
}

// App owns the process-wide session and the inventory collection shown by
// the store screens.
type App struct {
	gateway  *datasource.Gateway
	sessions *session.Store
	gate     *authz.Gate
	landing  string
	logger   *slog.Logger

	mu     sync.Mutex
	engine *inventory.Engine
}

// New wires the core and restores any persisted session.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("gateway required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LandingRoute == "" {
		cfg.LandingRoute = authz.ScreenBooks
	}
	a := &App{
		gateway:  cfg.Gateway,
		sessions: cfg.Sessions,
		gate:     authz.NewGate(cfg.Sessions),
		landing:  cfg.LandingRoute,
		logger:   cfg.Logger.With("component", "app"),
	}
	if a.sessions.Restore(ctx) {
		a.logger.InfoContext(ctx, "persisted session restored")
	}
	return a, nil
}

// Gate exposes the authorization gate bound to the session.
func (a *App) Gate() *authz.Gate {
	return a.gate
}

// SessionView is the shell's view of the session.
type SessionView struct {
	Authenticated bool             `json:"authenticated"`
	Identity      *domain.Identity `json:"identity,omitempty"`
	Actions       []authz.Surface  `json:"actions"`
}

func (a *App) Session() SessionView {
	view := SessionView{Actions: a.gate.Render(authz.ShellSurfaces())}
	if identity, ok := a.sessions.CurrentIdentity(); ok {
		view.Authenticated = true
		view.Identity = &identity
	}
	return view
}

// Login installs the identity for username/password or fails with
// ErrInvalidCredentials whatever the cause.
func (a *App) Login(ctx context.Context, username, password string) (domain.Identity, error) {
	if !a.sessions.Login(ctx, username, password) {
		return domain.Identity{}, ErrInvalidCredentials
	}
	identity, ok := a.sessions.CurrentIdentity()
	if !ok {
		return domain.Identity{}, ErrInvalidCredentials
	}
	return identity, nil
}

func (a *App) Logout(ctx context.Context) {
	a.sessions.Logout(ctx)
}

// ResolveRoute decides where a navigation to route ends up.
func (a *App) ResolveRoute(route string) (string, bool) {
	return a.gate.ResolveRoute(route, authz.RouteLogin, a.landing)
}

// ScreenView is a rendered list screen. Columns and actions the session may
// not see are absent.
type ScreenView[T any] struct {
	Screen  string          `json:"screen"`
	Columns []authz.Surface `json:"columns"`
	Actions []authz.Surface `json:"actions"`
	Items   []T             `json:"items"`
	Count   int             `json:"count"`
}

func newScreen[T any](gate *authz.Gate, screen string, items []T) ScreenView[T] {
	surfaces, _ := authz.ScreenSurfaces(screen)
	view := ScreenView[T]{
		Screen:  screen,
		Columns: []authz.Surface{},
		Actions: []authz.Surface{},
		Items:   items,
		Count:   len(items),
	}
	for _, s := range gate.Render(surfaces) {
		if s.Kind == authz.KindColumn {
			view.Columns = append(view.Columns, s)
		} else {
			view.Actions = append(view.Actions, s)
		}
	}
	return view
}

// BookRow is a book joined with its author's display name.
type BookRow struct {
	domain.Book
	Author string `json:"author"`
}

func (a *App) Books(ctx context.Context, q query.Query) ScreenView[BookRow] {
	var books []domain.Book
	var authors []domain.Author
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		books = datasource.FetchAs[domain.Book](gctx, a.gateway, domain.ResourceBooks, q)
		return nil
	})
	g.Go(func() error {
		authors = datasource.FetchAs[domain.Author](gctx, a.gateway, domain.ResourceAuthors, query.Query{})
		return nil
	})
	_ = g.Wait()

	catalog := inventory.NewCatalog(books, authors)
	rows := make([]BookRow, 0, len(books))
	for _, b := range books {
		rows = append(rows, BookRow{Book: b, Author: catalog.AuthorName(b)})
	}
	return newScreen(a.gate, authz.ScreenBooks, rows)
}

func (a *App) Authors(ctx context.Context, q query.Query) ScreenView[domain.Author] {
	authors := datasource.FetchAs[domain.Author](ctx, a.gateway, domain.ResourceAuthors, q)
	return newScreen(a.gate, authz.ScreenAuthors, authors)
}

func (a *App) Stores(ctx context.Context, q query.Query) ScreenView[domain.Store] {
	stores := datasource.FetchAs[domain.Store](ctx, a.gateway, domain.ResourceStores, q)
	return newScreen(a.gate, authz.ScreenStores, stores)
}

// Inventory renders one store's stock, filtered by term. While the
// collection cannot be loaded the screen is empty.
func (a *App) Inventory(ctx context.Context, storeID int64, term string) ScreenView[inventory.Row] {
	engine, err := a.inventory(ctx)
	if err != nil {
		return newScreen(a.gate, authz.ScreenInventory, []inventory.Row{})
	}
	rows := engine.View(engine.Search(engine.Entries(storeID), term))
	return newScreen(a.gate, authz.ScreenInventory, rows)
}

// CandidatesView feeds the add-to-inventory picker.
type CandidatesView struct {
	Items   []BookRow `json:"items"`
	Matched int       `json:"matched"`
}

func (a *App) Candidates(ctx context.Context, storeID int64, term string) CandidatesView {
	engine, err := a.inventory(ctx)
	if err != nil {
		return CandidatesView{Items: []BookRow{}}
	}
	books, matched := engine.Candidates(storeID, term)
	catalog := engine.Catalog()
	rows := make([]BookRow, 0, len(books))
	for _, b := range books {
		rows = append(rows, BookRow{Book: b, Author: catalog.AuthorName(b)})
	}
	return CandidatesView{Items: rows, Matched: matched}
}

func (a *App) AddEntry(ctx context.Context, storeID, bookID int64, price float64) (domain.InventoryEntry, error) {
	engine, err := a.mutationEngine(ctx)
	if err != nil {
		return domain.InventoryEntry{}, err
	}
	return engine.AddEntry(ctx, storeID, bookID, price)
}

// UpdateEntryPrice changes the price of an entry belonging to storeID.
func (a *App) UpdateEntryPrice(ctx context.Context, storeID, entryID int64, price float64) (domain.InventoryEntry, error) {
	engine, err := a.mutationEngine(ctx)
	if err != nil {
		return domain.InventoryEntry{}, err
	}
	if err := a.ownedBy(engine, storeID, entryID); err != nil {
		return domain.InventoryEntry{}, err
	}
	return engine.UpdateEntryPrice(ctx, entryID, price)
}

// RemoveEntry drops an entry belonging to storeID.
func (a *App) RemoveEntry(ctx context.Context, storeID, entryID int64) error {
	engine, err := a.mutationEngine(ctx)
	if err != nil {
		return err
	}
	if err := a.ownedBy(engine, storeID, entryID); err != nil {
		return err
	}
	return engine.RemoveEntry(ctx, entryID)
}

// Reload drops the in-memory inventory so the next access reseeds it from
// the gateway. Local-mode edits are lost.
func (a *App) Reload() {
	a.mu.Lock()
	a.engine = nil
	a.mu.Unlock()
}

// HandleChange reacts to a catalog write made elsewhere.
func (a *App) HandleChange(ctx context.Context, change domain.Change) {
	switch change.Resource {
	case domain.ResourceBooks, domain.ResourceAuthors, domain.ResourceInventory:
		a.logger.DebugContext(ctx, "catalog changed, dropping inventory", "resource", change.Resource, "id", change.ID, "op", change.Op)
		a.Reload()
	}
}

func (a *App) ownedBy(engine *inventory.Engine, storeID, entryID int64) error {
	entry, ok := engine.Entry(entryID)
	if !ok || entry.StoreID != storeID {
		// Unauthorized wins over NotFound so guests learn nothing about ids.
		if !a.gate.CanMutate() {
			return inventory.ErrUnauthorized
		}
		return fmt.Errorf("entry %d: %w", entryID, inventory.ErrNotFound)
	}
	return nil
}

// mutationEngine returns the engine a mutation runs against. Guests are
// rejected before a load failure is reported.
func (a *App) mutationEngine(ctx context.Context) (*inventory.Engine, error) {
	engine, err := a.inventory(ctx)
	if err != nil && !a.gate.CanMutate() {
		return nil, inventory.ErrUnauthorized
	}
	return engine, err
}

// inventory returns the engine, seeding it on first use. A seed with any
// failed fetch is discarded so the next access tries again; the error wraps
// inventory.ErrRemote.
func (a *App) inventory(ctx context.Context) (*inventory.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.engine != nil {
		return a.engine, nil
	}

	var (
		books   []domain.Book
		authors []domain.Author
		entries []domain.InventoryEntry
	)
	// The engine outlives the request that happens to seed it.
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.Go(func() (err error) {
		books, err = datasource.QueryAs[domain.Book](gctx, a.gateway, domain.ResourceBooks, query.Query{})
		return err
	})
	g.Go(func() (err error) {
		authors, err = datasource.QueryAs[domain.Author](gctx, a.gateway, domain.ResourceAuthors, query.Query{})
		return err
	})
	g.Go(func() (err error) {
		entries, err = datasource.QueryAs[domain.InventoryEntry](gctx, a.gateway, domain.ResourceInventory, query.Query{})
		return err
	})
	if err := g.Wait(); err != nil {
		a.logger.WarnContext(ctx, "inventory seed failed", "err", err)
		return nil, fmt.Errorf("%w: load inventory: %v", inventory.ErrRemote, err)
	}

	engine, err := inventory.New(inventory.Config{
		Catalog: inventory.NewCatalog(books, authors),
		Entries: entries,
		Gate:    a.gate,
		Writer:  a.gateway.Writer(),
		Logger:  a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.logger.InfoContext(ctx, "inventory seeded", "books", len(books), "authors", len(authors), "entries", len(entries))
	a.engine = engine
	return engine, nil
}
