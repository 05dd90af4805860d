// Package inventory applies authorized mutations to the in-memory store
// inventory collection.
//
// The collection is seeded once and then owned by the Engine. In local data
// mode mutations stay in memory; when a Writer is configured every accepted
// mutation is written through first and the collection only changes after
// the remote write succeeded.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"shelfkeeper/pkg/datasource"
	"shelfkeeper/pkg/domain"
)

// MaxCandidates caps the add-to-inventory picker.
const MaxCandidates = 7

// Authorizer is the mutation predicate, normally an *authz.Gate.
type Authorizer interface {
	CanMutate() bool
}

type Config struct {
	Catalog Catalog
	Entries []domain.InventoryEntry
	Gate    Authorizer
	// Writer is optional; nil keeps mutations local.
	Writer datasource.Writer
	Logger *slog.Logger
}

type Engine struct {
	catalog Catalog
	gate    Authorizer
	writer  datasource.Writer
	logger  *slog.Logger

	mu      sync.Mutex
	entries []domain.InventoryEntry
}

func New(cfg Config) (*Engine, error) {
	if cfg.Gate == nil {
		return nil, fmt.Errorf("inventory: gate required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	catalog := cfg.Catalog
	if catalog.books == nil {
		catalog = NewCatalog(cfg.Catalog.Books, cfg.Catalog.Authors)
	}
	return &Engine{
		catalog: catalog,
		gate:    cfg.Gate,
		writer:  cfg.Writer,
		logger:  cfg.Logger.With("component", "inventory"),
		entries: append([]domain.InventoryEntry(nil), cfg.Entries...),
	}, nil
}

// Catalog returns the reference data the engine was seeded with.
func (e *Engine) Catalog() Catalog {
	return e.catalog
}

// Entries returns a snapshot of the entries of one store in collection order.
func (e *Engine) Entries(storeID int64) []domain.InventoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.InventoryEntry, 0)
	for _, entry := range e.entries {
		if entry.StoreID == storeID {
			out = append(out, entry)
		}
	}
	return out
}

// Entry looks up one entry by id.
func (e *Engine) Entry(entryID int64) (domain.InventoryEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexOf(entryID)
	if i < 0 {
		return domain.InventoryEntry{}, false
	}
	return e.entries[i], true
}

// AvailableBooks lists catalog books the store does not stock, in catalog order.
func (e *Engine) AvailableBooks(storeID int64) []domain.Book {
	e.mu.Lock()
	stocked := make(map[int64]struct{})
	for _, entry := range e.entries {
		if entry.StoreID == storeID {
			stocked[entry.BookID] = struct{}{}
		}
	}
	e.mu.Unlock()

	out := make([]domain.Book, 0, len(e.catalog.Books))
	for _, b := range e.catalog.Books {
		if _, ok := stocked[b.ID]; !ok {
			out = append(out, b)
		}
	}
	return out
}

// MatchBooks filters books by name or author name without a cap.
func (e *Engine) MatchBooks(books []domain.Book, term string) []domain.Book {
	return e.catalog.MatchBooks(books, term)
}

// Candidates returns at most MaxCandidates available books matching term,
// together with the number of books that matched before capping.
func (e *Engine) Candidates(storeID int64, term string) ([]domain.Book, int) {
	matched := e.MatchBooks(e.AvailableBooks(storeID), term)
	if len(matched) > MaxCandidates {
		return matched[:MaxCandidates:MaxCandidates], len(matched)
	}
	return matched, len(matched)
}

// Search filters entries, see Catalog.Search.
func (e *Engine) Search(entries []domain.InventoryEntry, term string) []domain.InventoryEntry {
	return e.catalog.Search(entries, term)
}

// View joins entries with the catalog for display.
func (e *Engine) View(entries []domain.InventoryEntry) []Row {
	return e.catalog.View(entries)
}

// AddEntry stocks bookID in storeID at price.
func (e *Engine) AddEntry(ctx context.Context, storeID, bookID int64, price float64) (domain.InventoryEntry, error) {
	if err := e.authorize(ctx, "inventory_add"); err != nil {
		return domain.InventoryEntry{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range e.entries {
		if entry.StoreID == storeID && entry.BookID == bookID {
			return domain.InventoryEntry{}, ErrDuplicateEntry
		}
	}
	if err := validPrice(price); err != nil {
		return domain.InventoryEntry{}, err
	}
	if _, ok := e.catalog.Book(bookID); !ok {
		return domain.InventoryEntry{}, fmt.Errorf("book %d: %w", bookID, ErrNotFound)
	}
	entry := domain.InventoryEntry{
		ID:      e.nextID(),
		StoreID: storeID,
		BookID:  bookID,
		Price:   price,
	}
	if e.writer != nil {
		rec, err := datasource.Encode(entry)
		if err != nil {
			return domain.InventoryEntry{}, fmt.Errorf("%w: %v", ErrRemote, err)
		}
		if _, err := e.writer.Create(ctx, domain.ResourceInventory, rec); err != nil {
			e.logger.WarnContext(ctx, "inventory write-through failed", "op", "create", "err", err)
			return domain.InventoryEntry{}, fmt.Errorf("%w: %v", ErrRemote, err)
		}
	}
	e.entries = append(e.entries, entry)
	e.logger.InfoContext(ctx, "inventory entry added", "entry_id", entry.ID, "store_id", storeID, "book_id", bookID)
	return entry, nil
}

// UpdateEntryPrice replaces the price of an entry. Ids never change.
func (e *Engine) UpdateEntryPrice(ctx context.Context, entryID int64, price float64) (domain.InventoryEntry, error) {
	if err := e.authorize(ctx, "inventory_update"); err != nil {
		return domain.InventoryEntry{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexOf(entryID)
	if i < 0 {
		return domain.InventoryEntry{}, ErrNotFound
	}
	if err := validPrice(price); err != nil {
		return domain.InventoryEntry{}, err
	}
	updated := e.entries[i]
	updated.Price = price
	if e.writer != nil {
		rec, err := datasource.Encode(updated)
		if err != nil {
			return domain.InventoryEntry{}, fmt.Errorf("%w: %v", ErrRemote, err)
		}
		if _, err := e.writer.Update(ctx, domain.ResourceInventory, entryID, rec); err != nil {
			e.logger.WarnContext(ctx, "inventory write-through failed", "op", "update", "err", err)
			return domain.InventoryEntry{}, fmt.Errorf("%w: %v", ErrRemote, err)
		}
	}
	e.entries[i] = updated
	e.logger.InfoContext(ctx, "inventory price updated", "entry_id", entryID)
	return updated, nil
}

// RemoveEntry drops an entry. The book stays in the catalog and can be added
// again later.
func (e *Engine) RemoveEntry(ctx context.Context, entryID int64) error {
	if err := e.authorize(ctx, "inventory_remove"); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexOf(entryID)
	if i < 0 {
		return ErrNotFound
	}
	if e.writer != nil {
		if err := e.writer.Delete(ctx, domain.ResourceInventory, entryID); err != nil {
			e.logger.WarnContext(ctx, "inventory write-through failed", "op", "delete", "err", err)
			return fmt.Errorf("%w: %v", ErrRemote, err)
		}
	}
	e.entries = append(e.entries[:i], e.entries[i+1:]...)
	e.logger.InfoContext(ctx, "inventory entry removed", "entry_id", entryID)
	return nil
}

func (e *Engine) authorize(ctx context.Context, event string) error {
	if e.gate.CanMutate() {
		return nil
	}
	e.logger.WarnContext(ctx, "security_event", "event", event, "outcome", "unauthorized")
	return ErrUnauthorized
}

func (e *Engine) indexOf(entryID int64) int {
	for i, entry := range e.entries {
		if entry.ID == entryID {
			return i
		}
	}
	return -1
}

// nextID is one above the highest id in the collection, or 1 when empty.
func (e *Engine) nextID() int64 {
	var highest int64
	for _, entry := range e.entries {
		if entry.ID > highest {
			highest = entry.ID
		}
	}
	return highest + 1
}

func validPrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return ErrInvalidPrice
	}
	return nil
}
