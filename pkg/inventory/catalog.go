package inventory

import (
	"strconv"
	"strings"

	"shelfkeeper/pkg/domain"
)

// Catalog is the read-only book and author reference data.
type Catalog struct {
	Books   []domain.Book
	Authors []domain.Author

	books   map[int64]int
	authors map[int64]int
}

// NewCatalog indexes books and authors by id. Book order is kept as given.
// With duplicate ids the first record wins.
func NewCatalog(books []domain.Book, authors []domain.Author) Catalog {
	c := Catalog{
		Books:   append([]domain.Book(nil), books...),
		Authors: append([]domain.Author(nil), authors...),
		books:   make(map[int64]int, len(books)),
		authors: make(map[int64]int, len(authors)),
	}
	for i, b := range c.Books {
		if _, ok := c.books[b.ID]; !ok {
			c.books[b.ID] = i
		}
	}
	for i, a := range c.Authors {
		if _, ok := c.authors[a.ID]; !ok {
			c.authors[a.ID] = i
		}
	}
	return c
}

func (c Catalog) Book(id int64) (domain.Book, bool) {
	i, ok := c.books[id]
	if !ok {
		return domain.Book{}, false
	}
	return c.Books[i], true
}

func (c Catalog) Author(id int64) (domain.Author, bool) {
	i, ok := c.authors[id]
	if !ok {
		return domain.Author{}, false
	}
	return c.Authors[i], true
}

// AuthorName is the display name of the book's author, or "" when unknown.
func (c Catalog) AuthorName(b domain.Book) string {
	a, ok := c.Author(b.AuthorID)
	if !ok {
		return ""
	}
	return a.DisplayName()
}

// MatchBooks filters books by a case-insensitive substring of the book name or
// author name. An empty term matches everything. The result is unbounded.
func (c Catalog) MatchBooks(books []domain.Book, term string) []domain.Book {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]domain.Book, 0, len(books))
	for _, b := range books {
		if term == "" || contains(b.Name, term) || contains(c.AuthorName(b), term) {
			out = append(out, b)
		}
	}
	return out
}

// Row is an inventory entry joined with its catalog data for display.
type Row struct {
	EntryID int64   `json:"entryId"`
	StoreID int64   `json:"storeId"`
	BookID  int64   `json:"bookId"`
	Name    string  `json:"name"`
	Author  string  `json:"author"`
	Pages   int     `json:"pages"`
	Price   float64 `json:"price"`
}

// View joins entries with the catalog. Entries whose book is unknown keep
// empty name and author.
func (c Catalog) View(entries []domain.InventoryEntry) []Row {
	rows := make([]Row, 0, len(entries))
	for _, e := range entries {
		row := Row{EntryID: e.ID, StoreID: e.StoreID, BookID: e.BookID, Price: e.Price}
		if b, ok := c.Book(e.BookID); ok {
			row.Name = b.Name
			row.Author = c.AuthorName(b)
			row.Pages = b.Pages
		}
		rows = append(rows, row)
	}
	return rows
}

// Search filters entries by a case-insensitive substring of the book name,
// author name, page count or book id. Entry and store ids are never matched.
func (c Catalog) Search(entries []domain.InventoryEntry, term string) []domain.InventoryEntry {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]domain.InventoryEntry, 0, len(entries))
	for _, e := range entries {
		if term == "" || c.entryMatches(e, term) {
			out = append(out, e)
		}
	}
	return out
}

func (c Catalog) entryMatches(e domain.InventoryEntry, term string) bool {
	if contains(strconv.FormatInt(e.BookID, 10), term) {
		return true
	}
	b, ok := c.Book(e.BookID)
	if !ok {
		return false
	}
	return contains(b.Name, term) ||
		contains(c.AuthorName(b), term) ||
		contains(strconv.Itoa(b.Pages), term)
}

func contains(field, lowerTerm string) bool {
	return strings.Contains(strings.ToLower(field), lowerTerm)
}
