package domain

import (
	"strings"
	"time"
)

// Resource names shared by every data mode.
const (
	ResourceUsers     = "users"
	ResourceBooks     = "books"
	ResourceAuthors   = "authors"
	ResourceStores    = "stores"
	ResourceInventory = "inventory"
)

// Record is one untyped element of a collection as returned by a data source.
type Record map[string]any

// Identity is the non-secret profile of an authenticated user.
type Identity struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// CredentialRecord is a user directory entry. It carries the password and must
// never outlive a single login attempt.
type CredentialRecord struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Identity strips the credential material.
func (c CredentialRecord) Identity() Identity {
	return Identity{
		ID:          c.ID,
		Username:    c.Username,
		DisplayName: c.DisplayName,
		Email:       c.Email,
	}
}

type Author struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// DisplayName joins first and last name, skipping empty parts.
func (a Author) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(a.FirstName) + " " + strings.TrimSpace(a.LastName))
}

type Book struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	AuthorID int64  `json:"authorId"`
	Pages    int    `json:"pages"`
}

type Store struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// InventoryEntry is a priced association between one store and one book.
type InventoryEntry struct {
	ID      int64   `json:"id"`
	StoreID int64   `json:"storeId"`
	BookID  int64   `json:"bookId"`
	Price   float64 `json:"price"`
}

// ChangeOp names a collection write.
type ChangeOp string

const (
	OpCreate ChangeOp = "create"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// Change describes one accepted write against a collection.
type Change struct {
	Resource string    `json:"resource"`
	ID       int64     `json:"id"`
	Op       ChangeOp  `json:"op"`
	At       time.Time `json:"at"`
}
