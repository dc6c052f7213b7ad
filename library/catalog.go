package library

import (
	"fmt"
	"math"
	"sync"

	"github.com/pkg/errors"
)

// Catalog is the authoritative set of Book records.
type Catalog struct {
	mu     sync.RWMutex
	store  Store
	books  []Book
	byID   map[BookID]int
	nextID BookID
}

// NewCatalog loads existing books from store. Ids resume after the largest
// stored id.
func NewCatalog(store Store) (*Catalog, error) {
	books, err := store.Books()
	if err != nil {
		return nil, errors.Wrap(err, "load catalog")
	}
	c := &Catalog{store: store, byID: make(map[BookID]int, len(books)), nextID: 1}
	for _, b := range books {
		if _, dup := c.byID[b.ID]; dup {
			return nil, fmt.Errorf("load book %d: %w", b.ID, ErrDuplicateIdentity)
		}
		c.byID[b.ID] = len(c.books)
		c.books = append(c.books, b)
		if b.ID >= c.nextID {
			c.nextID = b.ID + 1
		}
	}
	return c, nil
}

// AddBook registers a new title with one copy. Titles are not merged: adding
// the same title twice yields two books.
func (c *Catalog) AddBook(title, categoryName string, drawer, column uint8) (BookID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := Book{
		ID:          c.nextID,
		Title:       title,
		Category:    ParseCategory(categoryName),
		Location:    Location{Drawer: drawer, Column: column},
		TotalCopies: 1,
	}
	if _, dup := c.byID[b.ID]; dup {
		return 0, fmt.Errorf("add book %d: %w", b.ID, ErrDuplicateIdentity)
	}
	if err := c.store.PutBook(b); err != nil {
		return 0, err
	}
	c.nextID++
	c.byID[b.ID] = len(c.books)
	c.books = append(c.books, b)
	return b.ID, nil
}

// AddCopies raises a book's copy count by n.
func (c *Catalog) AddCopies(id BookID, n uint16) (Book, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.byID[id]
	if !ok {
		return Book{}, fmt.Errorf("add copies to book %d: %w", id, ErrBookNotFound)
	}
	b := c.books[i]
	if n == 0 || int(b.TotalCopies)+int(n) > math.MaxUint16 {
		return Book{}, fmt.Errorf("add %d copies to book %d: %w", n, id, ErrInvalidCopies)
	}
	b.TotalCopies += n
	if err := c.store.PutBook(b); err != nil {
		return Book{}, err
	}
	c.books[i] = b
	return b, nil
}

// setCopies is used by the ledger, which checks open loans first.
func (c *Catalog) setCopies(id BookID, total uint16) (Book, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.byID[id]
	if !ok {
		return Book{}, fmt.Errorf("set copies of book %d: %w", id, ErrBookNotFound)
	}
	if total == 0 {
		return Book{}, fmt.Errorf("set copies of book %d: %w", id, ErrInvalidCopies)
	}
	b := c.books[i]
	b.TotalCopies = total
	if err := c.store.PutBook(b); err != nil {
		return Book{}, err
	}
	c.books[i] = b
	return b, nil
}

func (c *Catalog) Get(id BookID) (Book, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return Book{}, false
	}
	return c.books[i], true
}

// FindByTitle returns the first book whose title matches exactly.
func (c *Catalog) FindByTitle(title string) (Book, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.books {
		if b.Title == title {
			return b, true
		}
	}
	return Book{}, false
}

// GetAll returns a snapshot of the catalog in insertion order.
func (c *Catalog) GetAll() []Book {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Book(nil), c.books...)
}

func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.books)
}
