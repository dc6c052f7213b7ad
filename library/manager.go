package library

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// LibraryManager is a thin façade over the Store, Catalog, Membership and
// LendingLedger, keeping CLI code simple. Calls that act for someone read the
// caller from the configured CallerSource on every call.
type LibraryManager struct {
	store      Store
	catalog    *Catalog
	membership *Membership
	ledger     *LendingLedger
	caller     CallerSource
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, opts ...LedgerOption) (*LibraryManager, error) {
	return OpenLibraryManager(DriverCGO, dbPath, opts...)
}

// OpenLibraryManager opens the database at dbPath with the given SQLite driver.
func OpenLibraryManager(driver, dbPath string, opts ...LedgerOption) (*LibraryManager, error) {
	db, err := OpenDatabase(driver, dbPath)
	if err != nil {
		return nil, err
	}
	lm, err := NewManagerFromStore(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return lm, nil
}

// NewManagerFromStore wires a manager over any Store.
func NewManagerFromStore(store Store, opts ...LedgerOption) (*LibraryManager, error) {
	catalog, err := NewCatalog(store)
	if err != nil {
		return nil, err
	}
	membership, err := NewMembership(store)
	if err != nil {
		return nil, err
	}
	ledger, err := NewLendingLedger(catalog, membership, store, opts...)
	if err != nil {
		return nil, err
	}
	return &LibraryManager{
		store:      store,
		catalog:    catalog,
		membership: membership,
		ledger:     ledger,
		caller:     StaticCaller(""),
	}, nil
}

// Close closes the underlying store.
func (lm *LibraryManager) Close() error { return lm.store.Close() }

// SetCallerSource replaces where the acting caller is read from.
func (lm *LibraryManager) SetCallerSource(src CallerSource) { lm.caller = src }

func (lm *LibraryManager) currentCaller() (CallerID, error) {
	caller := lm.caller.CurrentCaller()
	if strings.TrimSpace(string(caller)) == "" {
		return "", fmt.Errorf("no caller identity configured")
	}
	return caller, nil
}

func (lm *LibraryManager) Catalog() *Catalog       { return lm.catalog }
func (lm *LibraryManager) Membership() *Membership { return lm.membership }
func (lm *LibraryManager) Ledger() *LendingLedger  { return lm.ledger }

// ------------------ Book helpers ------------------

func (lm *LibraryManager) AddBook(title, category string, drawer, column uint8) (BookID, error) {
	if strings.TrimSpace(title) == "" {
		return 0, fmt.Errorf("title cannot be empty")
	}
	return lm.catalog.AddBook(title, category, drawer, column)
}

func (lm *LibraryManager) AddCopies(id BookID, n uint16) (Book, error) {
	return lm.ledger.AddCopies(id, n)
}

func (lm *LibraryManager) RemoveCopies(id BookID, n uint16) (Book, error) {
	return lm.ledger.RemoveCopies(id, n)
}

func (lm *LibraryManager) GetBook(id BookID) (Book, error) {
	b, ok := lm.catalog.Get(id)
	if !ok {
		return Book{}, fmt.Errorf("book %d: %w", id, ErrBookNotFound)
	}
	return b, nil
}

func (lm *LibraryManager) GetAllBooks() []Book { return lm.catalog.GetAll() }

// ImportResult summarizes a catalog import.
type ImportResult struct {
	Added  []BookID
	Errors []error
}

// ImportBooksFromFile reads CSV rows of title,category,drawer,column[,copies]
// from path. A header row starting with "title" is skipped. Bad rows are
// reported in the result and do not stop the import.
func (lm *LibraryManager) ImportBooksFromFile(path string) (ImportResult, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return ImportResult{}, err
	}
	defer f.Close()
	return lm.ImportBooks(f)
}

// ImportBooks is ImportBooksFromFile over an arbitrary reader.
func (lm *LibraryManager) ImportBooks(r io.Reader) (ImportResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var res ImportResult
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return res, errors.Wrapf(err, "read line %d", line)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "title") {
			continue
		}
		id, err := lm.importRow(rec)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		res.Added = append(res.Added, id)
	}
}

func (lm *LibraryManager) importRow(rec []string) (BookID, error) {
	if len(rec) < 4 {
		return 0, fmt.Errorf("want at least 4 fields, got %d", len(rec))
	}
	drawer, err := strconv.ParseUint(strings.TrimSpace(rec[2]), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("drawer: %w", err)
	}
	column, err := strconv.ParseUint(strings.TrimSpace(rec[3]), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("column: %w", err)
	}
	copies := uint64(1)
	if len(rec) > 4 && strings.TrimSpace(rec[4]) != "" {
		if copies, err = strconv.ParseUint(strings.TrimSpace(rec[4]), 10, 16); err != nil || copies == 0 {
			return 0, fmt.Errorf("copies %q: %w", rec[4], ErrInvalidCopies)
		}
	}

	id, err := lm.AddBook(strings.TrimSpace(rec[0]), rec[1], uint8(drawer), uint8(column))
	if err != nil {
		return 0, err
	}
	if copies > 1 {
		if _, err := lm.AddCopies(id, uint16(copies-1)); err != nil {
			return id, err
		}
	}
	return id, nil
}

// ------------------ Member helpers ------------------

// AddMember registers the current caller under name.
func (lm *LibraryManager) AddMember(name string) (MemberID, error) {
	caller, err := lm.currentCaller()
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("name cannot be empty")
	}
	return lm.membership.AddMember(caller, name)
}

func (lm *LibraryManager) ConfirmMember(id MemberID) (Member, error) {
	return lm.membership.Confirm(id)
}

func (lm *LibraryManager) GetMember(id MemberID) (Member, error) {
	m, ok := lm.membership.Get(id)
	if !ok {
		return Member{}, fmt.Errorf("member %d: %w", id, ErrMemberNotFound)
	}
	return m, nil
}

func (lm *LibraryManager) GetAllMembers() []Member { return lm.membership.GetAll() }

// ------------------ Circulation ------------------

// CheckoutBook lends bookID to the current caller.
func (lm *LibraryManager) CheckoutBook(bookID BookID) (LoanReceipt, error) {
	caller, err := lm.currentCaller()
	if err != nil {
		return LoanReceipt{}, err
	}
	return lm.ledger.Borrow(caller, bookID)
}

// CheckoutByTitle lends the first book titled title to the member named name.
func (lm *LibraryManager) CheckoutByTitle(title, name string) (LoanReceipt, error) {
	return lm.ledger.BorrowByTitleAndName(title, name)
}

// ReturnBook closes the current caller's earliest open loan on bookID.
func (lm *LibraryManager) ReturnBook(bookID BookID) (Loan, error) {
	caller, err := lm.currentCaller()
	if err != nil {
		return Loan{}, err
	}
	return lm.ledger.ReturnBook(caller, bookID)
}

// MyLoans returns the current caller's loan history.
func (lm *LibraryManager) MyLoans() ([]Loan, error) {
	caller, err := lm.currentCaller()
	if err != nil {
		return nil, err
	}
	return lm.ledger.GetLoansFor(caller)
}

func (lm *LibraryManager) LoansFor(caller CallerID) ([]Loan, error) {
	return lm.ledger.GetLoansFor(caller)
}

func (lm *LibraryManager) Overdue() []Loan { return lm.ledger.Overdue() }

func (lm *LibraryManager) Available(bookID BookID) (int, error) {
	return lm.ledger.Available(bookID)
}
