package library

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// LoanPeriod is how long a loan runs before it is due.
	LoanPeriod = 24 * time.Hour
	// AllowRepeatBorrow lets a caller hold several open loans on the same
	// book, bounded only by its copy count. WithSingleLoanPerBook turns it off.
	AllowRepeatBorrow = true

	logMsgBorrowed       = "book borrowed"
	logMsgBorrowRejected = "borrow rejected"
	logMsgReturned       = "book returned"
	logMsgCopiesRemoved  = "copies removed"
	logAttrCaller        = "caller"
	logAttrBookID        = "book_id"
	logAttrLoanID        = "loan_id"
	logAttrDueAt         = "due_at"
	logAttrOpen          = "open_loans"
	logAttrCopies        = "total_copies"
	logAttrError         = "error"
)

// BookRef resolves the book a borrow is aimed at.
type BookRef func(c *Catalog) (Book, bool)

// ByID resolves a book by its id.
func ByID(id BookID) BookRef {
	return func(c *Catalog) (Book, bool) { return c.Get(id) }
}

// ByTitle resolves the first book with the exact title.
func ByTitle(title string) BookRef {
	return func(c *Catalog) (Book, bool) { return c.FindByTitle(title) }
}

// LendingLedger records loans against the Catalog and Membership and enforces
// copy limits and due dates. All mutations are serialized.
type LendingLedger struct {
	mu sync.Mutex

	catalog    *Catalog
	membership *Membership
	store      Store

	clock       Clock
	loanPeriod  time.Duration
	allowRepeat bool
	logger      *slog.Logger
	loans       map[CallerID][]Loan
	callers     []CallerID
	openByBook  map[BookID]int
}

// LedgerOption configures a LendingLedger.
type LedgerOption func(*LendingLedger)

func WithClock(c Clock) LedgerOption {
	return func(l *LendingLedger) { l.clock = c }
}

func WithLoanPeriod(d time.Duration) LedgerOption {
	return func(l *LendingLedger) { l.loanPeriod = d }
}

func WithLogger(logger *slog.Logger) LedgerOption {
	return func(l *LendingLedger) { l.logger = logger }
}

// WithSingleLoanPerBook rejects a borrow when the caller already holds an
// open loan on the same book.
func WithSingleLoanPerBook() LedgerOption {
	return func(l *LendingLedger) { l.allowRepeat = false }
}

// NewLendingLedger builds a ledger and replays the loans already in store.
func NewLendingLedger(catalog *Catalog, membership *Membership, store Store, opts ...LedgerOption) (*LendingLedger, error) {
	l := &LendingLedger{
		catalog:     catalog,
		membership:  membership,
		store:       store,
		clock:       SystemClock{},
		loanPeriod:  LoanPeriod,
		allowRepeat: AllowRepeatBorrow,
		logger:      slog.New(slog.DiscardHandler),
		loans:       make(map[CallerID][]Loan),
		openByBook:  make(map[BookID]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.loanPeriod <= 0 {
		return nil, fmt.Errorf("loan period must be positive, got %s", l.loanPeriod)
	}

	loans, err := store.AllLoans()
	if err != nil {
		return nil, errors.Wrap(err, "load loans")
	}
	for _, loan := range loans {
		l.record(loan)
	}
	return l, nil
}

func (l *LendingLedger) record(loan Loan) {
	if _, seen := l.loans[loan.Caller]; !seen {
		l.callers = append(l.callers, loan.Caller)
	}
	l.loans[loan.Caller] = append(l.loans[loan.Caller], loan)
	if loan.IsOpen() {
		l.openByBook[loan.BookID]++
	}
}

// LoanPeriod reports the configured loan duration.
func (l *LendingLedger) LoanPeriod() time.Duration { return l.loanPeriod }

// Borrow lends one copy of bookID to caller.
func (l *LendingLedger) Borrow(caller CallerID, bookID BookID) (LoanReceipt, error) {
	return l.BorrowRef(caller, ByID(bookID))
}

// BorrowByTitleAndName lends the first book titled bookTitle to the first
// member named memberName. Loans are recorded under the member's account.
func (l *LendingLedger) BorrowByTitleAndName(bookTitle, memberName string) (LoanReceipt, error) {
	if _, ok := l.catalog.FindByTitle(bookTitle); !ok {
		return LoanReceipt{}, fmt.Errorf("borrow %q: %w", bookTitle, ErrBookNotFound)
	}
	m, ok := l.membership.FindByName(memberName)
	if !ok {
		return LoanReceipt{}, fmt.Errorf("borrow %q for %q: %w", bookTitle, memberName, ErrMemberNotFound)
	}
	return l.BorrowRef(m.Account, ByTitle(bookTitle))
}

// BorrowRef lends the book ref resolves to. The capacity check and the append
// happen under one lock; a failed borrow records nothing.
func (l *LendingLedger) BorrowRef(caller CallerID, ref BookRef) (LoanReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	book, ok := ref(l.catalog)
	if !ok {
		return LoanReceipt{}, l.reject(caller, 0, fmt.Errorf("borrow: %w", ErrBookNotFound))
	}
	if !l.allowRepeat && l.holdsOpen(caller, book.ID) {
		return LoanReceipt{}, l.reject(caller, book.ID, fmt.Errorf("borrow book %d: %w", book.ID, ErrAlreadyBorrowed))
	}
	if l.openByBook[book.ID] >= int(book.TotalCopies) {
		return LoanReceipt{}, l.reject(caller, book.ID, fmt.Errorf("borrow book %d: %w", book.ID, ErrNoCopiesAvailable))
	}

	now := l.clock.Now()
	loan := Loan{
		ID:         uuid.New(),
		BookID:     book.ID,
		Caller:     caller,
		BorrowedAt: now,
		DueAt:      now.Add(l.loanPeriod),
	}
	if err := l.store.PutLoan(loan); err != nil {
		return LoanReceipt{}, err
	}
	l.record(loan)

	l.logger.Info(logMsgBorrowed,
		logAttrCaller, caller,
		logAttrBookID, book.ID,
		logAttrLoanID, loan.ID,
		logAttrDueAt, loan.DueAt,
	)
	return LoanReceipt{Loan: loan, Title: book.Title}, nil
}

func (l *LendingLedger) reject(caller CallerID, bookID BookID, err error) error {
	l.logger.Warn(logMsgBorrowRejected,
		logAttrCaller, caller,
		logAttrBookID, bookID,
		logAttrError, err.Error(),
	)
	return err
}

func (l *LendingLedger) holdsOpen(caller CallerID, bookID BookID) bool {
	for _, loan := range l.loans[caller] {
		if loan.BookID == bookID && loan.IsOpen() {
			return true
		}
	}
	return false
}

// ReturnBook closes the caller's earliest open loan on bookID.
func (l *LendingLedger) ReturnBook(caller CallerID, bookID BookID) (Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.catalog.Get(bookID); !ok {
		return Loan{}, fmt.Errorf("return book %d: %w", bookID, ErrBookNotFound)
	}

	history := l.loans[caller]
	for i, loan := range history {
		if loan.BookID != bookID || !loan.IsOpen() {
			continue
		}
		now := l.clock.Now()
		loan.ReturnedAt = &now
		if err := l.store.PutLoan(loan); err != nil {
			return Loan{}, err
		}
		history[i] = loan
		l.openByBook[bookID]--

		l.logger.Info(logMsgReturned,
			logAttrCaller, caller,
			logAttrBookID, bookID,
			logAttrLoanID, loan.ID,
		)
		return loan, nil
	}
	return Loan{}, fmt.Errorf("return book %d by %s: %w", bookID, caller, ErrLoanNotFound)
}

// GetLoansFor returns every loan the caller has taken, open and closed, in
// borrow order. A caller that never borrowed gets ErrNoLoanRecord; records
// are never dropped, so an existing record is never empty.
func (l *LendingLedger) GetLoansFor(caller CallerID) ([]Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	history, ok := l.loans[caller]
	if !ok {
		return nil, fmt.Errorf("loans for %s: %w", caller, ErrNoLoanRecord)
	}
	return append([]Loan(nil), history...), nil
}

// OpenLoansFor returns the caller's open loans in borrow order.
func (l *LendingLedger) OpenLoansFor(caller CallerID) []Loan {
	l.mu.Lock()
	defer l.mu.Unlock()

	var open []Loan
	for _, loan := range l.loans[caller] {
		if loan.IsOpen() {
			open = append(open, loan)
		}
	}
	return open
}

// OpenCount is the number of copies of bookID currently on loan.
func (l *LendingLedger) OpenCount(bookID BookID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openByBook[bookID]
}

// Available is the number of copies of bookID that can still be borrowed.
func (l *LendingLedger) Available(bookID BookID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	book, ok := l.catalog.Get(bookID)
	if !ok {
		return 0, fmt.Errorf("availability of book %d: %w", bookID, ErrBookNotFound)
	}
	return int(book.TotalCopies) - l.openByBook[bookID], nil
}

// Overdue lists open loans past their due date, grouped by caller in the
// order callers first borrowed.
func (l *LendingLedger) Overdue() []Loan {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	var overdue []Loan
	for _, caller := range l.callers {
		for _, loan := range l.loans[caller] {
			if loan.IsOverdue(now) {
				overdue = append(overdue, loan)
			}
		}
	}
	return overdue
}

// AddCopies puts n more copies of bookID into circulation.
func (l *LendingLedger) AddCopies(bookID BookID, n uint16) (Book, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.catalog.AddCopies(bookID, n)
}

// RemoveCopies takes n copies of bookID out of circulation. A book keeps at
// least one copy and never drops below the copies currently on loan.
func (l *LendingLedger) RemoveCopies(bookID BookID, n uint16) (Book, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	book, ok := l.catalog.Get(bookID)
	if !ok {
		return Book{}, fmt.Errorf("remove copies of book %d: %w", bookID, ErrBookNotFound)
	}
	if n == 0 || n >= book.TotalCopies {
		return Book{}, fmt.Errorf("remove %d of %d copies of book %d: %w", n, book.TotalCopies, bookID, ErrInvalidCopies)
	}
	remaining := book.TotalCopies - n
	if int(remaining) < l.openByBook[bookID] {
		return Book{}, fmt.Errorf("remove %d copies of book %d: %w", n, bookID, ErrCopiesOnLoan)
	}

	book, err := l.catalog.setCopies(bookID, remaining)
	if err != nil {
		return Book{}, err
	}
	l.logger.Info(logMsgCopiesRemoved,
		logAttrBookID, bookID,
		logAttrCopies, book.TotalCopies,
		logAttrOpen, l.openByBook[bookID],
	)
	return book, nil
}
