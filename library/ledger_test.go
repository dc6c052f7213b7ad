package library

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoanPeriodIsOneDay(t *testing.T) {
	assert.Equal(t, 24*time.Hour, LoanPeriod)
	assert.True(t, AllowRepeatBorrow)
}

func TestBorrowSingleCopy(t *testing.T) {
	f := newFixture(t, NewMemoryStore())

	sampleID := f.addBook(t, "Sample")
	_, err := f.membership.AddMember("chagalla.testnet", "Chagalla")
	require.NoError(t, err)

	receipt, err := f.ledger.Borrow("chagalla.testnet", sampleID)
	require.NoError(t, err)
	assert.Equal(t, sampleID, receipt.BookID)
	assert.Equal(t, "Sample", receipt.Title)
	assert.Equal(t, CallerID("chagalla.testnet"), receipt.Caller)
	assert.Equal(t, epoch, receipt.BorrowedAt)
	assert.Equal(t, LoanPeriod, receipt.DueAt.Sub(receipt.BorrowedAt))

	_, err = f.ledger.Borrow("frank.testnet", sampleID)
	assert.ErrorIs(t, err, ErrNoCopiesAvailable)

	loans, err := f.ledger.GetLoansFor("chagalla.testnet")
	require.NoError(t, err)
	assert.Len(t, loans, 1)
}

func TestBorrowUnknownBookLeavesLoansUntouched(t *testing.T) {
	f := newFixture(t, NewMemoryStore())

	_, err := f.ledger.Borrow("chagalla.testnet", 9999)
	assert.ErrorIs(t, err, ErrBookNotFound)

	_, err = f.ledger.GetLoansFor("chagalla.testnet")
	assert.ErrorIs(t, err, ErrNoLoanRecord)
}

func TestBorrowCapacity(t *testing.T) {
	for _, copies := range []uint16{1, 2, 5} {
		f := newFixture(t, NewMemoryStore())
		id := f.addBook(t, "Dune")
		if copies > 1 {
			_, err := f.ledger.AddCopies(id, copies-1)
			require.NoError(t, err)
		}

		for i := 0; i < int(copies); i++ {
			_, err := f.ledger.Borrow(CallerID("reader"), id)
			require.NoError(t, err, "borrow %d of %d", i+1, copies)
		}
		_, err := f.ledger.Borrow("reader", id)
		assert.ErrorIs(t, err, ErrNoCopiesAvailable, "copies=%d", copies)

		// Returning one frees exactly one slot.
		_, err = f.ledger.ReturnBook("reader", id)
		require.NoError(t, err)
		_, err = f.ledger.Borrow("other", id)
		require.NoError(t, err)
		_, err = f.ledger.Borrow("other", id)
		assert.ErrorIs(t, err, ErrNoCopiesAvailable)
	}
}

func TestGetLoansForKeepsBorrowOrder(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	ids := []BookID{f.addBook(t, "A"), f.addBook(t, "B"), f.addBook(t, "C")}

	for _, id := range ids {
		_, err := f.ledger.Borrow("reader", id)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	loans, err := f.ledger.GetLoansFor("reader")
	require.NoError(t, err)
	require.Len(t, loans, 3)
	for i, l := range loans {
		assert.Equal(t, ids[i], l.BookID)
		assert.Equal(t, epoch.Add(time.Duration(i)*time.Minute), l.BorrowedAt)
		assert.Equal(t, LoanPeriod, l.DueAt.Sub(l.BorrowedAt))
	}
}

func TestGetLoansForReturnsSnapshot(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	id := f.addBook(t, "A")
	_, err := f.ledger.Borrow("reader", id)
	require.NoError(t, err)

	loans, err := f.ledger.GetLoansFor("reader")
	require.NoError(t, err)
	loans[0].BookID = 42

	again, err := f.ledger.GetLoansFor("reader")
	require.NoError(t, err)
	assert.Equal(t, id, again[0].BookID)
}

func TestRepeatBorrowPolicy(t *testing.T) {
	t.Run("repeat allowed by default", func(t *testing.T) {
		f := newFixture(t, NewMemoryStore())
		id := f.addBook(t, "Dune")
		_, err := f.ledger.AddCopies(id, 1)
		require.NoError(t, err)

		_, err = f.ledger.Borrow("reader", id)
		require.NoError(t, err)
		_, err = f.ledger.Borrow("reader", id)
		require.NoError(t, err)
		assert.Len(t, f.ledger.OpenLoansFor("reader"), 2)
	})

	t.Run("single loan per book", func(t *testing.T) {
		f := newFixture(t, NewMemoryStore(), WithSingleLoanPerBook())
		id := f.addBook(t, "Dune")
		_, err := f.ledger.AddCopies(id, 1)
		require.NoError(t, err)

		_, err = f.ledger.Borrow("reader", id)
		require.NoError(t, err)
		_, err = f.ledger.Borrow("reader", id)
		assert.ErrorIs(t, err, ErrAlreadyBorrowed)

		_, err = f.ledger.ReturnBook("reader", id)
		require.NoError(t, err)
		_, err = f.ledger.Borrow("reader", id)
		assert.NoError(t, err)
	})
}

func TestReturnBook(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	id := f.addBook(t, "Dune")
	_, err := f.ledger.AddCopies(id, 1)
	require.NoError(t, err)

	first, err := f.ledger.Borrow("reader", id)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	second, err := f.ledger.Borrow("reader", id)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	returned, err := f.ledger.ReturnBook("reader", id)
	require.NoError(t, err)
	assert.Equal(t, first.ID, returned.ID, "earliest open loan closes first")
	assert.Equal(t, LoanClosed, returned.Status())
	require.NotNil(t, returned.ReturnedAt)
	assert.Equal(t, epoch.Add(2*time.Hour), *returned.ReturnedAt)
	assert.Equal(t, 1, f.ledger.OpenCount(id))

	open := f.ledger.OpenLoansFor("reader")
	require.Len(t, open, 1)
	assert.Equal(t, second.ID, open[0].ID)

	loans, err := f.ledger.GetLoansFor("reader")
	require.NoError(t, err)
	assert.Len(t, loans, 2, "closed loans stay in history")
}

func TestReturnBookErrors(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	id := f.addBook(t, "Dune")

	_, err := f.ledger.ReturnBook("reader", 77)
	assert.ErrorIs(t, err, ErrBookNotFound)

	_, err = f.ledger.ReturnBook("reader", id)
	assert.ErrorIs(t, err, ErrLoanNotFound)

	_, err = f.ledger.Borrow("someone-else", id)
	require.NoError(t, err)
	_, err = f.ledger.ReturnBook("reader", id)
	assert.ErrorIs(t, err, ErrLoanNotFound, "cannot return another caller's loan")
}

func TestBorrowByTitleAndName(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	first := f.addBook(t, "Sample")
	f.addBook(t, "Sample")
	_, err := f.membership.AddMember("chagalla.testnet", "Chagalla")
	require.NoError(t, err)

	receipt, err := f.ledger.BorrowByTitleAndName("Sample", "Chagalla")
	require.NoError(t, err)
	assert.Equal(t, first, receipt.BookID, "first title match wins")
	assert.Equal(t, CallerID("chagalla.testnet"), receipt.Caller)

	_, err = f.ledger.BorrowByTitleAndName("Missing", "Chagalla")
	assert.ErrorIs(t, err, ErrBookNotFound)

	_, err = f.ledger.BorrowByTitleAndName("Sample", "Nobody")
	assert.ErrorIs(t, err, ErrMemberNotFound)

	_, err = f.ledger.BorrowByTitleAndName("sample", "Chagalla")
	assert.ErrorIs(t, err, ErrBookNotFound, "title match is case-sensitive")
}

func TestBorrowRefByTitle(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	id := f.addBook(t, "The Hobbit")

	receipt, err := f.ledger.BorrowRef("reader", ByTitle("The Hobbit"))
	require.NoError(t, err)
	assert.Equal(t, id, receipt.BookID)
}

func TestOverdue(t *testing.T) {
	f := newFixture(t, NewMemoryStore(), WithLoanPeriod(2*time.Hour))
	a := f.addBook(t, "A")
	b := f.addBook(t, "B")

	_, err := f.ledger.Borrow("early", a)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.ledger.Borrow("late", b)
	require.NoError(t, err)

	assert.Empty(t, f.ledger.Overdue())

	f.clock.Advance(90 * time.Minute)
	overdue := f.ledger.Overdue()
	require.Len(t, overdue, 1)
	assert.Equal(t, CallerID("early"), overdue[0].Caller)

	// Due exactly now is not overdue yet.
	f.clock.Advance(30 * time.Minute)
	assert.Len(t, f.ledger.Overdue(), 1)

	f.clock.Advance(time.Second)
	assert.Len(t, f.ledger.Overdue(), 2)

	_, err = f.ledger.ReturnBook("early", a)
	require.NoError(t, err)
	overdue = f.ledger.Overdue()
	require.Len(t, overdue, 1)
	assert.Equal(t, CallerID("late"), overdue[0].Caller)
}

func TestLoanPeriodMustBePositive(t *testing.T) {
	store := NewMemoryStore()
	catalog, err := NewCatalog(store)
	require.NoError(t, err)
	membership, err := NewMembership(store)
	require.NoError(t, err)

	_, err = NewLendingLedger(catalog, membership, store, WithLoanPeriod(0))
	assert.Error(t, err)
}

func TestCopiesAccounting(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	id := f.addBook(t, "Dune")

	_, err := f.ledger.AddCopies(id, 3)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = f.ledger.Borrow("reader", id)
		require.NoError(t, err)
	}
	avail, err := f.ledger.Available(id)
	require.NoError(t, err)
	assert.Equal(t, 1, avail)

	_, err = f.ledger.RemoveCopies(id, 2)
	assert.ErrorIs(t, err, ErrCopiesOnLoan)

	book, err := f.ledger.RemoveCopies(id, 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), book.TotalCopies)

	_, err = f.ledger.RemoveCopies(id, 3)
	assert.ErrorIs(t, err, ErrInvalidCopies, "a book keeps at least one copy")
	_, err = f.ledger.RemoveCopies(id, 0)
	assert.ErrorIs(t, err, ErrInvalidCopies)
	_, err = f.ledger.RemoveCopies(404, 1)
	assert.ErrorIs(t, err, ErrBookNotFound)

	_, err = f.ledger.Available(404)
	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestFailedStoreWriteRecordsNothing(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	f := newFixture(t, store)
	id := f.addBook(t, "Dune")

	store.failLoans = true
	_, err := f.ledger.Borrow("reader", id)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 0, f.ledger.OpenCount(id))
	_, err = f.ledger.GetLoansFor("reader")
	assert.ErrorIs(t, err, ErrNoLoanRecord)

	store.failLoans = false
	_, err = f.ledger.Borrow("reader", id)
	require.NoError(t, err)

	store.failLoans = true
	_, err = f.ledger.ReturnBook("reader", id)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Len(t, f.ledger.OpenLoansFor("reader"), 1)
}

func TestConcurrentBorrowNeverExceedsCopies(t *testing.T) {
	f := newFixture(t, NewMemoryStore())
	id := f.addBook(t, "Popular")
	_, err := f.ledger.AddCopies(id, 9)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ledger.Borrow("reader", id); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
	assert.Equal(t, 10, f.ledger.OpenCount(id))
}

func TestLedgerReplaysStoredLoans(t *testing.T) {
	store := NewMemoryStore()
	f := newFixture(t, store)
	id := f.addBook(t, "Dune")
	_, err := f.ledger.AddCopies(id, 1)
	require.NoError(t, err)
	_, err = f.ledger.Borrow("reader", id)
	require.NoError(t, err)
	_, err = f.ledger.Borrow("reader", id)
	require.NoError(t, err)
	_, err = f.ledger.ReturnBook("reader", id)
	require.NoError(t, err)

	reloaded := newFixture(t, store)
	assert.Equal(t, 1, reloaded.ledger.OpenCount(id))
	loans, err := reloaded.ledger.GetLoansFor("reader")
	require.NoError(t, err)
	assert.Len(t, loans, 2)
}

func TestLedgerLogsBorrowAndReject(t *testing.T) {
	spy := &logSpy{}
	f := newFixture(t, NewMemoryStore(), WithLogger(slog.New(spy)))
	id := f.addBook(t, "Dune")

	_, err := f.ledger.Borrow("reader", id)
	require.NoError(t, err)
	_, err = f.ledger.Borrow("reader", id)
	require.Error(t, err)
	_, err = f.ledger.ReturnBook("reader", id)
	require.NoError(t, err)

	assert.Equal(t, []string{logMsgBorrowed, logMsgBorrowRejected, logMsgReturned}, spy.messages())
}
