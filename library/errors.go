package library

import "errors"

var (
	ErrBookNotFound      = errors.New("book not found")
	ErrMemberNotFound    = errors.New("member not found")
	ErrNoCopiesAvailable = errors.New("no copies available")
	// ErrDuplicateIdentity means an id was assigned twice. Id assignment makes
	// this unreachable unless the store was edited by hand.
	ErrDuplicateIdentity = errors.New("duplicate identity")
	ErrLoanNotFound      = errors.New("no open loan for this book")
	ErrNoLoanRecord      = errors.New("caller has no loan record")
	ErrAlreadyBorrowed   = errors.New("book already borrowed by caller")
	ErrCopiesOnLoan      = errors.New("copies still on loan")
	ErrInvalidCopies     = errors.New("invalid number of copies")
)
