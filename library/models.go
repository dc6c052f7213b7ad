package library

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type (
	// BookID identifies a catalog entry. Ids are never reused.
	BookID uint64
	// MemberID identifies a registered member. Ids are never reused.
	MemberID uint64
	// CallerID is the account identity the host attaches to every call.
	CallerID string
	// LoanID identifies a single loan record.
	LoanID = uuid.UUID
)

// Category is the closed set of shelf categories.
type Category int

const (
	CategoryAny Category = iota
	CategoryWar
	CategoryFantasy
)

var categoryNames = map[Category]string{
	CategoryAny:     "any",
	CategoryWar:     "war",
	CategoryFantasy: "fantasy",
}

// ParseCategory maps a free-form name onto a Category. Unknown names fall back
// to CategoryAny rather than failing.
func ParseCategory(name string) Category {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "war":
		return CategoryWar
	case "fantasy":
		return CategoryFantasy
	default:
		return CategoryAny
	}
}

func (c Category) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return categoryNames[CategoryAny]
}

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Category) UnmarshalText(b []byte) error {
	*c = ParseCategory(string(b))
	return nil
}

// Location is the physical slot a book lives in.
type Location struct {
	Drawer uint8 `json:"drawer"`
	Column uint8 `json:"column"`
}

// Book is a catalog entry and its copy count.
type Book struct {
	ID          BookID   `json:"id"`
	Title       string   `json:"title"`
	Category    Category `json:"category"`
	Location    Location `json:"location"`
	TotalCopies uint16   `json:"total_copies"`
}

// Member is a registered user. IsMember marks a confirmed membership.
type Member struct {
	ID          MemberID `json:"id"`
	Account     CallerID `json:"account"`
	DisplayName string   `json:"display_name"`
	IsMember    bool     `json:"is_member"`
}

// LoanStatus is derived from a Loan's return state, never stored.
type LoanStatus int

const (
	LoanOpen LoanStatus = iota
	LoanClosed
)

func (s LoanStatus) String() string {
	if s == LoanClosed {
		return "closed"
	}
	return "open"
}

// Loan links a caller to a borrowed book.
type Loan struct {
	ID         LoanID     `json:"id"`
	BookID     BookID     `json:"book_id"`
	Caller     CallerID   `json:"caller"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueAt      time.Time  `json:"due_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
}

// Status reports whether the loan is still open.
func (l Loan) Status() LoanStatus {
	if l.ReturnedAt != nil {
		return LoanClosed
	}
	return LoanOpen
}

// IsOpen is shorthand for Status() == LoanOpen.
func (l Loan) IsOpen() bool { return l.ReturnedAt == nil }

// IsOverdue reports whether the loan is open and past its due date at now.
func (l Loan) IsOverdue(now time.Time) bool {
	return l.IsOpen() && now.After(l.DueAt)
}

// LoanReceipt is handed back to the caller of a successful borrow.
type LoanReceipt struct {
	Loan
	Title string `json:"title"`
}
