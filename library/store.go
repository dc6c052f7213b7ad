package library

import "sync"

// Store is the durability port behind the Catalog, Membership and ledger.
// Put methods upsert by primary key; listing methods return records in
// insertion order.
type Store interface {
	PutBook(b Book) error
	Books() ([]Book, error)

	PutMember(m Member) error
	Members() ([]Member, error)

	PutLoan(l Loan) error
	Loans(caller CallerID) ([]Loan, error)
	AllLoans() ([]Loan, error)

	Close() error
}

// MemoryStore keeps everything in process memory. It is the default Store
// and what most tests run against.
type MemoryStore struct {
	mu sync.Mutex

	books     []Book
	bookIdx   map[BookID]int
	members   []Member
	memberIdx map[MemberID]int
	loans     []Loan
	loanIdx   map[LoanID]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookIdx:   make(map[BookID]int),
		memberIdx: make(map[MemberID]int),
		loanIdx:   make(map[LoanID]int),
	}
}

func (s *MemoryStore) PutBook(b Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.bookIdx[b.ID]; ok {
		s.books[i] = b
		return nil
	}
	s.bookIdx[b.ID] = len(s.books)
	s.books = append(s.books, b)
	return nil
}

func (s *MemoryStore) Books() ([]Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Book(nil), s.books...), nil
}

func (s *MemoryStore) PutMember(m Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.memberIdx[m.ID]; ok {
		s.members[i] = m
		return nil
	}
	s.memberIdx[m.ID] = len(s.members)
	s.members = append(s.members, m)
	return nil
}

func (s *MemoryStore) Members() ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Member(nil), s.members...), nil
}

func (s *MemoryStore) PutLoan(l Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.loanIdx[l.ID]; ok {
		s.loans[i] = l
		return nil
	}
	s.loanIdx[l.ID] = len(s.loans)
	s.loans = append(s.loans, l)
	return nil
}

func (s *MemoryStore) Loans(caller CallerID) ([]Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Loan
	for _, l := range s.loans {
		if l.Caller == caller {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *MemoryStore) AllLoans() ([]Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Loan(nil), s.loans...), nil
}

func (s *MemoryStore) Close() error { return nil }
