package library

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Membership is the authoritative set of Member records.
type Membership struct {
	mu      sync.RWMutex
	store   Store
	members []Member
	byID    map[MemberID]int
	nextID  MemberID
}

func NewMembership(store Store) (*Membership, error) {
	members, err := store.Members()
	if err != nil {
		return nil, errors.Wrap(err, "load members")
	}
	ms := &Membership{store: store, byID: make(map[MemberID]int, len(members)), nextID: 1}
	for _, m := range members {
		if _, dup := ms.byID[m.ID]; dup {
			return nil, fmt.Errorf("load member %d: %w", m.ID, ErrDuplicateIdentity)
		}
		ms.byID[m.ID] = len(ms.members)
		ms.members = append(ms.members, m)
		if m.ID >= ms.nextID {
			ms.nextID = m.ID + 1
		}
	}
	return ms, nil
}

// AddMember registers displayName for account. New members start unconfirmed.
func (ms *Membership) AddMember(account CallerID, displayName string) (MemberID, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	m := Member{ID: ms.nextID, Account: account, DisplayName: displayName}
	if _, dup := ms.byID[m.ID]; dup {
		return 0, fmt.Errorf("add member %d: %w", m.ID, ErrDuplicateIdentity)
	}
	if err := ms.store.PutMember(m); err != nil {
		return 0, err
	}
	ms.nextID++
	ms.byID[m.ID] = len(ms.members)
	ms.members = append(ms.members, m)
	return m.ID, nil
}

// Confirm flips IsMember on.
func (ms *Membership) Confirm(id MemberID) (Member, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	i, ok := ms.byID[id]
	if !ok {
		return Member{}, fmt.Errorf("confirm member %d: %w", id, ErrMemberNotFound)
	}
	m := ms.members[i]
	m.IsMember = true
	if err := ms.store.PutMember(m); err != nil {
		return Member{}, err
	}
	ms.members[i] = m
	return m, nil
}

func (ms *Membership) Get(id MemberID) (Member, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	i, ok := ms.byID[id]
	if !ok {
		return Member{}, false
	}
	return ms.members[i], true
}

// FindByName returns the first member registered under displayName.
func (ms *Membership) FindByName(displayName string) (Member, bool) {
	return ms.find(func(m Member) bool { return m.DisplayName == displayName })
}

// FindByAccount returns the first member registered for account.
func (ms *Membership) FindByAccount(account CallerID) (Member, bool) {
	return ms.find(func(m Member) bool { return m.Account == account })
}

func (ms *Membership) find(match func(Member) bool) (Member, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	for _, m := range ms.members {
		if match(m) {
			return m, true
		}
	}
	return Member{}, false
}

func (ms *Membership) GetAll() []Member {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return append([]Member(nil), ms.members...)
}

func (ms *Membership) Count() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.members)
}
