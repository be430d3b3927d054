package chain

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilart/gallery/internal/fhe"
)

// Event is a contract event recorded by MemoryContest.
type Event struct {
	Name     string
	EntryID  uint64
	Account  common.Address
	Title    string
	Category string
	TxHash   common.Hash
}

type memoryEntry struct {
	entry      Entry
	score      uint64
	votes      map[string]uint64
	voteHandle map[string]fhe.Handle
}

// MemoryContest applies the contract's rules in memory. Encrypted counters
// are written to a CiphertextStore and readable by the entry's contestant,
// as the contract grants them.
type MemoryContest struct {
	address common.Address
	store   CiphertextStore

	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*memoryEntry
	order   []uint64
	events  []Event
	txCount uint64
	now     func() time.Time
}

// NewMemoryContest returns an empty contest deployed at address. store may
// be nil, in which case counter handles are opaque and cannot be decrypted.
func NewMemoryContest(address common.Address, store CiphertextStore) *MemoryContest {
	return &MemoryContest{
		address: address,
		store:   store,
		nextID:  1,
		entries: map[uint64]*memoryEntry{},
		now:     time.Now,
	}
}

// As returns a view of the contest whose transactions are sent by account.
func (m *MemoryContest) As(account common.Address) Contest {
	return &memorySession{contest: m, account: account}
}

func (m *MemoryContest) Address() common.Address {
	return m.address
}

// NextEntryID returns the id the next submission will get.
func (m *MemoryContest) NextEntryID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID
}

// Entry returns a copy of entry id.
func (m *MemoryContest) Entry(id uint64) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e.entry.Clone(), nil
}

// EntryIDs returns every entry id in submission order.
func (m *MemoryContest) EntryIDs() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.order)
}

// CategoryVotes returns the vote counter handle for category, or the zero
// handle when nobody has voted in it.
func (m *MemoryContest) CategoryVotes(id uint64, category string) (fhe.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return fhe.Handle{}, ErrEntryNotFound
	}
	return e.voteHandle[category], nil
}

// Events returns every event emitted so far.
func (m *MemoryContest) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

// Submit registers a new entry sent by from.
func (m *MemoryContest) Submit(from common.Address, s Submission) (uint64, common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.entries[id] = &memoryEntry{
		entry: Entry{
			ID:              id,
			Contestant:      from,
			Title:           s.Title,
			DescriptionHash: s.DescriptionHash,
			FileHash:        s.FileHash,
			Tags:            slices.Clone(nonNil(s.Tags)),
			Categories:      slices.Clone(nonNil(s.Categories)),
			Timestamp:       m.now().UTC().Truncate(time.Second),
		},
		votes:      map[string]uint64{},
		voteHandle: map[string]fhe.Handle{},
	}
	m.order = append(m.order, id)

	tx := m.txHashLocked()
	m.events = append(m.events, Event{Name: "EntrySubmitted", EntryID: id, Account: from, Title: s.Title, TxHash: tx})
	return id, tx
}

// Score adds one to the encrypted score of entry id.
func (m *MemoryContest) Score(from common.Address, id uint64) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return common.Hash{}, ErrEntryNotFound
	}
	e.score++
	e.entry.ScoresHandle = m.storeLocked(e.score, e.entry.Contestant)

	tx := m.txHashLocked()
	m.events = append(m.events, Event{Name: "EntryScored", EntryID: id, Account: from, TxHash: tx})
	return tx, nil
}

// Vote adds one to the encrypted vote counter of category on entry id.
func (m *MemoryContest) Vote(from common.Address, id uint64, category string) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return common.Hash{}, ErrEntryNotFound
	}
	if !e.entry.HasCategory(category) {
		return common.Hash{}, ErrInvalidCategory
	}
	e.votes[category]++
	e.voteHandle[category] = m.storeLocked(e.votes[category], e.entry.Contestant)

	tx := m.txHashLocked()
	m.events = append(m.events, Event{Name: "EntryVoted", EntryID: id, Account: from, Category: category, TxHash: tx})
	return tx, nil
}

// checkScore and checkVote apply the rules without changing state, as gas
// estimation does.
func (m *MemoryContest) checkScore(id uint64) error {
	_, err := m.Entry(id)
	return err
}

func (m *MemoryContest) checkVote(id uint64, category string) error {
	e, err := m.Entry(id)
	if err != nil {
		return err
	}
	if !e.HasCategory(category) {
		return ErrInvalidCategory
	}
	return nil
}

func (m *MemoryContest) storeLocked(value uint64, contestant common.Address) fhe.Handle {
	if m.store != nil {
		return m.store.Store(value, m.address, contestant)
	}
	m.txCount++
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], m.txCount)
	binary.BigEndian.PutUint64(buf[8:], value)
	return fhe.Handle(sha256.Sum256(append(buf[:], m.address.Bytes()...)))
}

func (m *MemoryContest) txHashLocked() common.Hash {
	m.txCount++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], m.txCount)
	return common.Hash(sha256.Sum256(append(buf[:], m.address.Bytes()...)))
}

// memorySession is a MemoryContest seen from one account.
type memorySession struct {
	contest *MemoryContest
	account common.Address
}

var _ Contest = (*memorySession)(nil)

func (s *memorySession) Address() common.Address { return s.contest.address }

func (s *memorySession) NextEntryID(ctx context.Context) (uint64, error) {
	return s.contest.NextEntryID(), ctx.Err()
}

func (s *memorySession) GetEntry(ctx context.Context, id uint64) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.contest.Entry(id)
}

func (s *memorySession) GetAllEntries(ctx context.Context) ([]uint64, error) {
	return s.contest.EntryIDs(), ctx.Err()
}

func (s *memorySession) GetCategoryVotes(ctx context.Context, id uint64, category string) (fhe.Handle, error) {
	if err := ctx.Err(); err != nil {
		return fhe.Handle{}, err
	}
	return s.contest.CategoryVotes(id, category)
}

func (s *memorySession) SubmitEntry(ctx context.Context, sub Submission) (uint64, common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return 0, common.Hash{}, err
	}
	id, tx := s.contest.Submit(s.account, sub)
	return id, tx, nil
}

func (s *memorySession) ScoreEntry(ctx context.Context, id uint64) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	return s.contest.Score(s.account, id)
}

func (s *memorySession) VoteEntry(ctx context.Context, id uint64, category string) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	return s.contest.Vote(s.account, id, category)
}
