package chain

import (
	"context"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/veilart/gallery/internal/fhe"
)

// Submission is the payload of submitEntry. The hashes are content
// identifiers of the description text and the artwork.
type Submission struct {
	Title           string
	DescriptionHash string
	FileHash        string
	Tags            []string
	Categories      []string
}

// Entry is an entry as stored by the contract.
type Entry struct {
	ID              uint64
	Contestant      common.Address
	Title           string
	DescriptionHash string
	FileHash        string
	Tags            []string
	Categories      []string
	Timestamp       time.Time
	// ScoresHandle refers to the encrypted score counter. It is zero until
	// the entry is first scored.
	ScoresHandle fhe.Handle
}

// Clone returns a copy of e that shares no slices with it.
func (e *Entry) Clone() *Entry {
	out := *e
	out.Tags = slices.Clone(e.Tags)
	out.Categories = slices.Clone(e.Categories)
	return &out
}

// HasCategory reports whether the entry was registered under category.
func (e *Entry) HasCategory(category string) bool {
	return slices.Contains(e.Categories, category)
}

// Contest is the contract surface used by the rest of the program. Writes
// are transactions; they return once the transaction has been mined.
type Contest interface {
	Address() common.Address

	NextEntryID(ctx context.Context) (uint64, error)
	GetEntry(ctx context.Context, id uint64) (*Entry, error)
	GetAllEntries(ctx context.Context) ([]uint64, error)
	// GetCategoryVotes returns the handle of the encrypted vote counter for
	// category. The zero handle means nobody has voted yet.
	GetCategoryVotes(ctx context.Context, id uint64, category string) (fhe.Handle, error)

	SubmitEntry(ctx context.Context, s Submission) (uint64, common.Hash, error)
	ScoreEntry(ctx context.Context, id uint64) (common.Hash, error)
	VoteEntry(ctx context.Context, id uint64, category string) (common.Hash, error)
}

// Signer signs transactions for one account.
type Signer interface {
	Account() common.Address
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
}

// CiphertextStore records the result of on-chain encrypted arithmetic. Both
// fhe.FakeInstance and the mock relayer implement it.
type CiphertextStore interface {
	Store(value uint64, contract common.Address, users ...common.Address) fhe.Handle
}
