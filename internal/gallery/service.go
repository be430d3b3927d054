// Package gallery implements the contest operations on top of the contract,
// content storage and the encryption service.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pmylund/go-cache"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/veilart/gallery/api"
	"github.com/veilart/gallery/internal/chain"
	"github.com/veilart/gallery/internal/fhe"
	"github.com/veilart/gallery/internal/ipfs"
	"github.com/veilart/gallery/internal/wallet"
	"github.com/veilart/gallery/pkg/logs"
)

var (
	// ErrNotContestant is returned when someone other than the contestant
	// asks to decrypt an entry's counters.
	ErrNotContestant = errors.New("only the contestant can decrypt this entry's votes")

	// ErrNoVotes is returned when decrypting a counter nobody has written.
	ErrNoVotes = errors.New("no votes yet")
	// ErrNoScore is returned when decrypting the score of an entry nobody
	// has scored.
	ErrNoScore = errors.New("not scored yet")

	// ErrInvalidSubmission is returned when a submission is missing required
	// fields.
	ErrInvalidSubmission = errors.New("invalid submission")
)

// DefaultCacheTTL is how long entries are cached when Options.CacheTTL is
// zero.
const DefaultCacheTTL = 30 * time.Second

// fetchConcurrency bounds parallel entry reads.
const fetchConcurrency = 8

// Options holds the collaborators of a Service.
type Options struct {
	Contest     chain.Contest
	Store       ipfs.Store
	Gateway     *ipfs.Gateway
	Coordinator *fhe.Coordinator
	// Wallet may be nil, in which case every write and decryption fails
	// with wallet.ErrNoAccount.
	Wallet   wallet.Wallet
	CacheTTL time.Duration
}

// Service runs contest operations for the wallet's account.
type Service struct {
	contest     chain.Contest
	store       ipfs.Store
	gateway     *ipfs.Gateway
	coordinator *fhe.Coordinator
	wallet      wallet.Wallet

	entries   *cache.Cache
	sanitizer *bluemonday.Policy
}

func NewService(opts Options) *Service {
	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	gateway := opts.Gateway
	if gateway == nil {
		gateway = ipfs.NewGateway("", nil)
	}
	return &Service{
		contest:     opts.Contest,
		store:       opts.Store,
		gateway:     gateway,
		coordinator: opts.Coordinator,
		wallet:      opts.Wallet,
		entries:     cache.New(ttl, 2*ttl),
		sanitizer:   bluemonday.StrictPolicy(),
	}
}

func (s *Service) account() (common.Address, error) {
	if s.wallet == nil {
		return common.Address{}, wallet.ErrNoAccount
	}
	return s.wallet.Account(), nil
}

// Submission is an artwork to submit.
type Submission struct {
	Title       string
	Description string
	File        []byte
	FileName    string
	// ContentType is detected from File when empty.
	ContentType string
	Tags        []string
	Categories  []string
}

func (s *Submission) validate() error {
	var result *multierror.Error
	if strings.TrimSpace(s.Title) == "" {
		result = multierror.Append(result, errors.New("title is required"))
	}
	if strings.TrimSpace(s.Description) == "" {
		result = multierror.Append(result, errors.New("description is required"))
	}
	if len(s.File) == 0 {
		result = multierror.Append(result, errors.New("artwork file is required"))
	}
	if len(uniqueNonEmpty(s.Categories)) == 0 {
		result = multierror.Append(result, errors.New("at least one category is required"))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSubmission, err)
	}
	return nil
}

// Submit uploads the description and the artwork, then registers the entry
// on chain.
func (s *Service) Submit(ctx context.Context, sub Submission) (*api.Submitted, error) {
	log := klog.FromContext(ctx).WithName("gallery")

	if _, err := s.account(); err != nil {
		return nil, err
	}
	if err := sub.validate(); err != nil {
		return nil, err
	}

	description, err := ipfs.UploadText(ctx, s.store, s.plainText(sub.Description))
	if err != nil {
		return nil, fmt.Errorf("uploading description: %w", err)
	}

	contentType := sub.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(sub.File)
	}
	name := sub.FileName
	if name == "" {
		name = "artwork"
	}
	artwork, err := s.store.Upload(ctx, name, contentType, sub.File)
	if err != nil {
		return nil, fmt.Errorf("uploading artwork: %w", err)
	}

	id, tx, err := s.contest.SubmitEntry(ctx, chain.Submission{
		Title:           strings.TrimSpace(s.plainText(sub.Title)),
		DescriptionHash: description.Hash,
		FileHash:        artwork.Hash,
		Tags:            uniqueNonEmpty(sub.Tags),
		Categories:      uniqueNonEmpty(sub.Categories),
	})
	if err != nil {
		return nil, fmt.Errorf("submitting entry: %w", err)
	}

	log.Info("Submitted entry", "entry", id, "tx", tx.Hex())
	return &api.Submitted{
		EntryID:         id,
		TxHash:          tx.Hex(),
		DescriptionHash: description.Hash,
		FileHash:        artwork.Hash,
		ImageURL:        s.gateway.URL(artwork.Hash),
	}, nil
}

// Entry returns entry id, from the cache when possible.
func (s *Service) Entry(ctx context.Context, id uint64) (*chain.Entry, error) {
	key := strconv.FormatUint(id, 10)
	if cached, ok := s.entries.Get(key); ok {
		klog.FromContext(ctx).WithName("gallery").V(logs.Trace).Info("Entry cache hit", "entry", id)
		return cached.(*chain.Entry).Clone(), nil
	}

	entry, err := s.contest.GetEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching entry %d: %w", id, err)
	}
	s.entries.Set(key, entry, cache.DefaultExpiration)
	return entry.Clone(), nil
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	// Search matches the title or any tag, case-insensitively.
	Search string
	// Categories matches entries registered under any of them.
	Categories []string
	Contestant common.Address
}

func (f Filter) match(e *chain.Entry) bool {
	if f.Contestant != (common.Address{}) && e.Contestant != f.Contestant {
		return false
	}
	if len(f.Categories) > 0 && !slices.ContainsFunc(e.Categories, func(c string) bool {
		return slices.Contains(f.Categories, c)
	}) {
		return false
	}
	if q := strings.ToLower(f.Search); q != "" {
		if !strings.Contains(strings.ToLower(e.Title), q) && !slices.ContainsFunc(e.Tags, func(t string) bool {
			return strings.Contains(strings.ToLower(t), q)
		}) {
			return false
		}
	}
	return true
}

// ListEntries returns the matching entries, newest first.
func (s *Service) ListEntries(ctx context.Context, filter Filter) ([]*chain.Entry, error) {
	ids, err := s.contest.GetAllEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}

	entries := make([]*chain.Entry, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			entry, err := s.Entry(gctx, id)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	matched := slices.DeleteFunc(entries, func(e *chain.Entry) bool { return !filter.match(e) })
	slices.SortStableFunc(matched, func(a, b *chain.Entry) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	return matched, nil
}

// MySubmissions returns the wallet account's entries, newest first.
func (s *Service) MySubmissions(ctx context.Context) ([]*chain.Entry, error) {
	account, err := s.account()
	if err != nil {
		return nil, err
	}
	return s.ListEntries(ctx, Filter{Contestant: account})
}

// Score records a score for entry id.
func (s *Service) Score(ctx context.Context, id uint64) (*api.Transaction, error) {
	if _, err := s.account(); err != nil {
		return nil, err
	}
	tx, err := s.contest.ScoreEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("scoring entry %d: %w", id, err)
	}
	s.entries.Delete(strconv.FormatUint(id, 10))
	klog.FromContext(ctx).WithName("gallery").Info("Scored entry", "entry", id, "tx", tx.Hex())
	return &api.Transaction{EntryID: id, TxHash: tx.Hex()}, nil
}

// Vote records a vote for entry id in category. Categories the entry was
// not registered under are rejected before a transaction is sent; the
// contract enforces the same rule.
func (s *Service) Vote(ctx context.Context, id uint64, category string) (*api.Transaction, error) {
	if _, err := s.account(); err != nil {
		return nil, err
	}
	entry, err := s.Entry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !entry.HasCategory(category) {
		return nil, fmt.Errorf("voting for entry %d in %q: %w", id, category, chain.ErrInvalidCategory)
	}

	tx, err := s.contest.VoteEntry(ctx, id, category)
	if err != nil {
		return nil, fmt.Errorf("voting for entry %d in %q: %w", id, category, err)
	}
	s.entries.Delete(strconv.FormatUint(id, 10))
	klog.FromContext(ctx).WithName("gallery").Info("Voted for entry", "entry", id, "category", category, "tx", tx.Hex())
	return &api.Transaction{EntryID: id, Category: category, TxHash: tx.Hex()}, nil
}

// CategoryVotes returns the vote counter handle of each category of entry
// id.
func (s *Service) CategoryVotes(ctx context.Context, id uint64) ([]api.CategoryVotes, error) {
	entry, err := s.Entry(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make([]api.CategoryVotes, 0, len(entry.Categories))
	for _, category := range entry.Categories {
		handle, err := s.contest.GetCategoryVotes(ctx, id, category)
		if err != nil {
			return nil, fmt.Errorf("fetching %q votes of entry %d: %w", category, id, err)
		}
		v := api.CategoryVotes{Category: category}
		if !handle.IsZero() {
			v.Present = true
			v.Handle = handle.Hex()
		}
		out = append(out, v)
	}
	return out, nil
}

// DecryptCategoryVotes decrypts the vote count of category on entry id.
// Only the contestant may do this.
func (s *Service) DecryptCategoryVotes(ctx context.Context, id uint64, category string) (uint64, error) {
	entry, account, err := s.contestantEntry(ctx, id)
	if err != nil {
		return 0, err
	}
	if !entry.HasCategory(category) {
		return 0, chain.ErrInvalidCategory
	}

	handle, err := s.contest.GetCategoryVotes(ctx, id, category)
	if err != nil {
		return 0, fmt.Errorf("fetching %q votes of entry %d: %w", category, id, err)
	}
	if handle.IsZero() {
		return 0, ErrNoVotes
	}
	return s.decrypt(ctx, handle, account)
}

// DecryptScore decrypts the score of entry id. Only the contestant may do
// this.
func (s *Service) DecryptScore(ctx context.Context, id uint64) (uint64, error) {
	entry, account, err := s.contestantEntry(ctx, id)
	if err != nil {
		return 0, err
	}
	if entry.ScoresHandle.IsZero() {
		return 0, ErrNoScore
	}
	return s.decrypt(ctx, entry.ScoresHandle, account)
}

func (s *Service) contestantEntry(ctx context.Context, id uint64) (*chain.Entry, common.Address, error) {
	account, err := s.account()
	if err != nil {
		return nil, common.Address{}, err
	}
	// Counter handles change with every score, so skip the cache.
	entry, err := s.contest.GetEntry(ctx, id)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("fetching entry %d: %w", id, err)
	}
	s.entries.Set(strconv.FormatUint(id, 10), entry, cache.DefaultExpiration)
	if entry.Contestant != account {
		return nil, common.Address{}, ErrNotContestant
	}
	return entry, account, nil
}

func (s *Service) decrypt(ctx context.Context, handle fhe.Handle, account common.Address) (uint64, error) {
	return s.coordinator.Decrypt(ctx, handle, s.contest.Address(), account)
}

// Description fetches the description text of entry from IPFS with any
// markup removed.
func (s *Service) Description(ctx context.Context, entry *chain.Entry) (string, error) {
	if entry.DescriptionHash == "" {
		return "", nil
	}
	text, err := s.gateway.FetchText(ctx, entry.DescriptionHash)
	if err != nil {
		return "", err
	}
	return s.plainText(text), nil
}

// plainText strips markup from user text. The policy escapes what it keeps,
// which is undone so the text stays as entered.
func (s *Service) plainText(text string) string {
	return html.UnescapeString(s.sanitizer.Sanitize(text))
}

// View converts entry to its JSON form.
func (s *Service) View(entry *chain.Entry) api.Entry {
	v := api.Entry{
		ID:              entry.ID,
		Contestant:      entry.Contestant.Hex(),
		Title:           entry.Title,
		DescriptionHash: entry.DescriptionHash,
		FileHash:        entry.FileHash,
		ImageURL:        s.gateway.URL(entry.FileHash),
		Tags:            nonNil(entry.Tags),
		Categories:      nonNil(entry.Categories),
		Timestamp:       api.Time{Time: entry.Timestamp},
	}
	if !entry.ScoresHandle.IsZero() {
		v.ScoresHandle = entry.ScoresHandle.Hex()
	}
	return v
}

// uniqueNonEmpty trims values and drops empty and repeated ones, keeping
// the first occurrence.
func uniqueNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
