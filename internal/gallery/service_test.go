package gallery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/maxatome/go-testdeep/td"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/ktesting"

	"github.com/veilart/gallery/api"
	"github.com/veilart/gallery/internal/chain"
	"github.com/veilart/gallery/internal/fhe"
	"github.com/veilart/gallery/internal/ipfs"
	"github.com/veilart/gallery/internal/wallet"
)

var (
	testContract   = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testContestant = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e4d17dc79C8")
	testJudge      = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	log := ktesting.NewLogger(t, ktesting.NewConfig(ktesting.Verbosity(10)))
	return klog.NewContext(t.Context(), log)
}

type fakeWallet struct {
	account common.Address
}

func (w fakeWallet) Account() common.Address { return w.account }

func (w fakeWallet) ChainID(context.Context) (uint64, error) { return fhe.SepoliaConfig.ChainID, nil }

func (w fakeWallet) TransactOpts(context.Context) (*bind.TransactOpts, error) {
	return &bind.TransactOpts{From: w.account}, nil
}

type testEnv struct {
	contest *chain.MemoryContest
	store   *ipfs.LocalStore
	runtime *fhe.FakeRuntime
	gateway *ipfs.Gateway
	coord   *fhe.Coordinator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   ipfs.NewLocalStore(),
		runtime: fhe.NewFakeRuntime(),
	}
	env.contest = chain.NewMemoryContest(testContract, env.runtime.FakeInstance())
	env.coord = fhe.NewCoordinator(env.runtime, fhe.SepoliaConfig)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := env.store.Get(strings.TrimPrefix(r.URL.Path, "/ipfs/"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)
	env.gateway = ipfs.NewGateway(server.URL+"/ipfs/", server.Client())
	return env
}

// service returns a Service acting as account. A zero account has no
// wallet.
func (env *testEnv) service(account common.Address) *Service {
	opts := Options{
		Contest:     env.contest.As(account),
		Store:       env.store,
		Gateway:     env.gateway,
		Coordinator: env.coord,
	}
	if account != (common.Address{}) {
		opts.Wallet = fakeWallet{account: account}
	}
	return NewService(opts)
}

func sunsetDreams() Submission {
	return Submission{
		Title:       "Sunset Dreams",
		Description: "A warm evening over the bay.",
		File:        []byte("\x89PNG\r\n\x1a\n pixels"),
		FileName:    "sunset.png",
		Tags:        []string{"sunset", " warm ", "sunset", ""},
		Categories:  []string{"painting", "nature", "painting"},
	}
}

func TestService_Submit(t *testing.T) {
	t.Run("uploads content and registers the entry", func(t *testing.T) {
		ctx := testContext(t)
		env := newTestEnv(t)
		svc := env.service(testContestant)

		out, err := svc.Submit(ctx, sunsetDreams())
		require.NoError(t, err)
		assert.Equal(t, uint64(1), out.EntryID)
		assert.True(t, ipfs.ValidCID(out.DescriptionHash))
		assert.True(t, ipfs.ValidCID(out.FileHash))
		assert.Equal(t, env.gateway.URL(out.FileHash), out.ImageURL)

		entry, err := svc.Entry(ctx, out.EntryID)
		require.NoError(t, err)
		td.Cmp(t, entry, td.Struct(&chain.Entry{
			ID:              1,
			Contestant:      testContestant,
			Title:           "Sunset Dreams",
			DescriptionHash: out.DescriptionHash,
			FileHash:        out.FileHash,
			Tags:            []string{"sunset", "warm"},
			Categories:      []string{"painting", "nature"},
		}))

		description, err := svc.Description(ctx, entry)
		require.NoError(t, err)
		assert.Equal(t, "A warm evening over the bay.", description)
	})

	t.Run("strips markup", func(t *testing.T) {
		ctx := testContext(t)
		env := newTestEnv(t)
		svc := env.service(testContestant)

		sub := sunsetDreams()
		sub.Title = "<b>Sunset</b> Dreams"
		sub.Description = `<script>alert(1)</script>A warm evening`
		out, err := svc.Submit(ctx, sub)
		require.NoError(t, err)

		entry, err := svc.Entry(ctx, out.EntryID)
		require.NoError(t, err)
		assert.Equal(t, "Sunset Dreams", entry.Title)
		description, err := svc.Description(ctx, entry)
		require.NoError(t, err)
		assert.Equal(t, "A warm evening", description)
	})

	t.Run("keeps punctuation as entered", func(t *testing.T) {
		ctx := testContext(t)
		env := newTestEnv(t)
		svc := env.service(testContestant)

		sub := sunsetDreams()
		sub.Title = "Tom & Jerry's Sunset > Sunrise"
		sub.Description = "Cats & dogs aren't <i>enemies</i> > friends"
		out, err := svc.Submit(ctx, sub)
		require.NoError(t, err)

		stored, ok := env.store.Get(out.DescriptionHash)
		require.True(t, ok)
		assert.Equal(t, "Cats & dogs aren't enemies > friends", string(stored))

		entry, err := svc.Entry(ctx, out.EntryID)
		require.NoError(t, err)
		assert.Equal(t, "Tom & Jerry's Sunset > Sunrise", entry.Title)
		description, err := svc.Description(ctx, entry)
		require.NoError(t, err)
		assert.Equal(t, "Cats & dogs aren't enemies > friends", description)
	})

	t.Run("reports every missing field", func(t *testing.T) {
		ctx := testContext(t)
		env := newTestEnv(t)

		_, err := env.service(testContestant).Submit(ctx, Submission{Title: " "})
		require.ErrorIs(t, err, ErrInvalidSubmission)
		for _, msg := range []string{"title is required", "description is required", "artwork file is required", "at least one category is required"} {
			assert.ErrorContains(t, err, msg)
		}
		assert.Equal(t, uint64(1), env.contest.NextEntryID())
	})

	t.Run("needs an account", func(t *testing.T) {
		_, err := newTestEnv(t).service(common.Address{}).Submit(testContext(t), sunsetDreams())
		assert.ErrorIs(t, err, wallet.ErrNoAccount)
	})
}

func TestService_Entry(t *testing.T) {
	ctx := testContext(t)
	env := newTestEnv(t)
	svc := env.service(testContestant)

	out, err := svc.Submit(ctx, sunsetDreams())
	require.NoError(t, err)

	first, err := svc.Entry(ctx, out.EntryID)
	require.NoError(t, err)
	first.Title = "changed"
	first.Tags[0] = "changed"
	first.Categories[0] = "changed"

	cached, err := svc.Entry(ctx, out.EntryID)
	require.NoError(t, err)
	assert.Equal(t, "Sunset Dreams", cached.Title)
	assert.Equal(t, []string{"sunset", "warm"}, cached.Tags)
	assert.Equal(t, []string{"painting", "nature"}, cached.Categories)
}

func TestService_ListEntries(t *testing.T) {
	ctx := testContext(t)
	env := newTestEnv(t)
	contestant := env.service(testContestant)
	judge := env.service(testJudge)

	submit := func(svc *Service, title string, tags, categories []string) {
		sub := sunsetDreams()
		sub.Title, sub.Tags, sub.Categories = title, tags, categories
		_, err := svc.Submit(ctx, sub)
		require.NoError(t, err)
	}
	submit(contestant, "Sunset Dreams", []string{"warm"}, []string{"painting", "nature"})
	submit(judge, "Bronze Tide", []string{"metal"}, []string{"sculpture"})
	submit(contestant, "Night Forest", []string{"Sunset"}, []string{"nature"})

	titles := func(entries []*chain.Entry) []string {
		out := []string{}
		for _, e := range entries {
			out = append(out, e.Title)
		}
		return out
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "all, newest first", want: []string{"Night Forest", "Bronze Tide", "Sunset Dreams"}},
		{name: "by category", filter: Filter{Categories: []string{"nature"}}, want: []string{"Night Forest", "Sunset Dreams"}},
		{name: "any category", filter: Filter{Categories: []string{"sculpture", "painting"}}, want: []string{"Bronze Tide", "Sunset Dreams"}},
		{name: "search title or tag", filter: Filter{Search: "sunset"}, want: []string{"Night Forest", "Sunset Dreams"}},
		{name: "by contestant", filter: Filter{Contestant: testJudge}, want: []string{"Bronze Tide"}},
		{name: "no match", filter: Filter{Search: "ocean"}, want: []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			entries, err := judge.ListEntries(ctx, tc.filter)
			require.NoError(t, err)
			td.Cmp(t, titles(entries), tc.want)
		})
	}

	t.Run("my submissions", func(t *testing.T) {
		entries, err := contestant.MySubmissions(ctx)
		require.NoError(t, err)
		td.Cmp(t, titles(entries), []string{"Night Forest", "Sunset Dreams"})

		_, err = env.service(common.Address{}).MySubmissions(ctx)
		assert.ErrorIs(t, err, wallet.ErrNoAccount)
	})
}

func TestService_Vote(t *testing.T) {
	setup := func(t *testing.T) (context.Context, *testEnv, uint64) {
		ctx := testContext(t)
		env := newTestEnv(t)
		out, err := env.service(testContestant).Submit(ctx, sunsetDreams())
		require.NoError(t, err)
		return ctx, env, out.EntryID
	}

	t.Run("rejects categories the entry is not registered under", func(t *testing.T) {
		ctx, env, id := setup(t)

		_, err := env.service(testJudge).Vote(ctx, id, "sculpture")
		assert.ErrorIs(t, err, chain.ErrInvalidCategory)
		assert.Len(t, env.contest.Events(), 1, "no transaction is sent")

		tx, err := env.service(testJudge).Vote(ctx, id, "painting")
		require.NoError(t, err)
		assert.Equal(t, &api.Transaction{EntryID: id, Category: "painting", TxHash: tx.TxHash}, tx)
	})

	t.Run("unknown entry", func(t *testing.T) {
		ctx, env, _ := setup(t)
		_, err := env.service(testJudge).Vote(ctx, 99, "painting")
		assert.ErrorIs(t, err, chain.ErrEntryNotFound)
	})

	t.Run("category votes are absent until someone votes", func(t *testing.T) {
		ctx, env, id := setup(t)
		judge := env.service(testJudge)

		votes, err := judge.CategoryVotes(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []api.CategoryVotes{
			{Category: "painting"},
			{Category: "nature"},
		}, votes)

		_, err = judge.Vote(ctx, id, "painting")
		require.NoError(t, err)

		votes, err = judge.CategoryVotes(ctx, id)
		require.NoError(t, err)
		td.Cmp(t, votes, td.Slice([]api.CategoryVotes{}, td.ArrayEntries{
			0: td.Struct(api.CategoryVotes{Category: "painting", Present: true}, td.StructFields{
				"Handle": td.Re(`^0x[0-9a-f]{64}$`),
			}),
			1: api.CategoryVotes{Category: "nature"},
		}))
	})
}

func TestService_Decrypt(t *testing.T) {
	ctx := testContext(t)
	env := newTestEnv(t)
	contestant := env.service(testContestant)
	judge := env.service(testJudge)

	out, err := contestant.Submit(ctx, sunsetDreams())
	require.NoError(t, err)
	id := out.EntryID

	t.Run("no votes yet never reaches the service", func(t *testing.T) {
		_, err := contestant.DecryptCategoryVotes(ctx, id, "painting")
		assert.ErrorIs(t, err, ErrNoVotes)
		_, err = contestant.DecryptScore(ctx, id)
		assert.ErrorIs(t, err, ErrNoScore)
		assert.Empty(t, env.runtime.Calls())
	})

	for range 2 {
		_, err = judge.Vote(ctx, id, "painting")
		require.NoError(t, err)
	}
	_, err = judge.Score(ctx, id)
	require.NoError(t, err)

	t.Run("contestant decrypts", func(t *testing.T) {
		votes, err := contestant.DecryptCategoryVotes(ctx, id, "painting")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), votes)

		score, err := contestant.DecryptScore(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), score)
	})

	t.Run("others may not", func(t *testing.T) {
		_, err := judge.DecryptCategoryVotes(ctx, id, "painting")
		assert.ErrorIs(t, err, ErrNotContestant)
		_, err = env.service(common.Address{}).DecryptScore(ctx, id)
		assert.ErrorIs(t, err, wallet.ErrNoAccount)
	})

	t.Run("unregistered category", func(t *testing.T) {
		_, err := contestant.DecryptCategoryVotes(ctx, id, "sculpture")
		assert.ErrorIs(t, err, chain.ErrInvalidCategory)
	})
}

func TestService_View(t *testing.T) {
	env := newTestEnv(t)
	svc := env.service(testContestant)
	entry := &chain.Entry{
		ID:         3,
		Contestant: testContestant,
		Title:      "Sunset Dreams",
		FileHash:   "https://example.com/sunset.png",
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	td.Cmp(t, svc.View(entry), api.Entry{
		ID:         3,
		Contestant: testContestant.Hex(),
		Title:      "Sunset Dreams",
		FileHash:   "https://example.com/sunset.png",
		ImageURL:   "https://example.com/sunset.png",
		Tags:       []string{},
		Categories: []string{},
		Timestamp:  api.Time{Time: entry.Timestamp},
	})
}
