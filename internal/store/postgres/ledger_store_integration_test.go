package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/truthledger/internal/crypto"
	"github.com/alanyoungcy/truthledger/internal/domain"
	"github.com/alanyoungcy/truthledger/internal/ledger"
	"github.com/alanyoungcy/truthledger/internal/store/postgres"
)

// dsnEnv names the database the integration tests run against. Each run
// uses fresh market and participant ids, so a shared database is fine.
const dsnEnv = "TRUTHLEDGER_TEST_DATABASE_URL"

const (
	pgAuthorityKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	pgAsset        = "USDC"
)

type pgHarness struct {
	engine   *ledger.Engine
	accounts *postgres.AccountStore
	signer   *crypto.AuthoritySigner
	run      string
}

func newPGHarness(t *testing.T) *pgHarness {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in -short mode")
	}
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := postgres.New(ctx, postgres.ClientConfig{DSN: dsn, MaxConns: 32})
	if err != nil {
		t.Fatalf("postgres.New: %v", err)
	}
	t.Cleanup(client.Close)
	if _, err := client.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	signer, err := crypto.NewAuthoritySigner(pgAuthorityKey)
	if err != nil {
		t.Fatalf("NewAuthoritySigner: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := postgres.NewLedgerStore(client.Pool())
	engine := ledger.NewEngine(ledger.Config{Authority: signer.Address(), Asset: pgAsset}, store, crypto.NewVerifier(), logger)
	return &pgHarness{
		engine:   engine,
		accounts: postgres.NewAccountStore(client.Pool()),
		signer:   signer,
		run:      uuid.NewString()[:8],
	}
}

func (h *pgHarness) id(name string) string { return name + "-" + h.run }

func (h *pgHarness) market(t *testing.T, name string) string {
	t.Helper()
	id := h.id(name)
	if _, err := h.engine.CreateMarket(context.Background(), h.signer.Address(), id, ""); err != nil {
		t.Fatalf("CreateMarket(%s): %v", id, err)
	}
	return id
}

func (h *pgHarness) fund(t *testing.T, owner string, amount uint64) {
	t.Helper()
	if _, err := h.accounts.Fund(context.Background(), owner, pgAsset, amount); err != nil {
		t.Fatalf("Fund(%s): %v", owner, err)
	}
}

func (h *pgHarness) balance(t *testing.T, owner string) uint64 {
	t.Helper()
	acct, err := h.accounts.GetAccount(context.Background(), owner, pgAsset)
	if errors.Is(err, domain.ErrNotFound) {
		return 0
	}
	if err != nil {
		t.Fatalf("GetAccount(%s): %v", owner, err)
	}
	return acct.Balance
}

func TestLedgerStore_ConcurrentStakes(t *testing.T) {
	h := newPGHarness(t)
	ctx := context.Background()
	m1, m2 := h.market(t, "m1"), h.market(t, "m2")

	const workers = 8
	const perWorker = 10
	for i := 0; i < workers; i++ {
		h.fund(t, h.id(fmt.Sprintf("p%d", i)), 2*perWorker)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := h.id(fmt.Sprintf("p%d", i))
			for j := 0; j < perWorker; j++ {
				market := m1
				if j%2 == 1 {
					market = m2
				}
				if _, err := h.engine.PlaceStake(ctx, market, who, 2, (i+j)%3 == 0); err != nil {
					t.Errorf("PlaceStake(%s): %v", who, err)
				}
			}
		}(i)
	}
	wg.Wait()

	var pool uint64
	for _, id := range []string{m1, m2} {
		r, err := h.engine.Reconcile(ctx, id)
		if err != nil {
			t.Fatalf("Reconcile(%s): %v", id, err)
		}
		if !r.OK {
			t.Errorf("%s discrepancies: %v", id, r.Discrepancies)
		}
		pool += r.TotalYes + r.TotalNo
	}
	if want := uint64(workers * perWorker * 2); pool != want {
		t.Errorf("pool = %d, want %d", pool, want)
	}
	for i := 0; i < workers; i++ {
		if got := h.balance(t, h.id(fmt.Sprintf("p%d", i))); got != 0 {
			t.Errorf("p%d balance = %d, want 0", i, got)
		}
	}
}

func TestLedgerStore_OverdraftLeavesNoTrace(t *testing.T) {
	h := newPGHarness(t)
	ctx := context.Background()
	m := h.market(t, "overdraft")
	who := h.id("alice")
	h.fund(t, who, 10)

	// Racing stakes for the whole balance: the debit guard lets one through.
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, failed := 0, 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.PlaceStake(ctx, m, who, 10, true)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrTransferFailed):
				failed++
			default:
				t.Errorf("PlaceStake: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || failed != 5 {
		t.Errorf("ok/failed = %d/%d, want 1/5", ok, failed)
	}
	if got := h.balance(t, who); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}

	r, err := h.engine.Reconcile(ctx, m)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !r.OK || r.TotalYes != 10 || r.VaultBalance != 10 {
		t.Errorf("reconcile = %+v, want ok with 10 escrowed", r)
	}
}

func TestLedgerStore_ConcurrentResolve(t *testing.T) {
	h := newPGHarness(t)
	ctx := context.Background()
	m := h.market(t, "resolve")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, losses := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(yes bool) {
			defer wg.Done()
			proof, err := h.signer.SignResolution(m, yes)
			if err != nil {
				t.Errorf("SignResolution: %v", err)
				return
			}
			_, err = h.engine.Resolve(ctx, m, proof, yes)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrMarketAlreadyResolved):
				losses++
			default:
				t.Errorf("Resolve: %v", err)
			}
		}(i%2 == 0)
	}
	wg.Wait()
	if wins != 1 || losses != 7 {
		t.Errorf("wins/losses = %d/%d, want 1/7", wins, losses)
	}
}

func TestLedgerStore_SignedStakeNonce(t *testing.T) {
	h := newPGHarness(t)
	ctx := context.Background()
	m := h.market(t, "signed")

	p, err := crypto.NewAuthoritySigner(strings.Repeat("11", 32))
	if err != nil {
		t.Fatalf("NewAuthoritySigner: %v", err)
	}
	// Mixed case exercises the lower-cased participant key.
	who := p.Address()
	h.fund(t, who, 100)

	stake := func(owner string, nonce uint64) error {
		in := domain.StakeIntent{Participant: owner, Amount: 30, Side: domain.SideNo, Nonce: nonce}
		sig, err := p.Sign(domain.StakeMessage(m, in))
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		_, err = h.engine.PlaceSignedStake(ctx, m, in, domain.AuthorityProof{Signer: owner, Signature: sig})
		return err
	}

	if err := stake(who, 1); err != nil {
		t.Fatalf("first stake: %v", err)
	}
	if err := stake(who, 1); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("replay err = %v, want ErrUnauthorized", err)
	}
	if err := stake(strings.ToLower(who), 2); err != nil {
		t.Fatalf("second stake: %v", err)
	}

	next, err := h.engine.NextStakeNonce(ctx, m, who)
	if err != nil {
		t.Fatalf("NextStakeNonce: %v", err)
	}
	if next != 3 {
		t.Errorf("next nonce = %d, want 3", next)
	}
	if got := h.balance(t, who); got != 40 {
		t.Errorf("balance = %d, want 40", got)
	}
}
