package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/truthledger/internal/domain"
)

func seed(t *testing.T, s *Store, id string, created time.Time) {
	t.Helper()
	m := domain.Market{ExternalID: id, Asset: "USDC", VaultID: "v-" + id, CreatedAt: created}
	v := domain.Vault{ID: "v-" + id, MarketID: id, Asset: "USDC"}
	if err := s.CreateMarket(context.Background(), m, v); err != nil {
		t.Fatalf("CreateMarket(%s): %v", id, err)
	}
}

func TestStore_CreateMarket_Duplicate(t *testing.T) {
	s := NewStore()
	seed(t, s, "m1", time.Now())
	err := s.CreateMarket(context.Background(), domain.Market{ExternalID: "m1"}, domain.Vault{})
	if !errors.Is(err, domain.ErrDuplicateMarket) {
		t.Errorf("err = %v, want ErrDuplicateMarket", err)
	}
}

func TestStore_InMarket_RollbackDiscardsWrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seed(t, s, "m1", time.Now())
	if _, err := s.Fund(ctx, "alice", "USDC", 10); err != nil {
		t.Fatalf("Fund: %v", err)
	}

	boom := errors.New("boom")
	err := s.InMarket(ctx, "m1", func(tx domain.MarketTx) error {
		if err := tx.Debit(ctx, "alice", "USDC", 7); err != nil {
			return err
		}
		m := tx.Market()
		m.TotalYes = 7
		if _, err := tx.PutMarket(ctx, m); err != nil {
			return err
		}
		if _, err := tx.PutStake(ctx, domain.StakeRecord{Participant: "alice", AmountYes: 7}); err != nil {
			return err
		}
		if err := tx.Credit(ctx, "bob", "USDC", 3); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	m, _ := s.GetMarket(ctx, "m1")
	if m.TotalYes != 0 || m.Version != 1 {
		t.Errorf("market = %+v, want untouched", m)
	}
	if _, err := s.GetStake(ctx, "m1", "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetStake err = %v, want ErrNotFound", err)
	}
	acct, _ := s.GetAccount(ctx, "alice", "USDC")
	if acct.Balance != 10 {
		t.Errorf("alice balance = %d, want 10", acct.Balance)
	}
	if _, err := s.GetAccount(ctx, "bob", "USDC"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("bob account err = %v, want ErrNotFound", err)
	}
}

func TestStore_InMarket_StaleVersion(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seed(t, s, "m1", time.Now())

	err := s.InMarket(ctx, "m1", func(tx domain.MarketTx) error {
		m := tx.Market()
		if _, err := tx.PutMarket(ctx, m); err != nil {
			return err
		}
		_, err := tx.PutMarket(ctx, m)
		return err
	})
	if !errors.Is(err, ErrStaleVersion) {
		t.Errorf("err = %v, want ErrStaleVersion", err)
	}
}

func TestStore_InMarket_UnknownMarket(t *testing.T) {
	s := NewStore()
	err := s.InMarket(context.Background(), "nope", func(domain.MarketTx) error { return nil })
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_Debit(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seed(t, s, "m1", time.Now())
	if _, err := s.Fund(ctx, "Alice", "USDC", 5); err != nil {
		t.Fatalf("Fund: %v", err)
	}

	tests := []struct {
		name   string
		owner  string
		asset  string
		amount uint64
		want   error
	}{
		{"ok case-insensitive owner", "ALICE", "USDC", 5, nil},
		{"insufficient", "alice", "USDC", 6, domain.ErrTransferFailed},
		{"asset mismatch", "alice", "DAI", 1, domain.ErrTransferFailed},
		{"unknown owner", "bob", "USDC", 1, domain.ErrTransferFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.InMarket(ctx, "m1", func(tx domain.MarketTx) error {
				if err := tx.Debit(ctx, tt.owner, tt.asset, tt.amount); err != nil {
					return err
				}
				return errors.New("rollback")
			})
			if tt.want == nil {
				if err == nil || err.Error() != "rollback" {
					t.Errorf("err = %v, want rollback", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStore_ListMarkets(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seed(t, s, "a", base)
	seed(t, s, "b", base.Add(time.Hour))
	seed(t, s, "c", base.Add(2*time.Hour))

	got, err := s.ListMarkets(ctx, domain.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if len(got) != 2 || got[0].ExternalID != "c" || got[1].ExternalID != "b" {
		t.Errorf("ListMarkets = %v, want [c b]", ids(got))
	}

	since := base.Add(30 * time.Minute)
	got, _ = s.ListMarkets(ctx, domain.ListOpts{Since: &since, Offset: 1})
	if len(got) != 1 || got[0].ExternalID != "b" {
		t.Errorf("ListMarkets(since, offset 1) = %v, want [b]", ids(got))
	}
}

func ids(ms []domain.Market) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ExternalID
	}
	return out
}

func TestAuditLog(t *testing.T) {
	a := NewAuditLog()
	ctx := context.Background()
	_ = a.Log(ctx, "first", nil)
	_ = a.Log(ctx, "second", map[string]any{"k": "v"})

	got, err := a.List(ctx, domain.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Event != "second" {
		t.Errorf("List = %+v, want newest entry", got)
	}
}
