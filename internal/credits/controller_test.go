package credits

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"ottobot/internal/payments"
	"ottobot/internal/platform"
)

type fakeAPI struct {
	userCredit  func(ctx context.Context, auth platform.Auth) (platform.CreditBalance, error)
	autoTopUp   func(ctx context.Context, auth platform.Auth) (platform.AutoTopUpConfig, error)
	setAutoTop  func(ctx context.Context, auth platform.Auth, cfg platform.AutoTopUpConfig) error
	requestTop  func(ctx context.Context, auth platform.Auth, creditAmount int) (platform.CheckoutSession, error)
	history     func(ctx context.Context, auth platform.Auth, before *time.Time, limit int) (platform.TransactionHistory, error)
	storeAgent  func(ctx context.Context, creator, slug string) (platform.StoreAgentDetails, error)
	addLibrary  func(ctx context.Context, auth platform.Auth, id string) (platform.LibraryAgent, error)
	askEndpoint func(ctx context.Context, auth platform.Auth, req platform.AskRequest) (platform.AskResponse, error)
}

var _ platform.API = (*fakeAPI)(nil)

func (f *fakeAPI) UserCredit(ctx context.Context, auth platform.Auth) (platform.CreditBalance, error) {
	return f.userCredit(ctx, auth)
}

func (f *fakeAPI) AutoTopUp(ctx context.Context, auth platform.Auth) (platform.AutoTopUpConfig, error) {
	return f.autoTopUp(ctx, auth)
}

func (f *fakeAPI) SetAutoTopUp(ctx context.Context, auth platform.Auth, cfg platform.AutoTopUpConfig) error {
	return f.setAutoTop(ctx, auth, cfg)
}

func (f *fakeAPI) RequestTopUp(ctx context.Context, auth platform.Auth, creditAmount int) (platform.CheckoutSession, error) {
	return f.requestTop(ctx, auth, creditAmount)
}

func (f *fakeAPI) TransactionHistory(ctx context.Context, auth platform.Auth, before *time.Time, limit int) (platform.TransactionHistory, error) {
	return f.history(ctx, auth, before, limit)
}

func (f *fakeAPI) StoreAgent(ctx context.Context, creator, slug string) (platform.StoreAgentDetails, error) {
	return f.storeAgent(ctx, creator, slug)
}

func (f *fakeAPI) AddToLibrary(ctx context.Context, auth platform.Auth, id string) (platform.LibraryAgent, error) {
	return f.addLibrary(ctx, auth, id)
}

func (f *fakeAPI) Ask(ctx context.Context, auth platform.Auth, req platform.AskRequest) (platform.AskResponse, error) {
	return f.askEndpoint(ctx, auth, req)
}

type fakeGateway struct {
	err error
}

func (g *fakeGateway) Ready(ctx context.Context) error { return g.err }

func makePage(start, n int, next *time.Time) platform.TransactionHistory {
	page := platform.TransactionHistory{NextTransactionTime: next}
	for i := 0; i < n; i++ {
		page.Transactions = append(page.Transactions, platform.Transaction{
			TransactionKey: fmt.Sprintf("txn-%03d", start+i),
		})
	}
	return page
}

func TestHistoryAccumulatesAcrossPages(t *testing.T) {
	cursor1 := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	cursor2 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	calls := 0
	api := &fakeAPI{
		history: func(ctx context.Context, auth platform.Auth, before *time.Time, limit int) (platform.TransactionHistory, error) {
			calls++
			if limit != 20 {
				t.Errorf("expected page size 20, got %d", limit)
			}
			switch calls {
			case 1:
				if before != nil {
					t.Errorf("first page must have no cursor, got %v", before)
				}
				return makePage(0, 20, &cursor1), nil
			case 2:
				if before == nil || !before.Equal(cursor1) {
					t.Errorf("second page must use first page's cursor, got %v", before)
				}
				return makePage(20, 20, &cursor2), nil
			default:
				if before == nil || !before.Equal(cursor2) {
					t.Errorf("third page must use second page's cursor, got %v", before)
				}
				return makePage(40, 5, nil), nil
			}
		},
	}

	c := NewController(api, &fakeGateway{})
	var st State
	auth := platform.Auth{AccessToken: "t"}

	for i := 0; i < 3; i++ {
		if err := c.LoadMoreHistory(context.Background(), auth, &st); err != nil {
			t.Fatalf("page %d: %v", i+1, err)
		}
	}

	if len(st.Transactions) != 45 {
		t.Fatalf("expected 45 accumulated transactions, got %d", len(st.Transactions))
	}
	if st.Transactions[0].TransactionKey != "txn-000" || st.Transactions[44].TransactionKey != "txn-044" {
		t.Fatalf("transactions out of arrival order: first %q last %q",
			st.Transactions[0].TransactionKey, st.Transactions[44].TransactionKey)
	}
	if !st.HistoryComplete() {
		t.Fatalf("null cursor must mark history complete")
	}

	if err := c.LoadMoreHistory(context.Background(), auth, &st); !errors.Is(err, ErrHistoryComplete) {
		t.Fatalf("expected ErrHistoryComplete, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("terminal state must not trigger another fetch, got %d calls", calls)
	}
}

func TestHistoryFailureKeepsAccumulatedPages(t *testing.T) {
	cursor := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	api := &fakeAPI{
		history: func(ctx context.Context, auth platform.Auth, before *time.Time, limit int) (platform.TransactionHistory, error) {
			calls++
			switch calls {
			case 1:
				return makePage(0, 20, &cursor), nil
			case 2:
				return platform.TransactionHistory{}, errors.New("backend down")
			default:
				if before == nil || !before.Equal(cursor) {
					t.Errorf("retry must reuse the stored cursor, got %v", before)
				}
				return makePage(20, 20, nil), nil
			}
		},
	}

	c := NewController(api, &fakeGateway{})
	var st State
	auth := platform.Auth{AccessToken: "t"}

	if err := c.LoadMoreHistory(context.Background(), auth, &st); err != nil {
		t.Fatalf("first page: %v", err)
	}
	if err := c.LoadMoreHistory(context.Background(), auth, &st); err == nil {
		t.Fatalf("expected failure on second page")
	}
	if st.History.Status != StatusFailed || st.History.Error == "" {
		t.Fatalf("expected failed history resource, got %+v", st.History)
	}
	if len(st.Transactions) != 20 {
		t.Fatalf("failure must not drop accumulated transactions, got %d", len(st.Transactions))
	}

	if err := c.LoadMoreHistory(context.Background(), auth, &st); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(st.Transactions) != 40 {
		t.Fatalf("expected 40 after retry, got %d", len(st.Transactions))
	}
}

func TestConfigureAutoTopUpReflectsReadBack(t *testing.T) {
	var wrote platform.AutoTopUpConfig
	api := &fakeAPI{
		setAutoTop: func(ctx context.Context, auth platform.Auth, cfg platform.AutoTopUpConfig) error {
			wrote = cfg
			return nil
		},
		autoTopUp: func(ctx context.Context, auth platform.Auth) (platform.AutoTopUpConfig, error) {
			// Deliberately different from the write: the backend clamped it.
			return platform.AutoTopUpConfig{Amount: 500, Threshold: 50}, nil
		},
	}

	c := NewController(api, &fakeGateway{})
	var st State
	if err := c.ConfigureAutoTopUp(context.Background(), platform.Auth{AccessToken: "t"}, &st, 100, 10); err != nil {
		t.Fatalf("configure: %v", err)
	}

	if wrote.Amount != 100 || wrote.Threshold != 10 {
		t.Fatalf("unexpected write payload %+v", wrote)
	}
	if st.Policy.Amount != 500 || st.Policy.Threshold != 50 {
		t.Fatalf("state must mirror the read-back, got %+v", st.Policy)
	}
	if st.AutoTopUp.Status != StatusLoaded {
		t.Fatalf("expected loaded policy, got %+v", st.AutoTopUp)
	}
}

func TestConfigureAutoTopUpWriteFailureSkipsRead(t *testing.T) {
	readCalls := 0
	api := &fakeAPI{
		setAutoTop: func(ctx context.Context, auth platform.Auth, cfg platform.AutoTopUpConfig) error {
			return errors.New("write rejected")
		},
		autoTopUp: func(ctx context.Context, auth platform.Auth) (platform.AutoTopUpConfig, error) {
			readCalls++
			return platform.AutoTopUpConfig{}, nil
		},
	}

	c := NewController(api, &fakeGateway{})
	var st State
	if err := c.ConfigureAutoTopUp(context.Background(), platform.Auth{AccessToken: "t"}, &st, 100, 10); err == nil {
		t.Fatalf("expected write error")
	}
	if readCalls != 0 {
		t.Fatalf("failed write must not trigger the read-back")
	}
	if st.AutoTopUp.Status != StatusFailed {
		t.Fatalf("expected failed policy resource, got %+v", st.AutoTopUp)
	}
}

func TestBeginTopUpRequiresReadyGateway(t *testing.T) {
	requested := false
	api := &fakeAPI{
		requestTop: func(ctx context.Context, auth platform.Auth, creditAmount int) (platform.CheckoutSession, error) {
			requested = true
			return platform.CheckoutSession{}, nil
		},
	}

	c := NewController(api, &fakeGateway{err: payments.ErrNotConfigured})
	_, err := c.BeginTopUp(context.Background(), platform.Auth{AccessToken: "t"}, 500)
	if !errors.Is(err, payments.ErrNotConfigured) {
		t.Fatalf("expected gateway error to surface, got %v", err)
	}
	if requested {
		t.Fatalf("checkout must not be created when the gateway is unavailable")
	}
}

func TestBeginTopUpReturnsCheckoutURL(t *testing.T) {
	api := &fakeAPI{
		requestTop: func(ctx context.Context, auth platform.Auth, creditAmount int) (platform.CheckoutSession, error) {
			if creditAmount != 500 {
				t.Errorf("unexpected credit amount %d", creditAmount)
			}
			return platform.CheckoutSession{CheckoutURL: "https://pay.example.com/cs_123"}, nil
		},
	}

	c := NewController(api, &fakeGateway{})
	url, err := c.BeginTopUp(context.Background(), platform.Auth{AccessToken: "t"}, 500)
	if err != nil {
		t.Fatalf("begin topup: %v", err)
	}
	if url != "https://pay.example.com/cs_123" {
		t.Fatalf("unexpected checkout url %q", url)
	}
}

func TestRefreshBalanceLifecycle(t *testing.T) {
	var midFetch ResourceStatus
	var st State
	api := &fakeAPI{
		userCredit: func(ctx context.Context, auth platform.Auth) (platform.CreditBalance, error) {
			midFetch = st.Balance.Status
			return platform.CreditBalance{Credits: 1280}, nil
		},
	}

	c := NewController(api, &fakeGateway{})
	if err := c.RefreshBalance(context.Background(), platform.Auth{AccessToken: "t"}, &st); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if midFetch != StatusLoading {
		t.Fatalf("balance must be loading during the fetch, was %q", midFetch)
	}
	if st.Balance.Status != StatusLoaded || st.Credits != 1280 {
		t.Fatalf("unexpected state %+v credits=%d", st.Balance, st.Credits)
	}

	api.userCredit = func(ctx context.Context, auth platform.Auth) (platform.CreditBalance, error) {
		return platform.CreditBalance{}, errors.New("boom")
	}
	if err := c.RefreshBalance(context.Background(), platform.Auth{AccessToken: "t"}, &st); err == nil {
		t.Fatalf("expected refresh failure")
	}
	if st.Balance.Status != StatusFailed || st.Balance.Error == "" {
		t.Fatalf("expected failed balance resource, got %+v", st.Balance)
	}
	if st.Credits != 1280 {
		t.Fatalf("failed refresh must keep the last loaded value, got %d", st.Credits)
	}
}
