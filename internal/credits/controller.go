package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ottobot/internal/payments"
	"ottobot/internal/platform"
)

var ErrHistoryComplete = errors.New("credits: transaction history fully loaded")

const historyPageSize = 20

type ResourceStatus string

const (
	StatusUnloaded ResourceStatus = ""
	StatusLoading  ResourceStatus = "loading"
	StatusLoaded   ResourceStatus = "loaded"
	StatusFailed   ResourceStatus = "failed"
)

type Resource struct {
	Status ResourceStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
}

func (r *Resource) loading() {
	r.Status = StatusLoading
	r.Error = ""
}

func (r *Resource) loaded() {
	r.Status = StatusLoaded
	r.Error = ""
}

func (r *Resource) failed(err error) {
	r.Status = StatusFailed
	r.Error = err.Error()
}

type State struct {
	Balance Resource `json:"balance"`
	Credits int      `json:"credits"`

	AutoTopUp Resource                 `json:"auto_top_up"`
	Policy    platform.AutoTopUpConfig `json:"policy"`

	History             Resource               `json:"history"`
	Transactions        []platform.Transaction `json:"transactions"`
	NextTransactionTime *time.Time             `json:"next_transaction_time,omitempty"`
}

// The cursor alone cannot tell completion: it is also nil before the first page.
func (s *State) HistoryComplete() bool {
	return s.History.Status == StatusLoaded && s.NextTransactionTime == nil
}

type Controller struct {
	api     platform.API
	gateway payments.Gateway
}

func NewController(api platform.API, gateway payments.Gateway) *Controller {
	return &Controller{api: api, gateway: gateway}
}

func (c *Controller) RefreshBalance(ctx context.Context, auth platform.Auth, st *State) error {
	st.Balance.loading()
	bal, err := c.api.UserCredit(ctx, auth)
	if err != nil {
		st.Balance.failed(err)
		return err
	}
	st.Credits = bal.Credits
	st.Balance.loaded()
	return nil
}

func (c *Controller) LoadAutoTopUp(ctx context.Context, auth platform.Auth, st *State) error {
	st.AutoTopUp.loading()
	cfg, err := c.api.AutoTopUp(ctx, auth)
	if err != nil {
		st.AutoTopUp.failed(err)
		return err
	}
	st.Policy = cfg
	st.AutoTopUp.loaded()
	return nil
}

// The stored policy is whatever the re-read returns, never the write's input.
func (c *Controller) ConfigureAutoTopUp(ctx context.Context, auth platform.Auth, st *State, amount, threshold int) error {
	st.AutoTopUp.loading()
	err := c.api.SetAutoTopUp(ctx, auth, platform.AutoTopUpConfig{Amount: amount, Threshold: threshold})
	if err != nil {
		st.AutoTopUp.failed(err)
		return err
	}
	return c.LoadAutoTopUp(ctx, auth, st)
}

func (c *Controller) BeginTopUp(ctx context.Context, auth platform.Auth, creditAmount int) (string, error) {
	if err := c.gateway.Ready(ctx); err != nil {
		return "", fmt.Errorf("payment gateway: %w", err)
	}
	session, err := c.api.RequestTopUp(ctx, auth, creditAmount)
	if err != nil {
		return "", err
	}
	if session.CheckoutURL == "" {
		return "", errors.New("credits: backend returned no checkout url")
	}
	return session.CheckoutURL, nil
}

func (c *Controller) LoadMoreHistory(ctx context.Context, auth platform.Auth, st *State) error {
	if st.HistoryComplete() {
		return ErrHistoryComplete
	}
	cursor := st.NextTransactionTime
	st.History.loading()
	page, err := c.api.TransactionHistory(ctx, auth, cursor, historyPageSize)
	if err != nil {
		st.History.failed(err)
		return err
	}
	st.Transactions = append(st.Transactions, page.Transactions...)
	st.NextTransactionTime = page.NextTransactionTime
	st.History.loaded()
	return nil
}
