package telegram

import (
	"strings"
	"testing"
	"time"

	"ottobot/internal/credits"
	"ottobot/internal/platform"
)

func TestFormatTransaction(t *testing.T) {
	when := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	got := formatTransaction(platform.Transaction{
		TransactionTime: when,
		TransactionType: "USAGE",
		Amount:          -120,
		RunningBalance:  880,
		Description:     "Research Assistant run",
	})
	want := "Mar 14 09:30  -120 USAGE (balance 880): Research Assistant run"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	got = formatTransaction(platform.Transaction{
		TransactionTime: when,
		TransactionType: "TOP_UP",
		Amount:          500,
		RunningBalance:  1380,
	})
	want = "Mar 14 09:30  +500 TOP_UP (balance 1380)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestHistoryText(t *testing.T) {
	var st credits.State
	st.History.Status = credits.StatusLoaded
	if got := historyText(st); !strings.Contains(got, "No transactions yet.") {
		t.Fatalf("empty complete ledger: %q", got)
	}

	st.Transactions = []platform.Transaction{{
		TransactionTime: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		TransactionType: "TOP_UP",
		Amount:          500,
		RunningBalance:  500,
	}}
	got := historyText(st)
	if !strings.Contains(got, "+500 TOP_UP") {
		t.Fatalf("transaction line missing: %q", got)
	}
	if !strings.Contains(got, "End of history.") {
		t.Fatalf("exhausted cursor must be announced: %q", got)
	}

	// An open cursor means more pages exist; no terminal line yet.
	cursor := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	st.NextTransactionTime = &cursor
	if got := historyText(st); strings.Contains(got, "End of history.") {
		t.Fatalf("open cursor must not announce the end: %q", got)
	}

	st.History.Status = credits.StatusFailed
	st.History.Error = "platform returned 503"
	got = historyText(st)
	if !strings.Contains(got, "Loading more failed: platform returned 503") {
		t.Fatalf("page failure must keep loaded entries visible: %q", got)
	}
	if !strings.Contains(got, "+500 TOP_UP") {
		t.Fatalf("loaded entries lost on page failure: %q", got)
	}
}

func TestHistoryKeyboardFollowsCursor(t *testing.T) {
	var st credits.State
	st.History.Status = credits.StatusLoaded

	kb := historyKeyboard(st)
	if len(kb.InlineKeyboard) != 1 {
		t.Fatalf("complete ledger must drop the load button: %+v", kb.InlineKeyboard)
	}

	cursor := time.Now()
	st.NextTransactionTime = &cursor
	kb = historyKeyboard(st)
	if kb.InlineKeyboard[0][0].Text != "Load older" || kb.InlineKeyboard[0][0].CallbackData != cbHistoryMore {
		t.Fatalf("expected load-older button, got %+v", kb.InlineKeyboard[0][0])
	}

	st.History.Status = credits.StatusFailed
	kb = historyKeyboard(st)
	if kb.InlineKeyboard[0][0].Text != "Retry" {
		t.Fatalf("failed page must offer a retry, got %+v", kb.InlineKeyboard[0][0])
	}
}

func TestBalanceText(t *testing.T) {
	var st credits.State
	if got := balanceText(st); !strings.Contains(got, "Balance not loaded yet.") {
		t.Fatalf("unloaded state: %q", got)
	}

	st.Balance.Status = credits.StatusLoaded
	st.Credits = 50
	got := balanceText(st)
	if !strings.Contains(got, "Balance: 50 credits") || !strings.Contains(got, "running low") {
		t.Fatalf("low balance hint missing: %q", got)
	}

	st.Credits = 0
	if got := balanceText(st); !strings.Contains(got, "out of credits") {
		t.Fatalf("empty balance hint missing: %q", got)
	}

	st.Balance.Status = credits.StatusFailed
	st.Balance.Error = "dial tcp: timeout"
	if got := balanceText(st); !strings.Contains(got, "Could not load your balance: dial tcp: timeout") {
		t.Fatalf("failure line missing: %q", got)
	}

	st.Balance.Status = credits.StatusLoaded
	st.Credits = 900
	st.AutoTopUp.Status = credits.StatusLoaded
	st.Policy = platform.AutoTopUpConfig{Amount: 500, Threshold: 100}
	got = balanceText(st)
	if !strings.Contains(got, "Auto top-up: 500 credits when the balance drops below 100") {
		t.Fatalf("policy line missing: %q", got)
	}
}

func TestPolicyLineOff(t *testing.T) {
	if got := policyLine(platform.AutoTopUpConfig{}); got != "off" {
		t.Fatalf("zero policy must read off, got %q", got)
	}
	if got := policyLine(platform.AutoTopUpConfig{Amount: 500}); got != "off" {
		t.Fatalf("policy without threshold must read off, got %q", got)
	}
}

func TestClip(t *testing.T) {
	if got := clip("  short  ", 20); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := clip("abcdefghij", 4); got != "abcd..." {
		t.Fatalf("got %q", got)
	}
	// Cutting mid-rune would leave mojibake in the rendered screen.
	if got := clip("Überweisungsassistent", 3); got != "Übe..." {
		t.Fatalf("got %q", got)
	}
	if got := clip("日本語のテキスト", 4); got != "日本語の..." {
		t.Fatalf("got %q", got)
	}
}
