package telegram

import (
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"

	"ottobot/internal/credits"
	"ottobot/internal/platform"
)

const (
	cbPrefix = "ob:"

	cbMenu         = cbPrefix + "menu"
	cbHelp         = cbPrefix + "help"
	cbCredits      = cbPrefix + "credits"
	cbHistory      = cbPrefix + "history"
	cbHistoryMore  = cbPrefix + "hist_more"
	cbTopUp        = cbPrefix + "topup"
	cbTopUpAmount  = cbPrefix + "topup:"
	cbAutoTopUp    = cbPrefix + "autotopup"
	cbAutoSet      = cbPrefix + "auto:"
	cbWizardStart  = cbPrefix + "wz_start"
	cbWizardPick   = cbPrefix + "wz_pick:"
	cbWizardRetry  = cbPrefix + "wz_retry:"
	cbWizardNext   = cbPrefix + "wz_next"
	cbWizardCancel = cbPrefix + "wz_cancel"
)

// Balance below this renders a running-low hint on the credits screen.
const lowBalanceFloor = 100

const maxHistoryLines = 40

func welcomeText() string {
	return strings.Join([]string{
		"I am the AutoGPT platform assistant.",
		"",
		"I answer questions about the platform, keep an eye on your",
		"credit balance, and help you pick your first agent.",
		"",
		"Link your platform account to get started:",
		"/login <token>",
		"",
		"You can create an API token in your platform account settings.",
	}, "\n")
}

func helpText() string {
	return strings.Join([]string{
		"Commands:",
		"/login <token> - link your platform account",
		"/logout - unlink and forget stored state",
		"/credits - balance and auto top-up summary",
		"/topup - buy credits",
		"/autotopup - configure automatic top-up",
		"/history - transaction history",
		"/onboarding - pick your first agent",
		"/context - include your agent's graph in the next question",
		"/help - this help",
		"",
		"Anything else you send me is a question for the assistant.",
	}, "\n")
}

func menuKeyboard() *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{
			{Text: "Credits", CallbackData: cbCredits},
			{Text: "History", CallbackData: cbHistory},
		},
		{
			{Text: "Pick an agent", CallbackData: cbWizardStart},
			{Text: "Help", CallbackData: cbHelp},
		},
	}}
}

func backToMenuKeyboard() *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{{Text: "Back to menu", CallbackData: cbMenu}},
	}}
}

func balanceText(st credits.State) string {
	lines := []string{"Your credits", ""}

	switch st.Balance.Status {
	case credits.StatusLoaded:
		lines = append(lines, fmt.Sprintf("Balance: %d credits", st.Credits))
		if st.Credits == 0 {
			lines = append(lines, "You are out of credits. Top up to keep your agents running.")
		} else if st.Credits < lowBalanceFloor {
			lines = append(lines, "Your balance is running low.")
		}
	case credits.StatusFailed:
		lines = append(lines, "Could not load your balance: "+clip(st.Balance.Error, 120))
	case credits.StatusLoading:
		lines = append(lines, "Loading balance...")
	default:
		lines = append(lines, "Balance not loaded yet.")
	}

	switch st.AutoTopUp.Status {
	case credits.StatusLoaded:
		lines = append(lines, "", "Auto top-up: "+policyLine(st.Policy))
	case credits.StatusFailed:
		lines = append(lines, "", "Auto top-up status unavailable.")
	}

	return strings.Join(lines, "\n")
}

func policyLine(p platform.AutoTopUpConfig) string {
	if p.Amount <= 0 || p.Threshold <= 0 {
		return "off"
	}
	return fmt.Sprintf("%d credits when the balance drops below %d", p.Amount, p.Threshold)
}

func balanceKeyboard(st credits.State) *gotgbot.InlineKeyboardMarkup {
	refresh := "Refresh"
	if st.Balance.Status == credits.StatusFailed {
		refresh = "Retry"
	}
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{
			{Text: refresh, CallbackData: cbCredits},
			{Text: "History", CallbackData: cbHistory},
		},
		{
			{Text: "Top up", CallbackData: cbTopUp},
			{Text: "Auto top-up", CallbackData: cbAutoTopUp},
		},
		{{Text: "Back to menu", CallbackData: cbMenu}},
	}}
}

func historyText(st credits.State) string {
	lines := []string{"Transaction history", ""}

	if len(st.Transactions) == 0 {
		switch st.History.Status {
		case credits.StatusFailed:
			lines = append(lines, "Could not load transactions: "+clip(st.History.Error, 120))
		case credits.StatusLoaded:
			lines = append(lines, "No transactions yet.")
		default:
			lines = append(lines, "Loading...")
		}
		return strings.Join(lines, "\n")
	}

	shown := st.Transactions
	hidden := 0
	if len(shown) > maxHistoryLines {
		hidden = len(shown) - maxHistoryLines
		shown = shown[:maxHistoryLines]
	}
	for _, tx := range shown {
		lines = append(lines, formatTransaction(tx))
	}
	if hidden > 0 {
		lines = append(lines, fmt.Sprintf("(%d older entries loaded but not shown)", hidden))
	}
	if st.History.Status == credits.StatusFailed {
		lines = append(lines, "", "Loading more failed: "+clip(st.History.Error, 120))
	}
	if st.HistoryComplete() {
		lines = append(lines, "", "End of history.")
	}
	return strings.Join(lines, "\n")
}

func formatTransaction(tx platform.Transaction) string {
	line := fmt.Sprintf("%s  %+d %s (balance %d)",
		tx.TransactionTime.Format("Jan 02 15:04"), tx.Amount, tx.TransactionType, tx.RunningBalance)
	if tx.Description != "" {
		line += ": " + clip(tx.Description, 40)
	}
	return line
}

func historyKeyboard(st credits.State) *gotgbot.InlineKeyboardMarkup {
	var rows [][]gotgbot.InlineKeyboardButton
	if !st.HistoryComplete() {
		label := "Load older"
		if st.History.Status == credits.StatusFailed {
			label = "Retry"
		}
		rows = append(rows, []gotgbot.InlineKeyboardButton{{Text: label, CallbackData: cbHistoryMore}})
	}
	rows = append(rows, []gotgbot.InlineKeyboardButton{{Text: "Back to credits", CallbackData: cbCredits}})
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func topUpPickerText() string {
	return strings.Join([]string{
		"Buy credits",
		"",
		"Choose an amount. Payment happens on a secure checkout page;",
		"credits land on your account once the payment completes.",
	}, "\n")
}

func topUpPickerKeyboard() *gotgbot.InlineKeyboardMarkup {
	amount := func(n int) gotgbot.InlineKeyboardButton {
		return gotgbot.InlineKeyboardButton{
			Text:         fmt.Sprintf("%d credits", n),
			CallbackData: fmt.Sprintf("%s%d", cbTopUpAmount, n),
		}
	}
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{amount(500), amount(1000)},
		{amount(2500), amount(5000)},
		{{Text: "Back to credits", CallbackData: cbCredits}},
	}}
}

func checkoutText(creditAmount int) string {
	return strings.Join([]string{
		fmt.Sprintf("Checkout for %d credits is ready.", creditAmount),
		"",
		"Finish the payment in your browser. When you are done, come",
		"back here and refresh your balance.",
	}, "\n")
}

func checkoutKeyboard(checkoutURL string) *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{{Text: "Open checkout", Url: checkoutURL}},
		{{Text: "Refresh balance", CallbackData: cbCredits}},
		{{Text: "Back", CallbackData: cbTopUp}},
	}}
}

func autoTopUpText(st credits.State) string {
	lines := []string{
		"Auto top-up",
		"",
		"Automatically buys credits whenever your balance drops below",
		"a threshold, so long-running agents never stall.",
		"",
	}
	switch st.AutoTopUp.Status {
	case credits.StatusLoaded:
		lines = append(lines, "Current setting: "+policyLine(st.Policy))
	case credits.StatusFailed:
		lines = append(lines, "Could not load the current setting: "+clip(st.AutoTopUp.Error, 120))
	case credits.StatusLoading:
		lines = append(lines, "Loading current setting...")
	default:
		lines = append(lines, "Current setting not loaded yet.")
	}
	return strings.Join(lines, "\n")
}

func autoTopUpKeyboard(st credits.State) *gotgbot.InlineKeyboardMarkup {
	preset := func(amount, threshold int) gotgbot.InlineKeyboardButton {
		return gotgbot.InlineKeyboardButton{
			Text:         fmt.Sprintf("%d below %d", amount, threshold),
			CallbackData: fmt.Sprintf("%s%d:%d", cbAutoSet, amount, threshold),
		}
	}
	rows := [][]gotgbot.InlineKeyboardButton{
		{preset(500, 100), preset(1000, 200)},
		{preset(2500, 500), {Text: "Turn off", CallbackData: cbAutoSet + "0:0"}},
	}
	if st.AutoTopUp.Status == credits.StatusFailed {
		rows = append(rows, []gotgbot.InlineKeyboardButton{{Text: "Retry", CallbackData: cbAutoTopUp}})
	}
	rows = append(rows, []gotgbot.InlineKeyboardButton{{Text: "Back to credits", CallbackData: cbCredits}})
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
