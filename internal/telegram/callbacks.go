package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"ottobot/internal/payments"
)

func (s *Service) onCallback(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx == nil || ctx.CallbackQuery == nil {
		return nil
	}
	data := strings.TrimSpace(ctx.CallbackQuery.Data)

	switch {
	case data == cbMenu:
		s.answerCallback(b, ctx, "", false)
		return s.editOrReplyCallback(ctx, b, welcomeText(), menuKeyboard())

	case data == cbHelp:
		s.answerCallback(b, ctx, "", false)
		return s.editOrReplyCallback(ctx, b, helpText(), backToMenuKeyboard())

	case data == cbCredits:
		return s.cbRefreshCredits(b, ctx)

	case data == cbHistory:
		return s.cbHistoryScreen(b, ctx, false)

	case data == cbHistoryMore:
		return s.cbHistoryScreen(b, ctx, true)

	case data == cbTopUp:
		s.answerCallback(b, ctx, "", false)
		return s.editOrReplyCallback(ctx, b, topUpPickerText(), topUpPickerKeyboard())

	case strings.HasPrefix(data, cbTopUpAmount):
		return s.cbBeginTopUp(b, ctx, strings.TrimPrefix(data, cbTopUpAmount))

	case data == cbAutoTopUp:
		return s.cbAutoTopUpScreen(b, ctx)

	case strings.HasPrefix(data, cbAutoSet):
		return s.cbConfigureAutoTopUp(b, ctx, strings.TrimPrefix(data, cbAutoSet))

	case data == cbWizardStart:
		s.answerCallback(b, ctx, "", false)
		return s.onboarding(b, ctx)

	case strings.HasPrefix(data, cbWizardPick):
		idx, ok := cardIndex(strings.TrimPrefix(data, cbWizardPick))
		if !ok {
			s.answerCallback(b, ctx, "That button is stale. Run /onboarding again.", true)
			return nil
		}
		return s.onWizardPick(b, ctx, idx)

	case strings.HasPrefix(data, cbWizardRetry):
		idx, ok := cardIndex(strings.TrimPrefix(data, cbWizardRetry))
		if !ok {
			s.answerCallback(b, ctx, "That button is stale. Run /onboarding again.", true)
			return nil
		}
		return s.onWizardRetry(b, ctx, idx)

	case data == cbWizardNext:
		return s.onWizardNext(b, ctx)

	case data == cbWizardCancel:
		return s.onWizardCancel(b, ctx)

	default:
		s.answerCallback(b, ctx, fmt.Sprintf("Unknown action: %s", data), true)
		return nil
	}
}

func (s *Service) cbRefreshCredits(b *gotgbot.Bot, ctx *ext.Context) error {
	_, auth, ok := s.requireSessionCallback(b, ctx)
	if !ok {
		return nil
	}
	st, unauthorized := s.loadBalanceScreen(userID(ctx), auth)
	if unauthorized {
		return s.clearAndNotifyCallback(b, ctx)
	}
	s.answerCallback(b, ctx, "", false)
	return s.editOrReplyCallback(ctx, b, balanceText(st), balanceKeyboard(st))
}

func (s *Service) cbHistoryScreen(b *gotgbot.Bot, ctx *ext.Context, more bool) error {
	_, auth, ok := s.requireSessionCallback(b, ctx)
	if !ok {
		return nil
	}
	st, unauthorized := s.loadHistory(userID(ctx), auth, more)
	if unauthorized {
		return s.clearAndNotifyCallback(b, ctx)
	}
	if more && st.HistoryComplete() {
		s.answerCallback(b, ctx, "End of history.", false)
	} else {
		s.answerCallback(b, ctx, "", false)
	}
	return s.editOrReplyCallback(ctx, b, historyText(st), historyKeyboard(st))
}

func (s *Service) cbBeginTopUp(b *gotgbot.Bot, ctx *ext.Context, payload string) error {
	amount, err := strconv.Atoi(payload)
	if err != nil || amount <= 0 {
		s.answerCallback(b, ctx, "That amount button is stale. Open /topup again.", true)
		return nil
	}
	_, auth, ok := s.requireSessionCallback(b, ctx)
	if !ok {
		return nil
	}

	url, err := s.credits.BeginTopUp(context.Background(), auth, amount)
	if err != nil {
		if s.clearOnUnauthorizedCallback(b, ctx, err) {
			return nil
		}
		if errors.Is(err, payments.ErrNotConfigured) || errors.Is(err, payments.ErrBadKey) {
			s.answerCallback(b, ctx, "Top-ups are not set up on this bot. Ask the operator to configure the payment gateway.", true)
			return nil
		}
		s.logger.Error().Err(err).Int("amount", amount).Msg("top-up checkout failed")
		s.answerCallback(b, ctx, "Top-up unavailable: "+clip(err.Error(), 120), true)
		return nil
	}

	s.metrics.TopupsStarted.Inc()
	s.answerCallback(b, ctx, "", false)
	return s.editOrReplyCallback(ctx, b, checkoutText(amount), checkoutKeyboard(url))
}

func (s *Service) cbAutoTopUpScreen(b *gotgbot.Bot, ctx *ext.Context) error {
	_, auth, ok := s.requireSessionCallback(b, ctx)
	if !ok {
		return nil
	}
	st, unauthorized := s.loadAutoTopUpScreen(userID(ctx), auth)
	if unauthorized {
		return s.clearAndNotifyCallback(b, ctx)
	}
	s.answerCallback(b, ctx, "", false)
	return s.editOrReplyCallback(ctx, b, autoTopUpText(st), autoTopUpKeyboard(st))
}

func (s *Service) cbConfigureAutoTopUp(b *gotgbot.Bot, ctx *ext.Context, payload string) error {
	amount, threshold, ok := parseAutoSet(payload)
	if !ok {
		s.answerCallback(b, ctx, "That preset button is stale. Open /autotopup again.", true)
		return nil
	}
	_, auth, sessionOK := s.requireSessionCallback(b, ctx)
	if !sessionOK {
		return nil
	}

	uid := userID(ctx)
	bg := context.Background()
	st, err := s.sessions.Credits(bg, uid)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to load credit state")
	}

	err = s.credits.ConfigureAutoTopUp(bg, auth, &st, amount, threshold)
	// The state records the outcome either way; keep it.
	if saveErr := s.sessions.SaveCredits(bg, uid, st); saveErr != nil {
		s.logger.Error().Err(saveErr).Int64("user_id", uid).Msg("failed to save credit state")
	}
	if err != nil {
		if s.clearOnUnauthorizedCallback(b, ctx, err) {
			return nil
		}
		s.answerCallback(b, ctx, "Could not update auto top-up: "+clip(err.Error(), 120), true)
		return s.editOrReplyCallback(ctx, b, autoTopUpText(st), autoTopUpKeyboard(st))
	}

	s.answerCallback(b, ctx, "Auto top-up updated.", false)
	return s.editOrReplyCallback(ctx, b, autoTopUpText(st), autoTopUpKeyboard(st))
}

func (s *Service) answerCallback(b *gotgbot.Bot, ctx *ext.Context, text string, alert bool) {
	if ctx == nil || ctx.CallbackQuery == nil {
		return
	}
	opts := &gotgbot.AnswerCallbackQueryOpts{ShowAlert: alert}
	if text != "" {
		opts.Text = text
	}
	_, _ = b.AnswerCallbackQuery(ctx.CallbackQuery.Id, opts)
}

func (s *Service) editOrReplyCallback(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx != nil && ctx.CallbackQuery != nil && ctx.CallbackQuery.Message != nil {
		opts := &gotgbot.EditMessageTextOpts{}
		if markup != nil {
			opts.ReplyMarkup = *markup
		}
		_, _, err := ctx.CallbackQuery.Message.EditText(b, text, opts)
		if err == nil {
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
			return nil
		}
		// Fallback to sending a regular message if edit failed.
	}
	return s.replyWithMarkup(ctx, b, text, markup)
}

func cardIndex(payload string) (int, bool) {
	idx, err := strconv.Atoi(payload)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

func parseAutoSet(payload string) (int, int, bool) {
	parts := strings.SplitN(payload, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	amount, err := strconv.Atoi(parts[0])
	if err != nil || amount < 0 {
		return 0, 0, false
	}
	threshold, err := strconv.Atoi(parts[1])
	if err != nil || threshold < 0 {
		return 0, 0, false
	}
	return amount, threshold, true
}
