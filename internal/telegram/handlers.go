package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/google/uuid"

	"ottobot/internal/chat"
	"ottobot/internal/credits"
	"ottobot/internal/platform"
	"ottobot/internal/queue"
	"ottobot/internal/session"
)

// In-flight turns older than this are treated as orphaned and unwedged; the
// bound matches the ask lock TTL so both recover together.
const staleAskAfter = queue.AskLockTTL

func (s *Service) start(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.replyWithMarkup(ctx, b, welcomeText(), menuKeyboard())
}

func (s *Service) help(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.reply(ctx, b, helpText())
}

func (s *Service) login(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil || ctx.EffectiveUser == nil {
		return nil
	}
	if !isPrivate(ctx) {
		return s.reply(ctx, b, "Run /login in a private chat with me.")
	}
	token := strings.TrimSpace(commandRemainder(msg.GetText()))
	// The message carries a live credential; delete it whatever happens next.
	_, _ = b.DeleteMessage(ctx.EffectiveChat.Id, msg.MessageId, nil)

	if token == "" {
		return s.reply(ctx, b, "Usage: /login <token>. Create an API token in your platform account settings.")
	}
	platformUserID, err := platform.UserIDFromToken(token)
	if err != nil {
		return s.reply(ctx, b, "That does not look like a platform token. Copy it from your account settings and try again.")
	}

	auth := platform.Auth{AccessToken: token, UserID: platformUserID}
	balance, err := s.api.UserCredit(context.Background(), auth)
	if err != nil {
		if errors.Is(err, platform.ErrUnauthorized) {
			return s.reply(ctx, b, "The platform rejected that token. Generate a fresh one and try again.")
		}
		s.logger.Error().Err(err).Msg("login verification failed")
		return s.reply(ctx, b, "Could not reach the platform to verify the token. Try again in a moment.")
	}

	uid := ctx.EffectiveUser.Id
	if err := s.sessions.SaveSession(context.Background(), uid, platformUserID, token); err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to save session")
		return s.reply(ctx, b, "Could not save your session. Try again shortly.")
	}

	return s.replyWithMarkup(ctx, b,
		fmt.Sprintf("Account linked. Your balance is %d credits.", balance.Credits), menuKeyboard())
}

func (s *Service) logout(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveUser == nil {
		return nil
	}
	if err := s.sessions.ClearSession(context.Background(), ctx.EffectiveUser.Id); err != nil {
		s.logger.Error().Err(err).Int64("user_id", ctx.EffectiveUser.Id).Msg("failed to clear session")
		return s.reply(ctx, b, "Could not log you out right now. Try again shortly.")
	}
	return s.reply(ctx, b, "Unlinked. Stored session, conversation and credit state are gone. /login to link again.")
}

func (s *Service) creditsCmd(b *gotgbot.Bot, ctx *ext.Context) error {
	if !isPrivate(ctx) {
		return s.reply(ctx, b, "Run /credits in a private chat with me.")
	}
	_, auth, ok := s.requireSession(b, ctx)
	if !ok {
		return nil
	}
	st, unauthorized := s.loadBalanceScreen(userID(ctx), auth)
	if unauthorized {
		return s.clearAndNotify(b, ctx)
	}
	return s.replyWithMarkup(ctx, b, balanceText(st), balanceKeyboard(st))
}

func (s *Service) topup(b *gotgbot.Bot, ctx *ext.Context) error {
	if !isPrivate(ctx) {
		return s.reply(ctx, b, "Run /topup in a private chat with me.")
	}
	if _, _, ok := s.requireSession(b, ctx); !ok {
		return nil
	}
	return s.replyWithMarkup(ctx, b, topUpPickerText(), topUpPickerKeyboard())
}

func (s *Service) autoTopUp(b *gotgbot.Bot, ctx *ext.Context) error {
	if !isPrivate(ctx) {
		return s.reply(ctx, b, "Run /autotopup in a private chat with me.")
	}
	_, auth, ok := s.requireSession(b, ctx)
	if !ok {
		return nil
	}
	st, unauthorized := s.loadAutoTopUpScreen(userID(ctx), auth)
	if unauthorized {
		return s.clearAndNotify(b, ctx)
	}
	return s.replyWithMarkup(ctx, b, autoTopUpText(st), autoTopUpKeyboard(st))
}

func (s *Service) history(b *gotgbot.Bot, ctx *ext.Context) error {
	if !isPrivate(ctx) {
		return s.reply(ctx, b, "Run /history in a private chat with me.")
	}
	_, auth, ok := s.requireSession(b, ctx)
	if !ok {
		return nil
	}
	st, unauthorized := s.loadHistory(userID(ctx), auth, false)
	if unauthorized {
		return s.clearAndNotify(b, ctx)
	}
	return s.replyWithMarkup(ctx, b, historyText(st), historyKeyboard(st))
}

func (s *Service) contextToggle(b *gotgbot.Bot, ctx *ext.Context) error {
	if !isPrivate(ctx) {
		return s.reply(ctx, b, "Run /context in a private chat with me.")
	}
	sess, _, ok := s.requireSession(b, ctx)
	if !ok {
		return nil
	}
	if sess.GraphID == "" {
		return s.reply(ctx, b, "No agent selected yet. Run /onboarding to pick one first.")
	}

	uid := userID(ctx)
	conv, err := s.sessions.Conversation(context.Background(), uid)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to load conversation")
		return s.reply(ctx, b, "Conversation state is unavailable right now. Try again shortly.")
	}
	conv.GraphID = sess.GraphID
	conv.IncludeContext = !conv.IncludeContext
	if err := s.sessions.SaveConversation(context.Background(), uid, conv); err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to save conversation")
		return s.reply(ctx, b, "Could not update the setting. Try again.")
	}

	if conv.IncludeContext {
		return s.reply(ctx, b, "Your next question will include the selected agent's graph context (that one question only).")
	}
	return s.reply(ctx, b, "Graph context will not be included in your next question.")
}

func (s *Service) privateText(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil || ctx.EffectiveUser == nil || !isPrivate(ctx) {
		return nil
	}
	text := strings.TrimSpace(msg.GetText())
	if text == "" || strings.HasPrefix(text, "/") {
		return nil
	}

	uid := ctx.EffectiveUser.Id
	chatID := ctx.EffectiveChat.Id
	if !s.allowRate(chatID, uid, b, ctx) {
		return nil
	}

	sess, _, ok := s.requireSession(b, ctx)
	if !ok {
		return nil
	}

	bg := context.Background()
	// One turn per user at a time, even across concurrent updates; the worker
	// releases the lock when it settles the turn.
	locked, err := s.askLock.Acquire(bg, uid)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("ask lock failed")
		locked = true
	}
	if !locked {
		return s.reply(ctx, b, "One question at a time. I am still working on the previous one.")
	}

	conv, err := s.sessions.Conversation(bg, uid)
	if err != nil {
		_ = s.askLock.Release(bg, uid)
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to load conversation")
		return s.reply(ctx, b, "Conversation state is unavailable right now. Try again shortly.")
	}
	if conv.StaleInFlight(s.now(), staleAskAfter) {
		// The worker that owned this turn is gone; settle its placeholder.
		s.logger.Warn().Int64("user_id", uid).Msg("settling stale in-flight turn")
		conv.Fail()
	}
	conv.GraphID = sess.GraphID

	req, err := conv.Begin(text, sess.PlatformUserID, uuid.New().String())
	switch {
	case errors.Is(err, chat.ErrEmptyQuestion):
		_ = s.askLock.Release(bg, uid)
		return nil
	case errors.Is(err, chat.ErrBusy):
		_ = s.askLock.Release(bg, uid)
		return s.reply(ctx, b, "One question at a time. I am still working on the previous one.")
	case err != nil:
		_ = s.askLock.Release(bg, uid)
		return err
	}

	placeholder, err := b.SendMessage(chatID, chat.ProcessingNotice, &gotgbot.SendMessageOpts{
		ReplyParameters: &gotgbot.ReplyParameters{MessageId: msg.MessageId},
	})
	if err != nil {
		// Nothing was saved, so the user can simply ask again.
		_ = s.askLock.Release(bg, uid)
		return fmt.Errorf("send placeholder: %w", err)
	}

	// Saved before enqueue; the worker must never settle against a
	// conversation missing this turn.
	if err := s.sessions.SaveConversation(bg, uid, conv); err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to save conversation")
		_ = s.askLock.Release(bg, uid)
		_, _, _ = placeholder.EditText(b, "Conversation state is unavailable right now. Try again shortly.", nil)
		return nil
	}

	job := queue.AskJob{
		ChatID:        chatID,
		UserID:        uid,
		PlaceholderID: placeholder.MessageId,
		Request:       req,
	}
	if _, err := s.queue.Enqueue(bg, job); err != nil {
		s.logger.Error().Err(err).Msg("failed to enqueue ask job")
		conv.Fail()
		if saveErr := s.sessions.SaveConversation(bg, uid, conv); saveErr != nil {
			s.logger.Error().Err(saveErr).Int64("user_id", uid).Msg("failed to save conversation")
		}
		_ = s.askLock.Release(bg, uid)
		_, _, _ = placeholder.EditText(b, "The queue is unavailable right now. Please try again.", nil)
		return nil
	}
	s.metrics.AsksEnqueued.Inc()
	return nil
}

func (s *Service) loadBalanceScreen(uid int64, auth platform.Auth) (credits.State, bool) {
	bg := context.Background()
	st, err := s.sessions.Credits(bg, uid)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to load credit state")
	}

	if err := s.credits.RefreshBalance(bg, auth, &st); err != nil && errors.Is(err, platform.ErrUnauthorized) {
		return st, true
	}
	s.metrics.CreditFetches.Inc()
	if err := s.credits.LoadAutoTopUp(bg, auth, &st); err != nil && errors.Is(err, platform.ErrUnauthorized) {
		return st, true
	}

	if err := s.sessions.SaveCredits(bg, uid, st); err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to save credit state")
	}
	return st, false
}

func (s *Service) loadAutoTopUpScreen(uid int64, auth platform.Auth) (credits.State, bool) {
	bg := context.Background()
	st, err := s.sessions.Credits(bg, uid)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to load credit state")
	}
	if err := s.credits.LoadAutoTopUp(bg, auth, &st); err != nil && errors.Is(err, platform.ErrUnauthorized) {
		return st, true
	}
	if err := s.sessions.SaveCredits(bg, uid, st); err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to save credit state")
	}
	return st, false
}

// Fetches only on request for more, or when nothing is loaded yet; /history
// never re-arms completed pagination.
func (s *Service) loadHistory(uid int64, auth platform.Auth, more bool) (credits.State, bool) {
	bg := context.Background()
	st, err := s.sessions.Credits(bg, uid)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to load credit state")
	}

	fetch := more || (len(st.Transactions) == 0 && !st.HistoryComplete())
	if fetch {
		if err := s.credits.LoadMoreHistory(bg, auth, &st); err != nil {
			if errors.Is(err, platform.ErrUnauthorized) {
				return st, true
			}
			// Other outcomes render from the state the controller recorded.
		}
		if err := s.sessions.SaveCredits(bg, uid, st); err != nil {
			s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to save credit state")
		}
	}
	return st, false
}

func (s *Service) requireSession(b *gotgbot.Bot, ctx *ext.Context) (*session.Session, platform.Auth, bool) {
	uid := userID(ctx)
	if uid == 0 {
		return nil, platform.Auth{}, false
	}
	sess, err := s.sessions.Session(context.Background(), uid)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to load session")
		_ = s.reply(ctx, b, "Session storage is unavailable right now. Try again shortly.")
		return nil, platform.Auth{}, false
	}
	if sess == nil {
		_ = s.reply(ctx, b, chat.AuthNotice)
		return nil, platform.Auth{}, false
	}
	token, err := s.sessions.OpenToken(sess)
	if err != nil {
		s.logger.Warn().Err(err).Int64("user_id", uid).Msg("stored token unreadable, clearing session")
		_ = s.sessions.ClearSession(context.Background(), uid)
		_ = s.reply(ctx, b, chat.AuthNotice)
		return nil, platform.Auth{}, false
	}
	return sess, platform.Auth{AccessToken: token, UserID: sess.PlatformUserID}, true
}

func (s *Service) requireSessionCallback(b *gotgbot.Bot, ctx *ext.Context) (*session.Session, platform.Auth, bool) {
	uid := userID(ctx)
	if uid == 0 {
		return nil, platform.Auth{}, false
	}
	sess, err := s.sessions.Session(context.Background(), uid)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to load session")
		s.answerCallback(b, ctx, "Session storage is unavailable right now.", true)
		return nil, platform.Auth{}, false
	}
	if sess == nil {
		s.answerCallback(b, ctx, "Link your platform account first: /login <token>", true)
		return nil, platform.Auth{}, false
	}
	token, err := s.sessions.OpenToken(sess)
	if err != nil {
		s.logger.Warn().Err(err).Int64("user_id", uid).Msg("stored token unreadable, clearing session")
		_ = s.sessions.ClearSession(context.Background(), uid)
		s.answerCallback(b, ctx, "Link your platform account first: /login <token>", true)
		return nil, platform.Auth{}, false
	}
	return sess, platform.Auth{AccessToken: token, UserID: sess.PlatformUserID}, true
}

func (s *Service) clearAndNotify(b *gotgbot.Bot, ctx *ext.Context) error {
	_ = s.sessions.ClearSession(context.Background(), userID(ctx))
	return s.reply(ctx, b, chat.AuthNotice)
}

func (s *Service) clearAndNotifyCallback(b *gotgbot.Bot, ctx *ext.Context) error {
	_ = s.sessions.ClearSession(context.Background(), userID(ctx))
	s.answerCallback(b, ctx, "", false)
	return s.editOrReplyCallback(ctx, b, chat.AuthNotice, backToMenuKeyboard())
}

func (s *Service) clearOnUnauthorizedCallback(b *gotgbot.Bot, ctx *ext.Context, err error) bool {
	if !errors.Is(err, platform.ErrUnauthorized) {
		return false
	}
	_ = s.clearAndNotifyCallback(b, ctx)
	return true
}

func (s *Service) allowRate(chatID, uid int64, b *gotgbot.Bot, ctx *ext.Context) bool {
	if uid == 0 || s.rateLimiter == nil {
		return true
	}
	ok, _, resetAt, err := s.rateLimiter.Allow(context.Background(), chatID, uid, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("rate limiter failed")
		return true
	}
	if ok {
		return true
	}
	s.metrics.RateLimited.Inc()
	_ = s.reply(ctx, b, "Rate limit exceeded. Try again after "+resetAt.Format("15:04 UTC"))
	return false
}

func (s *Service) reply(ctx *ext.Context, b *gotgbot.Bot, text string) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, nil)
	return err
}

func (s *Service) replyWithMarkup(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	_, err := s.sendWithMarkup(ctx, b, text, markup)
	return err
}

func (s *Service) sendWithMarkup(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) (*gotgbot.Message, error) {
	if ctx == nil || ctx.EffectiveChat == nil {
		return nil, nil
	}
	opts := &gotgbot.SendMessageOpts{}
	if markup != nil {
		opts.ReplyMarkup = *markup
	}
	return b.SendMessage(ctx.EffectiveChat.Id, text, opts)
}

func commandRemainder(text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func userID(ctx *ext.Context) int64 {
	if ctx.EffectiveUser == nil {
		return 0
	}
	return ctx.EffectiveUser.Id
}

func isPrivate(ctx *ext.Context) bool {
	return ctx != nil && ctx.EffectiveChat != nil && ctx.EffectiveChat.Type == "private"
}
