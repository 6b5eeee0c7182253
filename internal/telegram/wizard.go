package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"ottobot/internal/platform"
)

const (
	cardLoading = "loading"
	cardLoaded  = "loaded"
	cardFailed  = "failed"
)

type agentCard struct {
	Creator string                      `json:"creator"`
	Slug    string                      `json:"slug"`
	Status  string                      `json:"status"`
	Error   string                      `json:"error,omitempty"`
	Details *platform.StoreAgentDetails `json:"details,omitempty"`
}

func (c agentCard) title() string {
	if c.Details != nil && c.Details.AgentName != "" {
		return c.Details.AgentName
	}
	return c.Slug
}

// Selection is single-slot: the last pick wins.
type onboardingState struct {
	Cards           []agentCard `json:"cards"`
	SelectedCreator string      `json:"selected_creator,omitempty"`
	SelectedSlug    string      `json:"selected_slug,omitempty"`
}

func (st *onboardingState) selectedIndex() int {
	if st.SelectedSlug == "" {
		return -1
	}
	for i, c := range st.Cards {
		if c.Creator == st.SelectedCreator && c.Slug == st.SelectedSlug {
			return i
		}
	}
	return -1
}

func (st *onboardingState) selectCard(idx int) {
	st.SelectedCreator = st.Cards[idx].Creator
	st.SelectedSlug = st.Cards[idx].Slug
}

type wizardStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func newWizardStore(rdb *redis.Client, ttl time.Duration) *wizardStore {
	return &wizardStore{redis: rdb, ttl: ttl}
}

func (w *wizardStore) key(userID int64) string {
	return fmt.Sprintf("ottobot:wizard:%d", userID)
}

func (w *wizardStore) Set(ctx context.Context, userID int64, state onboardingState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return w.redis.Set(ctx, w.key(userID), string(b), w.ttl).Err()
}

func (w *wizardStore) Get(ctx context.Context, userID int64) (*onboardingState, error) {
	raw, err := w.redis.Get(ctx, w.key(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state onboardingState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (w *wizardStore) Clear(ctx context.Context, userID int64) error {
	return w.redis.Del(ctx, w.key(userID)).Err()
}

func (s *Service) onboarding(b *gotgbot.Bot, ctx *ext.Context) error {
	if !isPrivate(ctx) {
		return s.reply(ctx, b, "Run /onboarding in a private chat with me.")
	}
	_, _, ok := s.requireSession(b, ctx)
	if !ok {
		return nil
	}
	uid := userID(ctx)

	state := onboardingState{}
	for _, ref := range s.featured {
		state.Cards = append(state.Cards, agentCard{Creator: ref.Creator, Slug: ref.Slug, Status: cardLoading})
	}

	// Loading screen first, so both cards have a visible state during the fetch.
	msg, err := s.sendWithMarkup(ctx, b, wizardText(&state), wizardKeyboard(&state))
	if err != nil {
		return err
	}

	s.fetchCards(context.Background(), &state, allCardIndexes(&state))
	if err := s.wizard.Set(context.Background(), uid, state); err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to save wizard state")
		return s.reply(ctx, b, "Could not start onboarding right now. Try again shortly.")
	}

	if msg != nil {
		_, _, err = msg.EditText(b, wizardText(&state), &gotgbot.EditMessageTextOpts{ReplyMarkup: *wizardKeyboard(&state)})
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
			return err
		}
	}
	return nil
}

// Failures stay per card: one agent failing to load must not blank the other.
func (s *Service) fetchCards(ctx context.Context, state *onboardingState, idxs []int) {
	g, gctx := errgroup.WithContext(ctx)
	for _, i := range idxs {
		if i < 0 || i >= len(state.Cards) {
			continue
		}
		card := &state.Cards[i]
		card.Status = cardLoading
		card.Error = ""
		g.Go(func() error {
			details, err := s.api.StoreAgent(gctx, card.Creator, card.Slug)
			if err != nil {
				card.Status = cardFailed
				card.Error = clip(err.Error(), 80)
				return nil
			}
			card.Status = cardLoaded
			card.Details = &details
			return nil
		})
	}
	_ = g.Wait()
}

func allCardIndexes(state *onboardingState) []int {
	idxs := make([]int, len(state.Cards))
	for i := range idxs {
		idxs[i] = i
	}
	return idxs
}

func (s *Service) onWizardPick(b *gotgbot.Bot, ctx *ext.Context, idx int) error {
	uid := userID(ctx)
	state, err := s.wizard.Get(context.Background(), uid)
	if err != nil {
		s.answerCallback(b, ctx, "Onboarding state is unavailable. Try /onboarding again.", true)
		return nil
	}
	if state == nil {
		s.answerCallback(b, ctx, "This onboarding session expired. Run /onboarding again.", true)
		return nil
	}
	if idx < 0 || idx >= len(state.Cards) {
		s.answerCallback(b, ctx, "Unknown agent card.", true)
		return nil
	}
	card := state.Cards[idx]
	if card.Status != cardLoaded {
		s.answerCallback(b, ctx, "That agent has not loaded. Retry it first.", true)
		return nil
	}

	state.selectCard(idx)
	if err := s.wizard.Set(context.Background(), uid, *state); err != nil {
		s.answerCallback(b, ctx, "Could not save your selection. Try again.", true)
		return nil
	}

	s.answerCallback(b, ctx, card.title()+" selected.", false)
	return s.editOrReplyCallback(ctx, b, wizardText(state), wizardKeyboard(state))
}

func (s *Service) onWizardRetry(b *gotgbot.Bot, ctx *ext.Context, idx int) error {
	uid := userID(ctx)
	state, err := s.wizard.Get(context.Background(), uid)
	if err != nil || state == nil {
		s.answerCallback(b, ctx, "This onboarding session expired. Run /onboarding again.", true)
		return nil
	}
	if idx < 0 || idx >= len(state.Cards) {
		s.answerCallback(b, ctx, "Unknown agent card.", true)
		return nil
	}

	s.answerCallback(b, ctx, "", false)
	s.fetchCards(context.Background(), state, []int{idx})
	if err := s.wizard.Set(context.Background(), uid, *state); err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to save wizard state")
	}
	return s.editOrReplyCallback(ctx, b, wizardText(state), wizardKeyboard(state))
}

func (s *Service) onWizardNext(b *gotgbot.Bot, ctx *ext.Context) error {
	uid := userID(ctx)
	state, err := s.wizard.Get(context.Background(), uid)
	if err != nil || state == nil {
		s.answerCallback(b, ctx, "This onboarding session expired. Run /onboarding again.", true)
		return nil
	}

	idx := state.selectedIndex()
	if idx < 0 {
		// Next stays gated until a selection exists.
		s.answerCallback(b, ctx, "Select an agent first.", true)
		return nil
	}
	card := state.Cards[idx]
	if card.Details == nil || card.Details.StoreListingVersionID == "" {
		s.answerCallback(b, ctx, "That agent cannot be added right now.", true)
		return nil
	}

	_, auth, ok := s.requireSessionCallback(b, ctx)
	if !ok {
		return nil
	}

	lib, err := s.api.AddToLibrary(context.Background(), auth, card.Details.StoreListingVersionID)
	if err != nil {
		if s.clearOnUnauthorizedCallback(b, ctx, err) {
			return nil
		}
		s.answerCallback(b, ctx, "Could not add "+card.title()+": "+clip(err.Error(), 80), true)
		return nil
	}

	if err := s.sessions.SetGraph(context.Background(), uid, lib.GraphID); err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to store selected graph")
	}
	s.metrics.WizardCompletions.Inc()
	_ = s.wizard.Clear(context.Background(), uid)

	s.answerCallback(b, ctx, "Added to your library.", false)
	return s.editOrReplyCallback(ctx, b, wizardDoneText(card.title()), backToMenuKeyboard())
}

func (s *Service) onWizardCancel(b *gotgbot.Bot, ctx *ext.Context) error {
	uid := userID(ctx)
	if err := s.wizard.Clear(context.Background(), uid); err != nil {
		s.answerCallback(b, ctx, "Could not cancel right now.", true)
		return nil
	}
	s.answerCallback(b, ctx, "", false)
	return s.editOrReplyCallback(ctx, b, "Onboarding canceled. Run /onboarding whenever you want to pick an agent.", backToMenuKeyboard())
}

func wizardText(state *onboardingState) string {
	lines := []string{"Pick your first agent", ""}
	selected := state.selectedIndex()

	for i, c := range state.Cards {
		switch c.Status {
		case cardLoaded:
			d := c.Details
			marker := ""
			if i == selected {
				marker = "[selected] "
			}
			lines = append(lines, fmt.Sprintf("%d. %s%s by %s", i+1, marker, d.AgentName, d.Creator))
			if d.SubHeading != "" {
				lines = append(lines, "   "+clip(d.SubHeading, 100))
			}
			lines = append(lines, fmt.Sprintf("   %d runs, rated %.1f", d.Runs, d.Rating))
		case cardFailed:
			lines = append(lines, fmt.Sprintf("%d. %s/%s could not load: %s", i+1, c.Creator, c.Slug, c.Error))
		default:
			lines = append(lines, fmt.Sprintf("%d. %s/%s loading...", i+1, c.Creator, c.Slug))
		}
		lines = append(lines, "")
	}

	lines = append(lines, "Select one, then tap Next.")
	return strings.Join(lines, "\n")
}

func wizardKeyboard(state *onboardingState) *gotgbot.InlineKeyboardMarkup {
	selected := state.selectedIndex()
	var cardRow []gotgbot.InlineKeyboardButton
	for i, c := range state.Cards {
		switch c.Status {
		case cardLoaded:
			label := c.title()
			if i == selected {
				label = "[x] " + label
			}
			cardRow = append(cardRow, gotgbot.InlineKeyboardButton{
				Text:         label,
				CallbackData: fmt.Sprintf("%s%d", cbWizardPick, i),
			})
		case cardFailed:
			cardRow = append(cardRow, gotgbot.InlineKeyboardButton{
				Text:         "Retry " + c.Slug,
				CallbackData: fmt.Sprintf("%s%d", cbWizardRetry, i),
			})
		}
	}

	var rows [][]gotgbot.InlineKeyboardButton
	if len(cardRow) > 0 {
		rows = append(rows, cardRow)
	}
	rows = append(rows, []gotgbot.InlineKeyboardButton{
		{Text: "Next", CallbackData: cbWizardNext},
		{Text: "Cancel", CallbackData: cbWizardCancel},
	})
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func wizardDoneText(agentName string) string {
	return strings.Join([]string{
		agentName + " is in your library now.",
		"",
		"Ask me anything about the platform. Send /context before a",
		"question to include this agent's graph in the answer, and",
		"/credits to keep an eye on your balance.",
	}, "\n")
}
