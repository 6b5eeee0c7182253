package worker

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/rs/zerolog"

	"ottobot/internal/chat"
	"ottobot/internal/markdown"
	"ottobot/internal/metrics"
	"ottobot/internal/platform"
	"ottobot/internal/queue"
	"ottobot/internal/session"
)

const maxSources = 5

type Worker struct {
	bot           *gotgbot.Bot
	sessions      *session.Store
	queue         *queue.StreamQueue
	locks         *queue.AskLock
	api           platform.API
	askTimeout    time.Duration
	maxJobRetries int
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

type Config struct {
	Bot           *gotgbot.Bot
	Sessions      *session.Store
	Queue         *queue.StreamQueue
	Locks         *queue.AskLock
	API           platform.API
	AskTimeout    time.Duration
	MaxJobRetries int
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.AskTimeout <= 0 {
		cfg.AskTimeout = 90 * time.Second
	}
	if cfg.MaxJobRetries < 0 {
		cfg.MaxJobRetries = 0
	}
	return &Worker{
		bot:           cfg.Bot,
		sessions:      cfg.Sessions,
		queue:         cfg.Queue,
		locks:         cfg.Locks,
		api:           cfg.API,
		askTimeout:    cfg.AskTimeout,
		maxJobRetries: cfg.MaxJobRetries,
		logger:        cfg.Logger,
		metrics:       m,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Str("consumer", w.queue.Consumer()).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		messages, err := w.queue.Read(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read queue")
			time.Sleep(1 * time.Second)
			continue
		}
		if len(messages) == 0 {
			continue
		}

		for _, msg := range messages {
			w.handleMessage(ctx, log, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, log zerolog.Logger, msg queue.Message) {
	err := w.processJob(ctx, msg.Job)
	if err == nil {
		if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
			log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack message")
		}
		return
	}

	log.Error().Err(err).Str("job_id", msg.Job.JobID).Int("attempt", msg.Job.Attempts).Msg("job failed")

	if msg.Job.Attempts < w.maxJobRetries {
		msg.Job.Attempts++
		if _, enqueueErr := w.queue.Enqueue(ctx, msg.Job); enqueueErr != nil {
			log.Error().Err(enqueueErr).Str("job_id", msg.Job.JobID).Msg("failed to re-enqueue failed job")
			return
		}
		if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
			log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack after re-enqueue")
		}
		return
	}

	w.metrics.AsksFailed.Inc()
	w.settle(ctx, msg.Job, func(c *chat.Conversation) { c.Fail() }, display{Plain: chat.FailureNotice})
	if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
		log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack terminal failed message")
	}
}

// A nil return settles the job for good; an error makes it retryable.
func (w *Worker) processJob(ctx context.Context, job queue.AskJob) error {
	sess, err := w.sessions.Session(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		w.metrics.AsksUnauthorized.Inc()
		w.settle(ctx, job, func(c *chat.Conversation) { c.FailAuth() }, display{Plain: chat.AuthNotice})
		return nil
	}

	token, err := w.sessions.OpenToken(sess)
	if err != nil {
		// The sealing key left the keyring; force a fresh /login.
		w.logger.Warn().Err(err).Int64("user_id", job.UserID).Msg("stored token unreadable, clearing session")
		w.metrics.AsksUnauthorized.Inc()
		_ = w.sessions.ClearSession(ctx, job.UserID)
		w.settle(ctx, job, func(c *chat.Conversation) { c.FailAuth() }, display{Plain: chat.AuthNotice})
		return nil
	}
	auth := platform.Auth{AccessToken: token, UserID: sess.PlatformUserID}

	askCtx, cancel := context.WithTimeout(ctx, w.askTimeout)
	defer cancel()
	resp, err := w.api.Ask(askCtx, auth, job.Request)
	if err != nil {
		if errors.Is(err, platform.ErrUnauthorized) {
			w.metrics.AsksUnauthorized.Inc()
			_ = w.sessions.ClearSession(ctx, job.UserID)
			w.settle(ctx, job, func(c *chat.Conversation) { c.FailAuth() }, display{Plain: chat.AuthNotice})
			return nil
		}
		return fmt.Errorf("ask: %w", err)
	}

	answer := strings.TrimSpace(resp.Answer)
	if !resp.Success || answer == "" {
		return fmt.Errorf("platform returned no answer")
	}

	w.metrics.AsksAnswered.Inc()
	w.settle(ctx, job, func(c *chat.Conversation) { c.Resolve(answer) }, renderAnswer(answer, resp.Documents))
	return nil
}

type display struct {
	HTML  string
	Plain string
}

// The conversation is saved before the placeholder edit; the edit is best
// effort and never re-queued.
func (w *Worker) settle(ctx context.Context, job queue.AskJob, mutate func(*chat.Conversation), d display) {
	conv, err := w.sessions.Conversation(ctx, job.UserID)
	if err != nil {
		w.logger.Error().Err(err).Int64("user_id", job.UserID).Msg("failed to load conversation")
	} else {
		mutate(&conv)
		if err := w.sessions.SaveConversation(ctx, job.UserID, conv); err != nil {
			w.logger.Error().Err(err).Int64("user_id", job.UserID).Msg("failed to save conversation")
		}
	}

	// The turn is over either way; free the user's ask slot.
	if err := w.locks.Release(ctx, job.UserID); err != nil {
		w.logger.Error().Err(err).Int64("user_id", job.UserID).Msg("failed to release ask lock")
	}

	if err := w.editPlaceholder(ctx, job.ChatID, job.PlaceholderID, d); err != nil {
		w.logger.Error().Err(err).Int64("chat_id", job.ChatID).Int64("message_id", job.PlaceholderID).Msg("failed to update placeholder")
	}
}

func (w *Worker) editPlaceholder(ctx context.Context, chatID, messageID int64, d display) error {
	if messageID <= 0 {
		return nil
	}

	text := d.Plain
	parseMode := ""
	if d.HTML != "" && utf8.RuneCountInString(d.HTML) <= 4096 {
		text = d.HTML
		parseMode = "HTML"
	}
	if utf8.RuneCountInString(text) > 4096 {
		r := []rune(d.Plain)
		if len(r) > 4000 {
			r = r[:4000]
		}
		text = string(r)
		parseMode = ""
	}

	err := w.editOnce(ctx, chatID, messageID, text, parseMode)
	if err == nil {
		return nil
	}
	if parseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
		r := []rune(d.Plain)
		if len(r) > 4000 {
			r = r[:4000]
		}
		return w.editOnce(ctx, chatID, messageID, string(r), "")
	}
	return err
}

func (w *Worker) editOnce(ctx context.Context, chatID, messageID int64, text, parseMode string) error {
	_, _, err := w.bot.EditMessageTextWithContext(ctx, text, &gotgbot.EditMessageTextOpts{
		ChatId:             chatID,
		MessageId:          messageID,
		ParseMode:          parseMode,
		LinkPreviewOptions: &gotgbot.LinkPreviewOptions{IsDisabled: true},
	})
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}

func renderAnswer(answer string, docs []platform.Document) display {
	htmlText := markdown.ToTelegramHTML(answer)
	plain := answer

	urls := sourceURLs(docs)
	if len(urls) > 0 {
		var hb, pb strings.Builder
		hb.WriteString("<b>Sources</b>")
		pb.WriteString("Sources:")
		for i, u := range urls {
			fmt.Fprintf(&hb, "\n%d. <a href=\"%s\">%s</a>", i+1, html.EscapeString(u), html.EscapeString(trimScheme(u)))
			fmt.Fprintf(&pb, "\n%d. %s", i+1, u)
		}
		htmlText += "\n\n" + hb.String()
		plain += "\n\n" + pb.String()
	}

	return display{HTML: htmlText, Plain: plain}
}

func sourceURLs(docs []platform.Document) []string {
	seen := map[string]bool{}
	var urls []string
	for _, d := range docs {
		u := strings.TrimSpace(d.URL)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
		if len(urls) == maxSources {
			break
		}
	}
	return urls
}

func trimScheme(u string) string {
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	return u
}
