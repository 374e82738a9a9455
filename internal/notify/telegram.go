// Package notify tells humans about runs that need them.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/rendis/socialflow/pkg/schema"
)

// Callback data prefixes of the approval buttons.
const (
	CallbackApprove = "approve:"
	CallbackReject  = "reject:"
)

// previewLimit caps how much of a pending payload is shown in a message.
const previewLimit = 1200

// Approver resolves an approval gate. *engine.Orchestrator implements it.
type Approver interface {
	Approve(ctx context.Context, runID string, approved bool) (*schema.RunRecord, error)
}

// TelegramNotifier posts approval requests and failures to one chat. When
// an Approver is set, approval messages carry Approve/Reject buttons whose
// presses are routed back to it while Start is running.
type TelegramNotifier struct {
	bot      *bot.Bot
	chatID   int64
	approver Approver
	logger   *slog.Logger
}

// Option configures a TelegramNotifier.
type Option func(*config)

type config struct {
	botOpts  []bot.Option
	approver Approver
	logger   *slog.Logger
}

// WithApprover enables the inline approval buttons.
func WithApprover(a Approver) Option {
	return func(c *config) { c.approver = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithBotOptions passes options through to bot.New.
func WithBotOptions(opts ...bot.Option) Option {
	return func(c *config) { c.botOpts = append(c.botOpts, opts...) }
}

// NewTelegram creates a notifier for chatID using the bot token.
func NewTelegram(token string, chatID int64, opts ...Option) (*TelegramNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	n := &TelegramNotifier{chatID: chatID, approver: cfg.approver, logger: cfg.logger}
	botOpts := append([]bot.Option{bot.WithDefaultHandler(n.handleUpdate)}, cfg.botOpts...)
	b, err := bot.New(token, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	n.bot = b
	return n, nil
}

// SetApprover enables the inline approval buttons after construction, for
// approvers that themselves need the notifier to be built. Call it before
// Start and before the first notification.
func (n *TelegramNotifier) SetApprover(a Approver) {
	n.approver = a
}

// Start long-polls for button presses until ctx is done. It is only
// needed when an Approver is set.
func (n *TelegramNotifier) Start(ctx context.Context) {
	n.logger.InfoContext(ctx, "telegram notifier listening", "chat_id", n.chatID)
	n.bot.Start(ctx)
}

func (n *TelegramNotifier) NotifyApprovalRequested(ctx context.Context, run *schema.RunRecord) error {
	params := &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      approvalText(run),
		ParseMode: models.ParseModeHTML,
	}
	if n.approver != nil {
		params.ReplyMarkup = &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{{
				{Text: "Approve", CallbackData: CallbackApprove + run.ID},
				{Text: "Reject", CallbackData: CallbackReject + run.ID},
			}},
		}
	}
	if _, err := n.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send approval request for run %s: %w", run.ID, err)
	}
	return nil
}

func (n *TelegramNotifier) NotifyRunFailed(ctx context.Context, run *schema.RunRecord) error {
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      fmt.Sprintf("<b>Run failed</b> <code>%s</code>\n%s", html.EscapeString(run.ID), html.EscapeString(run.Error)),
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("send failure notice for run %s: %w", run.ID, err)
	}
	return nil
}

func (n *TelegramNotifier) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	cb := update.CallbackQuery
	if cb == nil || n.approver == nil {
		return
	}

	var runID string
	var approved bool
	switch {
	case strings.HasPrefix(cb.Data, CallbackApprove):
		runID, approved = strings.TrimPrefix(cb.Data, CallbackApprove), true
	case strings.HasPrefix(cb.Data, CallbackReject):
		runID = strings.TrimPrefix(cb.Data, CallbackReject)
	default:
		return
	}

	answer := "Rejected"
	if approved {
		answer = "Approved"
	}
	run, err := n.approver.Approve(ctx, runID, approved)
	if err != nil {
		n.logger.WarnContext(ctx, "telegram approval failed", "run_id", runID, "error", err)
		answer = schema.CodeOf(err)
	} else {
		n.logger.InfoContext(ctx, "run decided from telegram", "run_id", runID, "approved", approved, "status", run.Status)
	}

	if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
		Text:            answer,
	}); err != nil {
		n.logger.WarnContext(ctx, "answer callback query", "error", err)
	}
}

func approvalText(run *schema.RunRecord) string {
	preview, err := json.MarshalIndent(run.PendingApproval, "", "  ")
	if err != nil {
		preview = []byte(fmt.Sprint(run.PendingApproval))
	}
	p := string(preview)
	if len(p) > previewLimit {
		p = p[:previewLimit] + "..."
	}
	return fmt.Sprintf("<b>Approval requested</b> for run <code>%s</code>\n<pre>%s</pre>",
		html.EscapeString(run.ID), html.EscapeString(p))
}
