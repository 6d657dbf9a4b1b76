package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"github.com/Dethon/Agent-sub012/internal/sessions"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

// telegramMessageLimit leaves headroom under the API's 4096-char cap
// for the cancellation suffix.
const telegramMessageLimit = 4000

const telegramHelp = `Send me a message and I'll get to work.

/cancel          stop the reply being written
/clear           reset the conversation
/approve         allow the tool waiting for approval
/approve always  allow it and remember the choice
/deny            refuse the tool
/help            this text`

// TelegramConfig configures the Telegram bot surface.
type TelegramConfig struct {
	Token string

	// AllowedUsers is the sender whitelist. Messages from anyone else
	// are dropped.
	AllowedUsers []int64

	Registry *sessions.Registry
	AgentID  string

	// EditInterval paces message edits while a reply streams.
	// Defaults to one second.
	EditInterval time.Duration

	StartTimeout time.Duration
	Logger       *slog.Logger
}

// Validate applies defaults and checks required fields.
func (c *TelegramConfig) Validate() error {
	if c.Token == "" {
		return errors.New("telegram: token is required")
	}
	if len(c.AllowedUsers) == 0 {
		return errors.New("telegram: at least one allowed user is required")
	}
	if c.Registry == nil {
		return errors.New("telegram: registry is required")
	}
	if c.AgentID == "" {
		return errors.New("telegram: agent id is required")
	}
	if c.EditInterval <= 0 {
		c.EditInterval = time.Second
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Telegram bridges Telegram chats to conversations. Each chat (and
// forum topic) maps to its own conversation key; replies stream by
// editing one growing message.
type Telegram struct {
	cfg      TelegramConfig
	client   TelegramClient
	registry *sessions.Registry
	allowed  map[int64]bool
	chunker  Chunker
	prompts  chan *models.Prompt
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewTelegram builds the Telegram adapter.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	allowed := make(map[int64]bool, len(cfg.AllowedUsers))
	for _, id := range cfg.AllowedUsers {
		allowed[id] = true
	}
	return &Telegram{
		cfg:      cfg,
		registry: cfg.Registry,
		allowed:  allowed,
		chunker:  Chunker{Limit: telegramMessageLimit},
		prompts:  make(chan *models.Prompt, 100),
		logger:   cfg.Logger.With("adapter", "telegram"),
	}, nil
}

// Prompts is the monitor feed.
func (tg *Telegram) Prompts() <-chan *models.Prompt {
	return tg.prompts
}

// Run connects to Telegram and polls updates until ctx is cancelled.
func (tg *Telegram) Run(ctx context.Context) error {
	b, err := bot.New(tg.cfg.Token)
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	tg.client = &realTelegramClient{bot: b}
	b.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, tg.handleMessage)

	tg.logger.Info("telegram adapter started", "allowed_users", len(tg.allowed))
	b.Start(ctx)
	tg.wg.Wait()
	tg.logger.Info("telegram adapter stopped")
	return nil
}

func (tg *Telegram) handleMessage(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if !tg.allowed[msg.From.ID] {
		tg.logger.Warn("message from unlisted user dropped", "user_id", msg.From.ID)
		return
	}
	key := models.ConversationKey{
		ChatID:   msg.Chat.ID,
		ThreadID: int64(msg.MessageThreadID),
		AgentID:  tg.cfg.AgentID,
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		tg.handleCommand(ctx, key, msg, text)
		return
	}
	tg.converse(ctx, key, msg, text)
}

func (tg *Telegram) handleCommand(ctx context.Context, key models.ConversationKey, msg *tgmodels.Message, text string) {
	fields := strings.Fields(text)
	// Group chats suffix commands with the bot name: "/cancel@somebot".
	cmd := strings.ToLower(strings.SplitN(fields[0], "@", 2)[0])
	switch cmd {
	case "/start", "/help":
		tg.send(ctx, msg.Chat.ID, msg.MessageThreadID, telegramHelp)
	case "/cancel", "/clear":
		if tg.submit(ctx, key, msg, cmd) == nil {
			tg.send(ctx, msg.Chat.ID, msg.MessageThreadID, "I'm flooded right now, try again shortly.")
		}
	case "/approve", "/deny":
		tg.resolveApproval(ctx, key, msg, cmd, fields[1:])
	default:
		tg.send(ctx, msg.Chat.ID, msg.MessageThreadID, "Unknown command. /help lists what I understand.")
	}
}

func (tg *Telegram) resolveApproval(ctx context.Context, key models.ConversationKey, msg *tgmodels.Message, cmd string, args []string) {
	sess := tg.registry.Peek(key)
	if sess == nil {
		tg.send(ctx, msg.Chat.ID, msg.MessageThreadID, "Nothing is waiting for approval.")
		return
	}
	pending := sess.PendingApproval()
	if pending == nil {
		tg.send(ctx, msg.Chat.ID, msg.MessageThreadID, "Nothing is waiting for approval.")
		return
	}
	result := models.ApprovalRejected
	reply := "Rejected."
	if cmd == "/approve" {
		result = models.ApprovalApproved
		reply = "Approved."
		if len(args) > 0 && strings.EqualFold(args[0], "always") {
			result = models.ApprovalRemembered
			reply = "Approved, and I'll remember it for this chat."
		}
	}
	if err := sess.ResolveApproval(pending.ApprovalID, result); err != nil {
		tg.logger.Warn("approval resolution failed", "error", err)
		tg.send(ctx, msg.Chat.ID, msg.MessageThreadID, "That approval is no longer pending.")
		return
	}
	tg.send(ctx, msg.Chat.ID, msg.MessageThreadID, reply)
}

func (tg *Telegram) converse(ctx context.Context, key models.ConversationKey, msg *tgmodels.Message, text string) {
	sess, err := tg.registry.Get(ctx, key)
	if err != nil {
		tg.logger.Error("session resolve failed", "key", key.String(), "error", err)
		tg.send(ctx, msg.Chat.ID, msg.MessageThreadID, "Something went wrong, try again in a moment.")
		return
	}
	// Baseline before the prompt goes in, so the run-start wait can
	// tell this run apart from an older one.
	base := sess.LastActive()
	if tg.submit(ctx, key, msg, text) == nil {
		tg.send(ctx, msg.Chat.ID, msg.MessageThreadID, "I'm flooded right now, try again shortly.")
		return
	}
	tg.wg.Add(1)
	go func() {
		defer tg.wg.Done()
		tg.respond(ctx, sess, base, msg.Chat.ID, msg.MessageThreadID)
	}()
}

func (tg *Telegram) submit(ctx context.Context, key models.ConversationKey, msg *tgmodels.Message, text string) *models.Prompt {
	p := &models.Prompt{
		PromptID:   "telegram-" + uuid.NewString(),
		Key:        key,
		Text:       text,
		SenderID:   strconv.FormatInt(msg.From.ID, 10),
		Source:     models.SourceBot,
		ReceivedAt: time.Now().UTC(),
	}
	select {
	case tg.prompts <- p:
		return p
	case <-ctx.Done():
		return nil
	default:
		tg.logger.Warn("prompt feed full, dropping", "chat_id", key.ChatID)
		return nil
	}
}

// respond streams one run into a single Telegram message, editing it
// as text accumulates and splitting when it outgrows the size limit.
func (tg *Telegram) respond(ctx context.Context, sess *sessions.Session, base time.Time, chatID int64, threadID int) {
	if err := sessions.AwaitRunStart(ctx, sess, base, tg.cfg.StartTimeout); err != nil {
		tg.logger.Warn("run did not start", "chat_id", chatID, "error", err)
		return
	}
	sub, err := sess.Subscribe(fmt.Sprintf("telegram:%d:%d", chatID, threadID))
	if err != nil {
		tg.logger.Warn("subscribe failed", "chat_id", chatID, "error", err)
		return
	}
	defer sess.Unsubscribe(sub.ID)

	tg.typing(ctx, chatID, threadID)
	out := &telegramStream{tg: tg, chatID: chatID, threadID: threadID, logger: tg.logger}
	ticker := time.NewTicker(tg.cfg.EditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			out.flush(ctx)
		case u, ok := <-sub.Updates():
			if !ok {
				out.flush(ctx)
				return
			}
			switch u.Kind {
			case models.UpdateTextDelta:
				out.append(u.TextDelta)
			case models.UpdateToolCallDelta:
				if u.ToolCall != nil && u.ToolCall.Name != "" {
					tg.typing(ctx, chatID, threadID)
				}
			case models.UpdateApproval:
				if u.Approval != nil {
					tg.send(ctx, chatID, threadID, fmt.Sprintf(
						"Tool %s wants to run. Reply /approve, /approve always, or /deny.", u.Approval.ToolName))
				}
			case models.UpdateError:
				out.flush(ctx)
				reason := "run failed"
				if u.Err != nil {
					reason = u.Err.Message
				}
				tg.send(ctx, chatID, threadID, "Error: "+reason)
				return
			case models.UpdateStreamComplete:
				if u.Cancelled {
					out.append("\n(cancelled)")
				}
				out.flush(ctx)
				return
			}
		}
	}
}

// send delivers standalone text, split to fit the message limit.
func (tg *Telegram) send(ctx context.Context, chatID int64, threadID int, text string) {
	for _, chunk := range tg.chunker.Split(text) {
		params := &bot.SendMessageParams{ChatID: chatID, Text: chunk}
		if threadID != 0 {
			params.MessageThreadID = threadID
		}
		if _, err := tg.client.SendMessage(ctx, params); err != nil {
			tg.logger.Warn("send failed", "chat_id", chatID, "error", err)
			return
		}
	}
}

func (tg *Telegram) typing(ctx context.Context, chatID int64, threadID int) {
	params := &bot.SendChatActionParams{ChatID: chatID, Action: tgmodels.ChatActionTyping}
	if threadID != 0 {
		params.MessageThreadID = threadID
	}
	if _, err := tg.client.SendChatAction(ctx, params); err != nil {
		tg.logger.Debug("chat action failed", "chat_id", chatID, "error", err)
	}
}

// telegramStream accumulates streamed text and mirrors it into
// Telegram. The tail chunk stays live and is edited in place; full
// chunks ahead of it are finalized as separate messages.
type telegramStream struct {
	tg       *Telegram
	chatID   int64
	threadID int
	logger   *slog.Logger

	remainder string
	msgID     int
	lastPut   string
}

func (s *telegramStream) append(delta string) {
	s.remainder += delta
}

func (s *telegramStream) flush(ctx context.Context) {
	if strings.TrimSpace(s.remainder) == "" || s.remainder == s.lastPut {
		return
	}
	chunks := s.tg.chunker.Split(s.remainder)
	for len(chunks) > 1 {
		if err := s.put(ctx, chunks[0]); err != nil {
			s.logger.Warn("message update failed", "chat_id", s.chatID, "error", err)
			return
		}
		s.msgID = 0
		s.lastPut = ""
		chunks = chunks[1:]
	}
	if len(chunks) == 0 {
		return
	}
	if err := s.put(ctx, chunks[0]); err != nil {
		s.logger.Warn("message update failed", "chat_id", s.chatID, "error", err)
		return
	}
	s.remainder = chunks[0]
	s.lastPut = chunks[0]
}

func (s *telegramStream) put(ctx context.Context, body string) error {
	if body == s.lastPut {
		return nil
	}
	if s.msgID == 0 {
		params := &bot.SendMessageParams{ChatID: s.chatID, Text: body}
		if s.threadID != 0 {
			params.MessageThreadID = s.threadID
		}
		sent, err := s.tg.client.SendMessage(ctx, params)
		if err != nil {
			return err
		}
		s.msgID = sent.ID
		return nil
	}
	_, err := s.tg.client.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    s.chatID,
		MessageID: s.msgID,
		Text:      body,
	})
	return err
}
