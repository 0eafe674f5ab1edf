package handler

import (
	"context"
	"strings"
	"time"

	"twingate/internal/domain"
	"twingate/internal/flow"
	"twingate/internal/i18n"
	"twingate/internal/service"
	"twingate/internal/session"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

const defaultUpdateTimeout = 45 * time.Second

// Deps are the collaborators a Handler needs
type Deps struct {
	Store       session.Store
	Translator  *i18n.Translator
	Progress    *service.ProgressService
	SBT         *service.SBTService
	Groups      *service.GroupService
	BotUsername string
	SupportURL  string
	// Timeout bounds the work done for a single update
	Timeout time.Duration
	Logger  *zap.Logger
}

type commandFunc func(ctx context.Context, u update) (outcome, error)

type callbackFunc func(ctx context.Context, u update, payload string) (outcome, error)

// Handler manages all bot interactions
type Handler struct {
	bot         *tele.Bot
	store       session.Store
	tr          *i18n.Translator
	renderer    *flow.Renderer
	progress    *service.ProgressService
	sbt         *service.SBTService
	groups      *service.GroupService
	botUsername string
	supportURL  string
	timeout     time.Duration
	logger      *zap.Logger

	commands  map[string]commandFunc
	callbacks map[flow.Action]callbackFunc
	// isAdmin reports whether a user administers a chat
	isAdmin   func(chatID, userID int64) (bool, error)
}

// NewHandler creates a new handler instance
func NewHandler(bot *tele.Bot, deps Deps) *Handler {
	if deps.Timeout <= 0 {
		deps.Timeout = defaultUpdateTimeout
	}
	h := &Handler{
		bot:         bot,
		store:       deps.Store,
		tr:          deps.Translator,
		renderer:    flow.NewRenderer(deps.Translator),
		progress:    deps.Progress,
		sbt:         deps.SBT,
		groups:      deps.Groups,
		botUsername: deps.BotUsername,
		supportURL:  deps.SupportURL,
		timeout:     deps.Timeout,
		logger:      deps.Logger,
	}

	h.commands = map[string]commandFunc{
		"/start":      h.cmdStart,
		"/verify":     h.routeCommand(flow.CommandVerify),
		"/status":     h.routeCommand(flow.CommandStatus),
		"/dashboard":  h.routeCommand(flow.CommandDashboard),
		"/sbt":        h.cmdSBT,
		"/language":   h.cmdLanguage,
		"/help":       h.cmdHelp,
		"/reset":      h.cmdReset,
		"/groupstats": h.cmdGroupStats,
	}
	h.callbacks = map[flow.Action]callbackFunc{
		flow.ActionLanguage:         h.cbLanguage,
		flow.ActionLanguageSettings: h.cbLanguageSettings,
		flow.ActionFlow:             h.cbFlow,
		flow.ActionStartLevel:       h.cbStartLevel,
		flow.ActionCheckLevel:       h.cbCheckLevel,
		flow.ActionLevelLocked:      h.cbLevelLocked,
		flow.ActionLevelDone:        h.cbLevelDone,
		flow.ActionMintSBT:          h.cbMintSBT,
		flow.ActionCheckMint:        h.cbCheckMint,
		flow.ActionSBT:              h.cbSBT,
	}
	h.isAdmin = h.chatAdmin
	return h
}

// RegisterHandlers registers all bot handlers
func (h *Handler) RegisterHandlers() {
	// Commands
	for endpoint, fn := range h.commands {
		h.bot.Handle(endpoint, h.onCommand(fn))
	}

	// New members get the group welcome
	h.bot.Handle(tele.OnUserJoined, h.onCommand(h.cmdStart))

	// Plain text in private chats
	h.bot.Handle(tele.OnText, h.handleText)

	// Every inline button goes through one dispatch table
	h.bot.Handle(tele.OnCallback, h.handleCallback)
}

// update is what the handlers read from a Telegram update
type update struct {
	userID    int64
	username  string
	firstName string
	langCode  string
	chat      domain.ChatType
	group     domain.Group
	payload   string
}

func newUpdate(c tele.Context) update {
	u := update{chat: domain.ChatPrivate}

	sender := c.Sender()
	if m := c.Message(); m != nil {
		if m.UserJoined != nil {
			sender = m.UserJoined
		}
		u.payload = m.Payload
	}
	if sender != nil {
		u.userID = sender.ID
		u.username = sender.Username
		u.firstName = sender.FirstName
		u.langCode = sender.LanguageCode
	}

	if chat := c.Chat(); chat != nil {
		u.chat = domain.ChatType(chat.Type)
		u.group = domain.Group{
			ChatID:   chat.ID,
			Title:    chat.Title,
			Username: chat.Username,
			Type:     domain.ChatType(chat.Type),
		}
	}
	return u
}

func (u update) user() service.User {
	return service.User{ID: u.userID, Username: u.username}
}

func (h *Handler) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}

// onCommand wraps a command in logging and the error boundary
func (h *Handler) onCommand(fn commandFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		u := newUpdate(c)
		h.logger.Info("Command received",
			zap.Int64("user_id", u.userID),
			zap.String("username", u.username),
			zap.String("chat_type", string(u.chat)),
			zap.String("text", c.Text()),
		)
		return h.run(c, u, func(ctx context.Context) (outcome, error) {
			return fn(ctx, u)
		})
	}
}

// handleText answers free text in private chats with the routed screen
func (h *Handler) handleText(c tele.Context) error {
	u := newUpdate(c)
	// Ignore commands (starting with /) and group chatter
	if u.chat != domain.ChatPrivate || strings.HasPrefix(strings.TrimSpace(c.Text()), "/") {
		return nil
	}
	return h.run(c, u, func(ctx context.Context) (outcome, error) {
		return h.routeScreen(ctx, u, flow.CommandNone)
	})
}

// Fallback answers an update whose handler panicked
func (h *Handler) Fallback(c tele.Context) error {
	ctx, cancel := h.context()
	defer cancel()

	u := newUpdate(c)
	return h.deliver(c, u, outcome{screen: h.renderer.Error(h.baseView(ctx, u))})
}

// RateLimited tells a throttled user to slow down
func (h *Handler) RateLimited(c tele.Context) error {
	ctx, cancel := h.context()
	defer cancel()

	u := newUpdate(c)
	out, err := h.alert(ctx, u, "errors.rate_limited")
	if err != nil {
		return err
	}
	return h.deliver(c, u, out)
}
