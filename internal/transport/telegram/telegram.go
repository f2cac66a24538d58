package telegram

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"snitchbot/internal/transport"
	logx "snitchbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter drives a Telegram bot through telebot and exposes the
// platform-neutral transport contract.
//
// Mapping notes:
//   - scope and broadcast channel are both Telegram chats
//   - a "role" is an administrator custom title; it has no platform id, so
//     targets key it by an fnv64 hash of the folded title
//   - Telegram cannot enumerate full chat membership, so name lookups for
//     members cover administrators only
type Adapter struct {
	cfg Config
	log logx.Logger

	bot       *tele.Bot
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	runMu     sync.Mutex
	running   bool

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	// Periodic summary for dropped updates.
	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n))
				}
			}
		}
	}()

	deliver := func(kind transport.UpdateKind, m *tele.Message) {
		if m == nil || m.Sender == nil || m.Chat == nil {
			return
		}
		up := transport.Update{Kind: kind, Message: mapMessage(m)}
		select {
		case out <- up:
		default:
			atomic.AddUint64(&a.droppedUpdates, 1)
		}
	}

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		deliver(transport.UpdateMessage, c.Message())
		return nil
	})
	a.bot.Handle(tele.OnEdited, func(c tele.Context) error {
		deliver(transport.UpdateEdited, c.Message())
		return nil
	})

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop() called
	}()

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	if a.bot != nil {
		go a.bot.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Grace window: keep shutdown snappy even if the long-poll is waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

// ---- Sender ----

func (a *Adapter) SendDirect(ctx context.Context, recipientID int64, text string, att *transport.Attachment) error {
	_, err := a.bot.Send(&tele.User{ID: recipientID}, renderBody(text, att), &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	return mapSendErr(err)
}

func (a *Adapter) SendToChannel(ctx context.Context, channelID int64, text string, att *transport.Attachment) error {
	_, err := a.bot.Send(&tele.Chat{ID: channelID}, renderBody(text, att), &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	return mapSendErr(err)
}

// renderBody flattens the excerpt card into plain lines; Telegram has no
// embed construct.
func renderBody(text string, att *transport.Attachment) string {
	if att == nil {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	if att.Title != "" {
		b.WriteString("\n\n")
		b.WriteString(att.Title)
	}
	if att.Excerpt != "" {
		b.WriteString("\n> ")
		b.WriteString(strings.ReplaceAll(att.Excerpt, "\n", "\n> "))
	}
	if att.Link != "" {
		b.WriteString("\n")
		b.WriteString(att.Link)
	}
	return b.String()
}

// mapSendErr classifies telebot failures: flood waits are transient and
// carry the server's retry-after; everything else is terminal.
func mapSendErr(err error) error {
	if err == nil {
		return nil
	}
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &transport.RateLimitedError{
			RetryAfter: time.Duration(fe.RetryAfter) * time.Second,
			Err:        err,
		}
	}
	return err
}

// ---- Directory ----

func (a *Adapter) MemberByID(ctx context.Context, scopeID, id int64) (*transport.Entity, error) {
	cm, err := a.bot.ChatMemberOf(&tele.Chat{ID: scopeID}, &tele.User{ID: id})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if cm == nil || cm.User == nil || cm.Role == tele.Left || cm.Role == tele.Kicked {
		return nil, nil
	}
	return userEntity(cm.User), nil
}

func (a *Adapter) ChannelByID(ctx context.Context, scopeID, id int64) (*transport.Entity, error) {
	ch, err := a.bot.ChatByID(id)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if ch == nil {
		return nil, nil
	}
	return &transport.Entity{ID: ch.ID, Name: chatName(ch)}, nil
}

func (a *Adapter) RoleByID(ctx context.Context, scopeID, id int64) (*transport.Entity, error) {
	admins, err := a.bot.AdminsOf(&tele.Chat{ID: scopeID})
	if err != nil {
		return nil, err
	}
	for _, cm := range admins {
		if cm.Title != "" && RoleID(cm.Title) == id {
			return &transport.Entity{ID: id, Name: cm.Title}, nil
		}
	}
	return nil, nil
}

func (a *Adapter) FindRoleByName(ctx context.Context, scopeID int64, name string) (*transport.Entity, error) {
	admins, err := a.bot.AdminsOf(&tele.Chat{ID: scopeID})
	if err != nil {
		return nil, err
	}
	for _, cm := range admins {
		if cm.Title != "" && strings.EqualFold(cm.Title, name) {
			return &transport.Entity{ID: RoleID(cm.Title), Name: cm.Title}, nil
		}
	}
	return nil, nil
}

func (a *Adapter) FindMemberByName(ctx context.Context, scopeID int64, name string) (*transport.Entity, error) {
	admins, err := a.bot.AdminsOf(&tele.Chat{ID: scopeID})
	if err != nil {
		return nil, err
	}
	for _, cm := range admins {
		u := cm.User
		if u == nil {
			continue
		}
		if strings.EqualFold(u.Username, name) || strings.EqualFold(displayName(u), name) {
			return userEntity(u), nil
		}
	}
	return nil, nil
}

func (a *Adapter) FindChannelByName(ctx context.Context, scopeID int64, name string) (*transport.Entity, error) {
	// Only the scope chat itself is reachable by name lookup.
	ch, err := a.bot.ChatByID(scopeID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if ch != nil && strings.EqualFold(chatName(ch), name) {
		return &transport.Entity{ID: ch.ID, Name: chatName(ch)}, nil
	}
	return nil, nil
}

func (a *Adapter) RoleMembers(ctx context.Context, scopeID, roleID int64) ([]transport.Member, error) {
	admins, err := a.bot.AdminsOf(&tele.Chat{ID: scopeID})
	if err != nil {
		return nil, err
	}
	var out []transport.Member
	for _, cm := range admins {
		if cm.User == nil || cm.Title == "" {
			continue
		}
		if RoleID(cm.Title) == roleID {
			out = append(out, *userEntity(cm.User))
		}
	}
	return out, nil
}

func (a *Adapter) IsAdmin(ctx context.Context, scopeID, userID int64) (bool, error) {
	cm, err := a.bot.ChatMemberOf(&tele.Chat{ID: scopeID}, &tele.User{ID: userID})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return cm != nil && (cm.Role == tele.Creator || cm.Role == tele.Administrator), nil
}

// RoleID derives a stable id for an admin custom title.
func RoleID(title string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(title))))
	return int64(h.Sum64())
}

// ---- helpers ----

func userEntity(u *tele.User) *transport.Entity {
	return &transport.Entity{ID: u.ID, Name: displayName(u), IsBot: u.IsBot}
}

func mapMessage(m *tele.Message) *transport.Message {
	return &transport.Message{
		ID:          m.ID,
		ScopeID:     m.Chat.ID,
		ScopeName:   chatName(m.Chat),
		ChannelID:   m.Chat.ID,
		ChannelName: chatName(m.Chat),
		AuthorID:    m.Sender.ID,
		AuthorName:  displayName(m.Sender),
		IsBot:       m.Sender.IsBot,
		Text:        m.Text,
		IsGroup:     m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
		Link:        messageLink(m),
	}
}

func chatName(c *tele.Chat) string {
	if c.Title != "" {
		return c.Title
	}
	if c.Username != "" {
		return c.Username
	}
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

func displayName(u *tele.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return u.Username
}

// messageLink builds a t.me permalink for supergroup messages.
func messageLink(m *tele.Message) string {
	if m.Chat.Type != tele.ChatSuperGroup {
		return ""
	}
	id := m.Chat.ID
	if id < 0 {
		id = -id
	}
	// Supergroup ids are prefixed with 100 in the bot API form.
	s := fmt.Sprintf("%d", id)
	s = strings.TrimPrefix(s, "100")
	return fmt.Sprintf("https://t.me/c/%s/%d", s, m.ID)
}

func isNotFound(err error) bool {
	if errors.Is(err, tele.ErrChatNotFound) || errors.Is(err, tele.ErrUserIsDeactivated) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "user is deactivated")
}
