// Package telegram posts articles to a Telegram channel via the Bot API.
//
// Telegram is a plain-text target: the content pipeline renders rich
// markup down to structured text before Publish sees it. A message
// carries the title as its first line.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"crosspost/internal/publisher"
	"crosspost/internal/publishers/pubkit"
)

// Bot API hard limit per message.
const maxMessageRunes = 4096

var caps = publisher.Capabilities{
	DisplayName:   "Telegram",
	RichMarkup:    false,
	MaxTitleLen:   64,
	TruncateTitle: true,
	RequiresLogin: true,
	Images: publisher.ImageSpec{
		MaxWidth:  1280,
		MaxHeight: 1280,
		MaxBytes:  10 << 20,
		Formats:   []string{"jpeg", "png"},
	},
}

type credentials struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	// ChannelUsername (without @) is only used to build public links.
	ChannelUsername string `json:"channel_username,omitempty"`
}

type Publisher struct {
	pubkit.Base
	creds credentials

	mu  sync.Mutex
	bot *tele.Bot
}

func New(cfg publisher.TargetConfig, deps publisher.Deps) (*Publisher, error) {
	p := &Publisher{}
	p.InitBase(publisher.TargetTelegram, caps, cfg, deps)
	if err := p.Credentials(&p.creds); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.creds.Token) == "" {
		return nil, errors.New("telegram: token is required")
	}
	if p.creds.ChatID == 0 {
		return nil, errors.New("telegram: chat_id is required")
	}
	return p, nil
}

// Login constructs the bot, which performs a getMe call and so
// validates the token. Idempotent: an existing session is kept.
func (p *Publisher) Login(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bot != nil {
		return nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   p.creds.Token,
		Client:  p.HTTP,
		Offline: false,
	})
	if err != nil {
		return fmt.Errorf("telegram login: %w", err)
	}
	p.bot = b
	return nil
}

func (p *Publisher) LoggedIn(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bot != nil
}

func (p *Publisher) Publish(ctx context.Context, a publisher.Article) publisher.Outcome {
	p.mu.Lock()
	bot := p.bot
	p.mu.Unlock()
	if bot == nil {
		return publisher.Failed(p.Target(), publisher.CodeAuth, "telegram: not logged in")
	}

	if err := p.Throttle(ctx); err != nil {
		return publisher.Failed(p.Target(), publisher.CodeInternal, err.Error())
	}

	msg, err := bot.Send(tele.ChatID(p.creds.ChatID), composeMessage(a), tele.NoPreview)
	if err != nil {
		return p.sendFailure(err)
	}

	id := strconv.Itoa(msg.ID)
	return publisher.Published(p.Target(), id, p.messageURL(msg.ID), "sent")
}

// FetchStats reports absent: the Bot API exposes no view counters for
// channel posts.
func (p *Publisher) FetchStats(context.Context, string) (publisher.Stats, bool, error) {
	return publisher.Stats{}, false, nil
}

func (p *Publisher) sendFailure(err error) publisher.Outcome {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		after := time.Duration(flood.RetryAfter) * time.Second
		return publisher.Retryable(p.Target(), publisher.CodeNetwork, err.Error(), after)
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 401 || apiErr.Code == 403 {
			// Token revoked or bot kicked from the channel. Dropping the
			// bot makes the retry wrapper's login probe rebuild it once.
			p.mu.Lock()
			p.bot = nil
			p.mu.Unlock()
			return publisher.Retryable(p.Target(), publisher.CodeAuth, err.Error(), 0)
		}
		if apiErr.Code >= 500 {
			return publisher.Retryable(p.Target(), publisher.CodeNetwork, err.Error(), 0)
		}
		return publisher.Failed(p.Target(), publisher.CodeRejected, err.Error())
	}
	// Transport-level failure.
	return publisher.Retryable(p.Target(), publisher.CodeNetwork, err.Error(), 0)
}

func (p *Publisher) messageURL(msgID int) string {
	if p.creds.ChannelUsername == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s/%d", p.creds.ChannelUsername, msgID)
}

func composeMessage(a publisher.Article) string {
	var sb strings.Builder
	sb.WriteString(a.Title)
	sb.WriteString("\n\n")
	sb.WriteString(a.Body)
	text := sb.String()

	r := []rune(text)
	if len(r) > maxMessageRunes {
		const ellipsis = "…"
		r = r[:maxMessageRunes-1]
		text = string(r) + ellipsis
	}
	return text
}

// Factory implements publisher.Factory.
type Factory struct{}

func (Factory) Target() publisher.Target { return publisher.TargetTelegram }

func (Factory) New(cfg publisher.TargetConfig, deps publisher.Deps) (publisher.Publisher, error) {
	return New(cfg, deps)
}
