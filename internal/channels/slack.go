package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/bigknoxy/joshbot/internal/bus"
	"github.com/bigknoxy/joshbot/internal/config"
)

const slackMaxMessageChars = 39000

// slackPoster is the part of *slack.Client used to reply.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackChannel receives messages over Slack Socket Mode and replies through
// the Web API.
type SlackChannel struct {
	BaseChannel
	config config.SlackConfig
	api    slackPoster
	client *socketmode.Client
	botID  string
}

// NewSlackChannel creates a Slack channel. Both the bot token (xoxb-) and
// the app-level token (xapp-) are required for socket mode.
func NewSlackChannel(cfg config.SlackConfig, b Publisher) (*SlackChannel, error) {
	if strings.TrimSpace(cfg.BotToken) == "" || strings.TrimSpace(cfg.AppToken) == "" {
		return nil, fmt.Errorf("slack: bot_token and app_token are required")
	}
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &SlackChannel{
		BaseChannel: NewBaseChannel("slack", b, cfg.AllowFrom),
		config:      cfg,
		api:         api,
		client:      socketmode.New(api),
	}, nil
}

// Start connects socket mode and forwards user messages until ctx ends.
func (c *SlackChannel) Start(ctx context.Context) error {
	if api, ok := c.api.(*slack.Client); ok {
		if auth, err := api.AuthTestContext(ctx); err != nil {
			slog.Warn("Slack auth test failed", "error", err)
		} else {
			c.botID = auth.UserID
			slog.Info("Slack connected", "team", auth.Team, "bot", auth.User)
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-c.client.Events:
				if !ok {
					return
				}
				c.handleEvent(evt)
			}
		}
	}()

	if err := c.client.RunContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("slack socket mode: %w", err)
	}
	return nil
}

func (c *SlackChannel) handleEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		slog.Debug("Slack connecting")
	case socketmode.EventTypeConnectionError:
		slog.Warn("Slack connection error", "data", evt.Data)
	case socketmode.EventTypeEventsAPI:
		if evt.Request != nil {
			c.client.Ack(*evt.Request)
		}
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || ev.Type != slackevents.CallbackEvent {
			return
		}
		switch in := ev.InnerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			if in == nil || in.BotID != "" || in.SubType != "" {
				return
			}
			c.forward(in.User, in.Channel, in.Text)
		case *slackevents.AppMentionEvent:
			if in == nil {
				return
			}
			c.forward(in.User, in.Channel, in.Text)
		}
	}
}

func (c *SlackChannel) forward(userID, channelID, text string) {
	if userID == "" || userID == c.botID {
		return
	}
	if c.botID != "" {
		text = strings.TrimSpace(strings.ReplaceAll(text, "<@"+c.botID+">", ""))
	}
	if text == "" {
		return
	}
	c.HandleMessage(&bus.InboundMessage{
		ChatID:   chatKey(c.Name(), channelID),
		SenderID: userID,
		Content:  text,
	})
}

// Stop is a no-op; socket mode closes with Start's context.
func (c *SlackChannel) Stop() error { return nil }

// Send posts text to the Slack channel behind chatID, splitting messages
// that exceed Slack's size limit.
func (c *SlackChannel) Send(ctx context.Context, chatID, text string) error {
	channelID := nativeID(c.Name(), chatID)
	for _, chunk := range splitMessage(text, slackMaxMessageChars) {
		if err := c.post(ctx, channelID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *SlackChannel) post(ctx context.Context, channelID, text string) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * 200 * time.Millisecond
			var rl *slack.RateLimitedError
			if errors.As(err, &rl) {
				wait = rl.RetryAfter
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		_, _, err = c.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
		if err == nil {
			return nil
		}
		slog.Warn("Slack post failed", "channel", channelID, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("slack post: %w", err)
}

// splitMessage breaks text into chunks of at most max bytes, preferring
// newline boundaries.
func splitMessage(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}
	var chunks []string
	for len(text) > max {
		cut := strings.LastIndex(text[:max], "\n")
		if cut <= 0 {
			cut = max
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
