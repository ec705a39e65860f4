package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chatrelay/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const slackMaxMsgLen = 4000

// Slack implements domain.Channel for Slack using Socket Mode.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	socket   *socketmode.Client
	bus      domain.MessageBus
	logger   *slog.Logger
	botUID   string // the bot's own user ID, to avoid replying to self
}

type SlackConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		logger:   logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects to Slack via Socket Mode and listens until ctx is cancelled.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	s.bus = bus

	api := slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
	s.client = api

	authResp, err := api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)
	s.socket = socketClient

	bus.OnOutbound("slack", func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		s.sendMessage(msg.ConversationID, msg.Content)
	})

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(eventsAPIEvent)

			case socketmode.EventTypeSlashCommand:
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleSlashCommand(cmd)

			case socketmode.EventTypeInteractive:
				socketClient.Ack(*evt.Request)

			default:
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- socketClient.RunContext(ctx) }()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

// Stop is a no-op: the socket client stops when Start's context is cancelled.
func (s *Slack) Stop() error { return nil }

func (s *Slack) Send(ctx context.Context, chatID string, content string) error {
	s.sendMessage(chatID, content)
	return nil
}

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if ev.User == s.botUID || ev.User == "" || ev.SubType != "" {
			return
		}
		s.logger.Info("slack message received", "user", ev.User, "channel", ev.Channel, "content_len", len(ev.Text))

		kind := domain.KindText
		if strings.HasPrefix(ev.Text, "/") {
			kind = domain.KindCommand
		}
		s.bus.Publish(domain.InboundMessage{
			SenderID:       ev.User,
			ConversationID: ev.Channel,
			Content:        ev.Text,
			ReceivedAt:     time.Now(),
			Kind:           kind,
		})

	case *slackevents.AppMentionEvent:
		s.logger.Info("slack mention received", "user", ev.User, "channel", ev.Channel)
		content := ev.Text
		if idx := strings.Index(content, ">"); idx >= 0 {
			content = strings.TrimSpace(content[idx+1:])
		}
		s.bus.Publish(domain.InboundMessage{
			SenderID:       ev.User,
			ConversationID: ev.Channel,
			Content:        content,
			ReceivedAt:     time.Now(),
			Kind:           domain.KindText,
		})
	}
}

func (s *Slack) handleSlashCommand(cmd slack.SlashCommand) {
	content := strings.TrimSpace(cmd.Command + " " + cmd.Text)
	s.logger.Info("slack slash command", "command", cmd.Command, "user", cmd.UserID, "channel", cmd.ChannelID)

	s.bus.Publish(domain.InboundMessage{
		SenderID:       cmd.UserID,
		ConversationID: cmd.ChannelID,
		Content:        content,
		ReceivedAt:     time.Now(),
		Kind:           domain.KindCommand,
	})
}

func (s *Slack) sendMessage(channelID, content string) {
	for _, chunk := range splitSlackMessage(content, slackMaxMsgLen) {
		_, _, err := s.client.PostMessage(channelID, slack.MsgOptionText(chunk, false), slack.MsgOptionAsUser(true))
		if err != nil {
			s.logger.Error("slack send failed", "channel", channelID, "err", err)
		}
	}
}

func splitSlackMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
