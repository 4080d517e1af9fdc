package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// DiscordSender posts to one Discord channel through the bot REST API. No
// gateway connection is opened.
type DiscordSender struct {
	session   *discordgo.Session
	channelID string
}

func NewDiscordSender(botToken, channelID string) (*DiscordSender, error) {
	if botToken == "" || channelID == "" {
		return nil, fmt.Errorf("discord bot token and channel id are required")
	}
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	return &DiscordSender{session: session, channelID: channelID}, nil
}

func (s *DiscordSender) Name() string { return "discord" }

func (s *DiscordSender) Send(ctx context.Context, text string) error {
	// Discord rejects messages over 2000 characters.
	if len(text) > 2000 {
		text = text[:1997] + "..."
	}
	_, err := s.session.ChannelMessageSend(s.channelID, text, discordgo.WithContext(ctx))
	return err
}
