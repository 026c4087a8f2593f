package publish

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// channelSender is the part of *discordgo.Session used to post messages.
type channelSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordChannel posts final segments to a Discord channel through the bot
// REST API. The gateway is never opened.
type DiscordChannel struct {
	session   channelSender
	channelID string
}

// NewDiscordChannel creates a bot session for token.
func NewDiscordChannel(token, channelID string) (*DiscordChannel, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordChannel{session: s, channelID: channelID}, nil
}

// Publish implements Sink.
func (d *DiscordChannel) Publish(ctx context.Context, seg Segment) error {
	if !seg.Final {
		return nil
	}
	if _, err := d.session.ChannelMessageSend(d.channelID, formatSegment(seg), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord channel %s: %w", d.channelID, err)
	}
	return nil
}
