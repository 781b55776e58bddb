package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// MessageSender is the part of a discordgo session the notifier needs
type MessageSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts plain-text status lines to the session's text channel
type DiscordNotifier struct {
	sender MessageSender
}

// NewDiscordNotifier creates a notifier over a discordgo session
func NewDiscordNotifier(sender MessageSender) *DiscordNotifier {
	return &DiscordNotifier{sender: sender}
}

// Notify sends the event text; QueueChanged and TrackEnded stay silent
func (n *DiscordNotifier) Notify(ctx context.Context, event Event) error {
	if event.TextChannelID == "" {
		return nil
	}

	content := Format(event)
	if content == "" {
		return nil
	}

	_, err := n.sender.ChannelMessageSend(event.TextChannelID, content, discordgo.WithContext(ctx))
	return err
}

// Format renders an event as a chat line
func Format(event Event) string {
	switch event.Type {
	case TrackStarted:
		if event.Track == nil {
			return ""
		}
		return fmt.Sprintf("🎵 Now playing: **%s** `[%s]`", event.Track.DisplayName(), event.Track.DurationFormatted())
	case TrackFailed:
		if event.Track == nil {
			return "⚠️ Could not play the track, skipping"
		}
		return fmt.Sprintf("⚠️ Could not play **%s**, skipping", event.Track.DisplayName())
	case Stopped:
		return "⏹️ Playback stopped"
	}
	return ""
}
