package commands

import (
	"github.com/bwmarrin/discordgo"

	apperrors "github.com/z3i0/MusicBot/internal/errors"
)

// tone picks an embed's color and the icon a status line leads with
type tone int

const (
	toneNeutral tone = iota
	toneOK
	toneInfo
	toneError
)

func (t tone) color() int {
	switch t {
	case toneOK:
		return 0x57F287
	case toneInfo:
		return 0x3498DB
	case toneError:
		return 0xED4245
	}
	return 0x5865F2
}

// reply answers one interaction. After hold, messages go out as follow-ups.
type reply struct {
	s    *discordgo.Session
	i    *discordgo.InteractionCreate
	held bool
}

func newReply(s *discordgo.Session, i *discordgo.InteractionCreate) *reply {
	return &reply{s: s, i: i}
}

// hold acknowledges the interaction now so a slow command can answer later
func (r *reply) hold() error {
	err := r.s.InteractionRespond(r.i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		return err
	}
	r.held = true
	return nil
}

func (r *reply) send(embed *discordgo.MessageEmbed, components ...discordgo.MessageComponent) error {
	embeds := []*discordgo.MessageEmbed{embed}
	if r.held {
		_, err := r.s.FollowupMessageCreate(r.i.Interaction, false, &discordgo.WebhookParams{
			Embeds:     embeds,
			Components: components,
		})
		return err
	}
	return r.s.InteractionRespond(r.i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds:     embeds,
			Components: components,
		},
	})
}

// update replaces the message a component was clicked on
func (r *reply) update(embed *discordgo.MessageEmbed, components []discordgo.MessageComponent) error {
	return r.s.InteractionRespond(r.i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: components,
		},
	})
}

// fail reports err with its user-facing message
func (r *reply) fail(err error) error {
	return r.send(errorEmbed(err))
}

func (r *reply) status(t tone, msg string) error {
	return r.send(statusEmbed(t, msg))
}

func statusEmbed(t tone, msg string) *discordgo.MessageEmbed {
	switch t {
	case toneOK:
		msg = "✅ " + msg
	case toneError:
		msg = "❌ " + msg
	}
	return &discordgo.MessageEmbed{Description: msg, Color: t.color()}
}

func errorEmbed(err error) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Description: apperrors.GetUserMessage(err),
		Color:       toneError.color(),
	}
}

// card is a titled embed; empty fields are left out
func card(title, description string, t tone, fields ...*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       t.color(),
	}
	for _, f := range fields {
		if f != nil && f.Value != "" {
			embed.Fields = append(embed.Fields, f)
		}
	}
	return embed
}

func field(name, value string) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: true}
}

func section(name, value string) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: name, Value: value}
}

func footer(text string) *discordgo.MessageEmbedFooter {
	return &discordgo.MessageEmbedFooter{Text: text}
}

func thumbnail(url string) *discordgo.MessageEmbedThumbnail {
	if url == "" {
		return nil
	}
	return &discordgo.MessageEmbedThumbnail{URL: url}
}
