package commands

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/z3i0/MusicBot/internal/domain/entities"
	"github.com/z3i0/MusicBot/internal/domain/valueobjects"
)

const itemsPerPage = 10

// createPaginationButtons creates navigation buttons for pagination
func createPaginationButtons(page, totalPages int, customIDPrefix string) []discordgo.MessageComponent {
	if totalPages <= 1 {
		return nil
	}

	buttons := []discordgo.MessageComponent{
		discordgo.Button{
			Label:    "⏮️",
			Style:    discordgo.SecondaryButton,
			CustomID: customIDPrefix + ":first",
			Disabled: page == 0,
		},
		discordgo.Button{
			Label:    "◀️",
			Style:    discordgo.PrimaryButton,
			CustomID: customIDPrefix + ":prev",
			Disabled: page == 0,
		},
		discordgo.Button{
			Label:    fmt.Sprintf("Page %d/%d", page+1, totalPages),
			Style:    discordgo.SecondaryButton,
			CustomID: fmt.Sprintf("%s:current:%d", customIDPrefix, page),
			Disabled: true,
		},
		discordgo.Button{
			Label:    "▶️",
			Style:    discordgo.PrimaryButton,
			CustomID: customIDPrefix + ":next",
			Disabled: page >= totalPages-1,
		},
		discordgo.Button{
			Label:    "⏭️",
			Style:    discordgo.SecondaryButton,
			CustomID: customIDPrefix + ":last",
			Disabled: page >= totalPages-1,
		},
	}

	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: buttons},
	}
}

func pageCount(items int) int {
	if items == 0 {
		return 1
	}
	return (items + itemsPerPage - 1) / itemsPerPage
}

// buildQueuePage renders one page of the upcoming queue under the current
// track
func buildQueuePage(state entities.PlaybackState, page int) (*discordgo.MessageEmbed, []discordgo.MessageComponent) {
	if state.CurrentTrack == nil && len(state.Queue) == 0 {
		return card("Queue", "The queue is empty. Use `/play` to add songs!", toneInfo), nil
	}

	total := len(state.Queue)
	totalPages := pageCount(total)
	if page < 0 {
		page = 0
	}
	if page >= totalPages {
		page = totalPages - 1
	}

	var sb strings.Builder
	if state.CurrentTrack != nil {
		fmt.Fprintf(&sb, "%s **%s** `[%s]`\n\n",
			statusIcon(state.Status),
			truncate(state.CurrentTrack.DisplayName(), 50),
			state.CurrentTrack.DurationFormatted())
	}

	start := page * itemsPerPage
	end := start + itemsPerPage
	if end > total {
		end = total
	}
	for i := start; i < end; i++ {
		t := state.Queue[i]
		fmt.Fprintf(&sb, "`%2d.` **%s** `[%s]`\n", i+1, truncate(t.DisplayName(), 50), t.DurationFormatted())
	}
	if total == 0 {
		sb.WriteString("_Nothing queued after this track_")
	}

	summary := fmt.Sprintf("Up next: %d songs • %s", total, state.Status)
	if total > 0 {
		summary = fmt.Sprintf("Up next: %d songs • Showing %d-%d • %s", total, start+1, end, state.Status)
	}

	embed := card(fmt.Sprintf("Music Queue (Page %d/%d)", page+1, totalPages), sb.String(), toneNeutral)
	embed.Footer = footer(summary)

	return embed, createPaginationButtons(page, totalPages, "queue")
}

func statusIcon(status valueobjects.PlaybackStatus) string {
	switch status {
	case valueobjects.StatusPlaying:
		return "▶️"
	case valueobjects.StatusPaused:
		return "⏸️"
	case valueobjects.StatusResolving:
		return "⏳"
	}
	return "⏹️"
}
