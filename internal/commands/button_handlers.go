package commands

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/z3i0/MusicBot/internal/domain/entities"
)

// handleButtonInteraction handles pagination button clicks
func (h *Handler) handleButtonInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	parts := strings.Split(i.MessageComponentData().CustomID, ":")
	if len(parts) < 2 || parts[0] != "queue" {
		return
	}

	var state entities.PlaybackState
	if engine, ok := h.backend.Session(i.GuildID); ok {
		state = engine.State()
	}

	current := 0
	if i.Message != nil && len(i.Message.Embeds) > 0 {
		current = pageFromTitle(i.Message.Embeds[0].Title)
	}
	target, ok := targetPage(parts[1], current, pageCount(len(state.Queue)))
	if !ok {
		return
	}

	embed, components := buildQueuePage(state, target)
	if err := newReply(s, i).update(embed, components); err != nil {
		h.logger.WithError(err).Error("Failed to update queue pagination")
	}
}

// targetPage applies a button action; the disabled page label is ignored
func targetPage(action string, current, totalPages int) (int, bool) {
	switch action {
	case "first":
		return 0, true
	case "prev":
		if current > 0 {
			current--
		}
		return current, true
	case "next":
		if current < totalPages-1 {
			current++
		}
		return current, true
	case "last":
		return totalPages - 1, true
	}
	return 0, false
}

// pageFromTitle parses "Music Queue (Page X/Y)" into a 0-based page
func pageFromTitle(title string) int {
	idx := strings.Index(title, "(Page ")
	if idx < 0 {
		return 0
	}
	rest := title[idx+len("(Page "):]
	slash := strings.Index(rest, "/")
	if slash <= 0 {
		return 0
	}
	page, err := strconv.Atoi(rest[:slash])
	if err != nil || page < 1 {
		return 0
	}
	return page - 1
}
