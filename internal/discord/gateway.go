package discord

import (
	"context"
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"

	"github.com/psds-microservice/support-bot/internal/platform"
)

// Intents the bot needs: guild channels and members, guild and direct messages with content.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

// Handler is the dispatcher gateway events are delivered to.
type Handler interface {
	HandleMessage(ctx context.Context, msg platform.Message)
	HandleMessageEdit(ctx context.Context, msg platform.Message)
	HandleMessageDelete(ctx context.Context, channelID, messageID string)
	HandleInteraction(ctx context.Context, in platform.Interaction)
}

// NewSession creates a session with the intents the bot needs. It is not opened.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = Intents
	return s, nil
}

// Attach routes the session's events to h. ctx is handed to every handler and must
// live as long as the session.
func Attach(ctx context.Context, s *discordgo.Session, h Handler) {
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		log.Printf("discord: connected as %s#%s", r.User.Username, r.User.Discriminator)
	})
	s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		h.HandleMessage(ctx, toMessage(m.Message))
	})
	s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
		if m.Message == nil || m.Author == nil {
			// embed unfurls arrive as partial updates without an author
			return
		}
		h.HandleMessageEdit(ctx, toMessage(m.Message))
	})
	s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageDelete) {
		h.HandleMessageDelete(ctx, m.ChannelID, m.ID)
	})
	s.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		h.HandleInteraction(ctx, toInteraction(i.Interaction))
	})
}

// RegisterCommands replaces the guild's slash commands with cmds.
func RegisterCommands(s *discordgo.Session, guildID string, cmds []platform.Command) error {
	if s.State == nil || s.State.User == nil {
		return fmt.Errorf("register commands: session not ready")
	}
	if _, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, guildID, toCommands(cmds)); err != nil {
		return mapError("register commands", err)
	}
	return nil
}
