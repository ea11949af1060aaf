package discord

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/psds-microservice/support-bot/internal/errs"
	"github.com/psds-microservice/support-bot/internal/platform"
)

// mapError wraps Discord REST failures with the errs sentinel the engine classifies by.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeCannotSendMessagesToThisUser:
			return fmt.Errorf("%s: %v: %w", op, err, errs.ErrDeliveryRefused)
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return fmt.Errorf("%s: %v: %w", op, err, errs.ErrForbidden)
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownWebhook:
			return fmt.Errorf("%s: %v: %w", op, err, errs.ErrGone)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func permissions(p platform.Permission) int64 {
	var out int64
	if p&platform.PermView != 0 {
		out |= discordgo.PermissionViewChannel
	}
	if p&platform.PermSend != 0 {
		out |= discordgo.PermissionSendMessages | discordgo.PermissionSendMessagesInThreads
	}
	if p&platform.PermHistory != 0 {
		out |= discordgo.PermissionReadMessageHistory
	}
	if p&platform.PermAttach != 0 {
		out |= discordgo.PermissionAttachFiles
	}
	return out
}

func toOverwrites(ows []platform.Overwrite) []*discordgo.PermissionOverwrite {
	out := make([]*discordgo.PermissionOverwrite, 0, len(ows))
	for _, o := range ows {
		out = append(out, toOverwrite(o))
	}
	return out
}

func toOverwrite(o platform.Overwrite) *discordgo.PermissionOverwrite {
	kind := discordgo.PermissionOverwriteTypeRole
	if o.Kind == platform.OverwriteMember {
		kind = discordgo.PermissionOverwriteTypeMember
	}
	return &discordgo.PermissionOverwrite{ID: o.ID, Type: kind, Allow: permissions(o.Allow), Deny: permissions(o.Deny)}
}

// hidesFromEveryone reports whether ch denies View Channel to the @everyone role,
// whose id is the guild id.
func hidesFromEveryone(ch *discordgo.Channel, guildID string) bool {
	for _, o := range ch.PermissionOverwrites {
		if o.Type == discordgo.PermissionOverwriteTypeRole && o.ID == guildID {
			return o.Deny&discordgo.PermissionViewChannel != 0
		}
	}
	return false
}

func toChannel(c *discordgo.Channel) platform.Channel {
	return platform.Channel{ID: c.ID, GuildID: c.GuildID, Name: c.Name, Topic: c.Topic, ParentID: c.ParentID}
}

func toUser(u *discordgo.User) platform.User {
	if u == nil {
		return platform.User{}
	}
	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	return platform.User{ID: u.ID, Name: name, AvatarURL: u.AvatarURL(""), Bot: u.Bot}
}

func toMessage(m *discordgo.Message) platform.Message {
	out := platform.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		WebhookID: m.WebhookID,
		Content:   m.Content,
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		u := toUser(m.Author)
		out.AuthorID, out.AuthorName, out.AuthorAvatar = u.ID, u.Name, u.AvatarURL
		out.AuthorBot = m.Author.Bot || m.WebhookID != ""
	}
	switch m.Type {
	case discordgo.MessageTypeDefault, discordgo.MessageTypeReply:
		out.Kind = platform.KindDefault
	case discordgo.MessageTypeThreadCreated:
		out.Kind = platform.KindThreadCreated
	default:
		out.Kind = platform.KindSystem
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, platform.Attachment{ID: a.ID, Filename: a.Filename, URL: a.URL, Size: a.Size})
	}
	for _, e := range m.Embeds {
		out.Embeds = append(out.Embeds, toEmbed(e))
	}
	return out
}

func toEmbed(e *discordgo.MessageEmbed) platform.Embed {
	out := platform.Embed{Title: e.Title, Description: e.Description, Color: e.Color}
	if e.Footer != nil {
		out.Footer = e.Footer.Text
	}
	if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
		out.Timestamp = ts
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, platform.EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return out
}

func fromEmbeds(embeds []platform.Embed) []*discordgo.MessageEmbed {
	out := make([]*discordgo.MessageEmbed, 0, len(embeds))
	for _, e := range embeds {
		me := &discordgo.MessageEmbed{Title: e.Title, Description: e.Description, Color: e.Color}
		if e.Footer != "" {
			me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
		}
		if !e.Timestamp.IsZero() {
			me.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
		}
		for _, f := range e.Fields {
			me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		out = append(out, me)
	}
	return out
}

var buttonStyles = map[platform.ButtonStyle]discordgo.ButtonStyle{
	platform.ButtonPrimary:   discordgo.PrimaryButton,
	platform.ButtonSecondary: discordgo.SecondaryButton,
	platform.ButtonSuccess:   discordgo.SuccessButton,
	platform.ButtonDanger:    discordgo.DangerButton,
}

func components(buttons []platform.Button, sel *platform.Select) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	if len(buttons) > 0 {
		row := discordgo.ActionsRow{}
		for _, b := range buttons {
			row.Components = append(row.Components, discordgo.Button{Label: b.Label, Style: buttonStyles[b.Style], CustomID: b.CustomID})
		}
		rows = append(rows, row)
	}
	if sel != nil {
		menu := discordgo.SelectMenu{CustomID: sel.CustomID, Placeholder: sel.Placeholder}
		for _, o := range sel.Options {
			menu.Options = append(menu.Options, discordgo.SelectMenuOption{Label: o.Label, Value: o.Value})
		}
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{menu}})
	}
	return rows
}

func toInteraction(i *discordgo.Interaction) platform.Interaction {
	in := platform.Interaction{ChannelID: i.ChannelID, GuildID: i.GuildID, Raw: i, Options: map[string]string{}}
	if i.Member != nil {
		in.UserID = i.Member.User.ID
		in.Roles = append([]string(nil), i.Member.Roles...)
	} else if i.User != nil {
		in.UserID = i.User.ID
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		in.Kind, in.Name = platform.InteractionCommand, data.Name
		for _, o := range data.Options {
			in.Options[o.Name] = o.StringValue()
		}
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		in.Kind, in.Name, in.Values = platform.InteractionComponent, data.CustomID, data.Values
	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		in.Kind, in.Name = platform.InteractionModalSubmit, data.CustomID
		for _, c := range data.Components {
			row, ok := c.(*discordgo.ActionsRow)
			if !ok {
				continue
			}
			for _, rc := range row.Components {
				if ti, ok := rc.(*discordgo.TextInput); ok {
					in.Options[ti.CustomID] = ti.Value
				}
			}
		}
	}
	return in
}

func toResponse(i *discordgo.Interaction, r platform.Response) *discordgo.InteractionResponse {
	if r.Modal != nil {
		return &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseModal,
			Data: &discordgo.InteractionResponseData{
				CustomID: r.Modal.CustomID,
				Title:    r.Modal.Title,
				Components: []discordgo.MessageComponent{discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{CustomID: r.Modal.FieldID, Label: r.Modal.Label, Style: discordgo.TextInputShort, Required: true},
				}}},
			},
		}
	}
	if r.Deferred {
		kind := discordgo.InteractionResponseDeferredChannelMessageWithSource
		if i.Type == discordgo.InteractionMessageComponent {
			kind = discordgo.InteractionResponseDeferredMessageUpdate
		}
		return &discordgo.InteractionResponse{Type: kind}
	}
	data := &discordgo.InteractionResponseData{Content: r.Content, Components: components(nil, r.Select)}
	if r.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return &discordgo.InteractionResponse{Type: discordgo.InteractionResponseChannelMessageWithSource, Data: data}
}

func toCommands(cmds []platform.Command) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(cmds))
	for _, c := range cmds {
		ac := &discordgo.ApplicationCommand{Name: c.Name, Description: c.Description}
		for _, o := range c.Options {
			opt := &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        o.Name,
				Description: o.Description,
				Required:    o.Required,
			}
			for _, ch := range o.Choices {
				opt.Choices = append(opt.Choices, &discordgo.ApplicationCommandOptionChoice{Name: ch.Label, Value: ch.Value})
			}
			ac.Options = append(ac.Options, opt)
		}
		out = append(out, ac)
	}
	return out
}
