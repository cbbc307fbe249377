package discord

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/tuxbot-bot/tuxbot/bot"
	"github.com/tuxbot-bot/tuxbot/bot/msg"
	"github.com/tuxbot-bot/tuxbot/bot/user"
	"github.com/tuxbot-bot/tuxbot/config"
)

type Discord struct {
	config *config.Config
	client *discordgo.Session

	event bot.Callback
	me    *user.User
}

func New(cfg *config.Config, token string) (*Discord, error) {
	client, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &Discord{
		config: cfg,
		client: client,
	}, nil
}

func (d *Discord) RegisterEvent(callback bot.Callback) {
	d.event = callback
}

func (d *Discord) Serve() error {
	log.Debug().Msg("starting discord serve function")

	d.client.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	d.client.AddHandler(d.messageCreate)
	d.client.AddHandler(d.guildCreate)
	d.client.AddHandler(d.guildDelete)
	d.client.AddHandler(d.connect)
	d.client.AddHandler(d.disconnect)
	d.client.AddHandler(d.resumed)
	d.client.AddHandler(d.rawEvent)

	if err := d.client.Open(); err != nil {
		return fmt.Errorf("opening gateway: %w", err)
	}

	if u := d.client.State.User; u != nil {
		d.me = &user.User{ID: u.ID, Name: u.Username, Bot: true}
	}

	log.Debug().Msg("discord connection open")
	return nil
}

func (d *Discord) Close() error {
	return d.client.Close()
}

func (d *Discord) BotUser() *user.User { return d.me }

func (d *Discord) Send(kind bot.Kind, args ...interface{}) (string, error) {
	switch kind {
	case bot.Message:
		st, err := d.client.ChannelMessageSend(args[0].(string), args[1].(string))
		if err != nil {
			return "", err
		}
		return st.ID, nil
	case bot.Reply:
		ref := &discordgo.MessageReference{
			ChannelID: args[0].(string),
			MessageID: args[1].(string),
		}
		st, err := d.client.ChannelMessageSendReply(args[0].(string), args[2].(string), ref)
		if err != nil {
			return "", err
		}
		return st.ID, nil
	case bot.DM:
		ch, err := d.client.UserChannelCreate(args[0].(string))
		if err != nil {
			return "", err
		}
		st, err := d.client.ChannelMessageSend(ch.ID, args[1].(string))
		if err != nil {
			return "", err
		}
		return st.ID, nil
	default:
		log.Error().Msgf("discord.Send: unknown kind, %+v", kind)
		return "", fmt.Errorf("unknown message kind %d", kind)
	}
}

func (d *Discord) Profile(id string) (user.User, error) {
	u, err := d.client.User(id)
	if err != nil {
		log.Error().Err(err).Msg("Error getting user")
		return user.User{}, err
	}
	return user.User{ID: u.ID, Name: u.Username, Bot: u.Bot}, nil
}

// AppOwners returns the team member IDs of the registered application, empty
// when the application has no team.
func (d *Discord) AppOwners(ctx context.Context) ([]int64, error) {
	app, err := d.client.Application("@me")
	if err != nil {
		return nil, err
	}
	if app.Team == nil {
		return nil, nil
	}
	ids := make([]int64, 0, len(app.Team.Members))
	for _, m := range app.Team.Members {
		if m.User == nil {
			continue
		}
		id, err := strconv.ParseInt(m.User.ID, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (d *Discord) ExecuteWebhook(id, token string, w *bot.WebhookPayload) error {
	params := &discordgo.WebhookParams{Content: w.Content}
	for _, e := range w.Embeds {
		params.Embeds = append(params.Embeds, toEmbed(e))
	}
	_, err := d.client.WebhookExecute(id, token, false, params)
	return err
}

func toEmbed(e *bot.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.Format(time.RFC3339)
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return out
}

func (d *Discord) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if d.event == nil || m.Author == nil {
		return
	}

	message := msg.Message{
		ID: m.ID,
		User: &user.User{
			ID:   m.Author.ID,
			Name: m.Author.Username,
			Bot:  m.Author.Bot,
		},
		Channel: m.ChannelID,
		Guild:   m.GuildID,
		IsIM:    m.GuildID == "",
		Body:    m.Content,
		Raw:     m,
		Time:    m.Timestamp,
	}

	log.Debug().Interface("msg", message).Msg("message received")
	d.event(d, bot.IncomingMessage, message)
}

func (d *Discord) guildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if d.event == nil || g.Guild == nil {
		return
	}
	// GuildCreate also fires once per known guild on (re)connect; only a
	// recent JoinedAt is an actual join.
	if time.Since(g.JoinedAt) > time.Minute {
		return
	}
	d.event(d, bot.GuildJoin, msg.Message{}, &bot.Guild{
		ID:          g.ID,
		Name:        g.Name,
		OwnerID:     g.OwnerID,
		MemberCount: g.MemberCount,
		JoinedAt:    g.JoinedAt,
	})
}

func (d *Discord) guildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	if d.event == nil || g.Guild == nil {
		return
	}
	d.event(d, bot.GuildRemove, msg.Message{}, &bot.Guild{
		ID:   g.ID,
		Name: g.Name,
	})
}

func (d *Discord) connect(s *discordgo.Session, e *discordgo.Connect) {
	d.gateway("INFO", "Connected to gateway")
}

func (d *Discord) disconnect(s *discordgo.Session, e *discordgo.Disconnect) {
	d.gateway("WARNING", "Websocket closed, reconnecting")
}

func (d *Discord) resumed(s *discordgo.Session, e *discordgo.Resumed) {
	d.gateway("INFO", "Session resumed")
}

func (d *Discord) gateway(level, message string) {
	if d.event == nil {
		return
	}
	d.event(d, bot.GatewayStatus, msg.Message{}, &bot.GatewayRecord{
		Level:   level,
		Message: message,
		Time:    time.Now(),
	})
}

func (d *Discord) rawEvent(s *discordgo.Session, e *discordgo.Event) {
	if d.event == nil || e.Type == "" {
		return
	}
	d.event(d, bot.RawSocket, msg.Message{}, e.Type)
}
