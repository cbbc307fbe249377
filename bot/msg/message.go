package msg

import (
	"time"

	"github.com/tuxbot-bot/tuxbot/bot/user"
)

type Messages []Message

type Message struct {
	ID   string
	User *user.User
	// Channel is the ID of the channel the message arrived on
	Channel     string
	ChannelName string
	// Guild is empty for direct messages
	Guild string
	Body  string
	IsIM  bool
	Raw   interface{}
	Time  time.Time
}
