package user

// User is the resolved author of an incoming message. The zero ID means the
// connector could not identify the author.
type User struct {
	// ID is the service-assigned snowflake for this user
	ID   string
	Name string

	// Bot is set for any bot account, including ourselves
	Bot bool

	Admin bool
}
