package bot

import (
	"errors"
	"fmt"
)

// UsageError is a user-correctable misuse of a command. Dispatch replies to
// the invoking user directly and nothing is forwarded to the external sink.
type UsageError struct {
	reply string
}

func (e *UsageError) Error() string { return e.reply }

// Reply is the text sent back to the user.
func (e *UsageError) Reply() string { return e.reply }

var (
	ErrNoPrivateMessage = &UsageError{"This command cannot be used in private messages."}
	ErrDisabledCommand  = &UsageError{"Sorry. This command is disabled and cannot be used."}
)

// ErrNotOwner marks a failed owner check. Like other permission failures it
// is dropped without a reply.
var ErrNotOwner = errors.New("command is reserved to the bot owners")

// PanicError wraps a recovered handler panic together with the stack at the
// point of recovery.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}
