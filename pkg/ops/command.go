// Package ops binds operator commands to the long running operations of the
// user app.
package ops

import "fmt"

// Command is a single byte operator command.
type Command byte

// Documented commands.
const (
	CmdDownload        Command = '1'
	CmdTestProtections Command = '2'
	CmdTestUserCode    Command = '3'
	CmdMultiDownload   Command = '4'
	CmdValidate        Command = '5'
)

// String returns the command as it appears on the terminal.
func (c Command) String() string {
	if c >= 0x20 && c < 0x7f {
		return fmt.Sprintf("'%c'", byte(c))
	}
	return fmt.Sprintf("0x%02x", byte(c))
}

// Operation is an opaque, blocking procedure bound to a command. Whatever it
// reports, it reports through its own output; the caller observes nothing
// but its return.
type Operation interface {
	Invoke()
}

// OperationFunc is the func form of Operation.
type OperationFunc func()

// Invoke implements Operation.
func (f OperationFunc) Invoke() {
	f()
}
