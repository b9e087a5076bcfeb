package ops

import (
	"errors"
	"fmt"
	"log"
)

var (
	// ErrDuplicateCommand indicates a command is bound more than once.
	ErrDuplicateCommand = errors.New("duplicate command")
	// ErrNoOperation indicates a binding without an operation.
	ErrNoOperation = errors.New("no operation")
)

// Binding binds a command to an operation.
type Binding struct {
	Command   Command
	Title     string
	Operation Operation
}

// Registry is an immutable mapping from commands to operations.
type Registry struct {
	bindings []Binding
	index    map[Command]Operation
}

// NewRegistry creates a Registry. The order of bindings is kept for
// presentation.
func NewRegistry(bindings ...Binding) (*Registry, error) {
	r := &Registry{
		bindings: make([]Binding, 0, len(bindings)),
		index:    make(map[Command]Operation, len(bindings)),
	}
	for _, b := range bindings {
		if b.Operation == nil {
			return nil, fmt.Errorf("command %s: %w", b.Command, ErrNoOperation)
		}
		if _, exist := r.index[b.Command]; exist {
			return nil, fmt.Errorf("command %s: %w", b.Command, ErrDuplicateCommand)
		}
		r.index[b.Command] = b.Operation
		r.bindings = append(r.bindings, b)
	}
	return r, nil
}

// MustNewRegistry creates a Registry and fails on error.
func MustNewRegistry(bindings ...Binding) *Registry {
	r, err := NewRegistry(bindings...)
	if err != nil {
		log.Fatalln(err)
	}
	return r
}

// Resolve returns the operation bound to cmd.
func (r *Registry) Resolve(cmd Command) (Operation, bool) {
	op, ok := r.index[cmd]
	return op, ok
}

// Bindings returns a copy of all bindings in registration order.
func (r *Registry) Bindings() []Binding {
	return append([]Binding(nil), r.bindings...)
}

// Operations are the collaborators behind the documented commands.
type Operations struct {
	Download        Operation
	TestProtections Operation
	TestUserCode    Operation
	MultiDownload   Operation
	Validate        Operation
}

// Standard creates the Registry of the documented commands '1' to '5'.
func Standard(o Operations) (*Registry, error) {
	return NewRegistry(
		Binding{Command: CmdDownload, Title: "Download a new Fw Image", Operation: o.Download},
		Binding{Command: CmdTestProtections, Title: "Test Protections", Operation: o.TestProtections},
		Binding{Command: CmdTestUserCode, Title: "Test SE User Code", Operation: o.TestUserCode},
		Binding{Command: CmdMultiDownload, Title: "Multiple download", Operation: o.MultiDownload},
		Binding{Command: CmdValidate, Title: "Validate a FW Image", Operation: o.Validate},
	)
}
