package sh

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/userapp/pkg/com"
	fx "github.com/robotalks/userapp/pkg/framework"
	"github.com/robotalks/userapp/pkg/ops"
)

// Shell provides ishell backed operator terminal for a user app.
type Shell struct {
	Interactive bool
	ChannelURL  string
	AutoConnect bool

	Shell *ishell.Shell
	// Out receives everything the device writes.
	Out io.Writer

	lock sync.Mutex
	conn *Conn
}

// Conn is a device connection with its output pump running.
type Conn struct {
	URL     string
	Channel com.Channel

	cancel func()
	done   chan struct{}
}

// Selection maps a shell command to a command byte of the device menu.
type Selection struct {
	Name    string
	Aliases []string
	Command ops.Command
	Help    string
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "

	pollInterval = 100 * time.Millisecond
)

var errNotConnected = errors.New("not connected")

var (
	// flags

	evalOnly   bool
	channelURL = "tcp://localhost:5000"

	// Selections are the menu entries of the device.
	Selections = []Selection{
		{Name: "download", Aliases: []string{"dl"}, Command: ops.CmdDownload, Help: "Download a new Fw Image"},
		{Name: "protections", Aliases: []string{"prot"}, Command: ops.CmdTestProtections, Help: "Test Protections"},
		{Name: "usercode", Aliases: []string{"uc"}, Command: ops.CmdTestUserCode, Help: "Test SE User Code"},
		{Name: "multi", Aliases: []string{"md"}, Command: ops.CmdMultiDownload, Help: "Multiple download"},
		{Name: "validate", Aliases: []string{"v"}, Command: ops.CmdValidate, Help: "Validate a FW Image"},
	}

	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
		&SendCmd,
		&RawCmd,
	}
)

func init() {
	if val := os.Getenv("FWTERM_CHANNEL"); val != "" {
		channelURL = val
	}
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.StringVar(&channelURL, "connect", channelURL, "Device channel URL (tcp://, ws://, serial://).")
}

// New creates a new shell.
func New(channelURL string) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		ChannelURL:  channelURL,
		Shell:       ishell.New(),
		Out:         os.Stdout,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	for _, sel := range Selections {
		s.Shell.AddCmd(sel.Cmd())
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// ParseByte parses a single character or a number (e.g. 0x31) into a byte.
func ParseByte(arg string) (byte, error) {
	if len(arg) == 1 {
		return arg[0], nil
	}
	val, err := strconv.ParseUint(arg, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte %q", arg)
	}
	return byte(val), nil
}

// Cmd creates the shell command sending the selection.
func (sel Selection) Cmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name:    sel.Name,
		Aliases: sel.Aliases,
		Help:    sel.Help,
		Func: func(c *ishell.Context) {
			if err := ShellFrom(c).Send(byte(sel.Command)); err != nil {
				c.Err(err)
			}
		},
	}
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Connected returns the current connection, or nil.
func (s *Shell) Connected() *Conn {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.conn
}

// Connect opens the device channel and echoes its output to Out.
// An existing connection is replaced.
func (s *Shell) Connect(channelURL string) error {
	ch, err := com.Open(channelURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	conn := &Conn{URL: channelURL, Channel: ch, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(conn.done)
		err := fx.RunWithContextCloser(ctx, channelCloser{ch}, func() error {
			return pump(ch, s.Out)
		})
		if err != nil && err != context.Canceled {
			fmt.Fprintf(s.Out, "\n[%s] disconnected: %v\n", channelURL, err)
		}
	}()

	s.lock.Lock()
	prev := s.conn
	s.conn = conn
	s.lock.Unlock()
	if prev != nil {
		prev.Close()
	}
	s.setPrompt(fmt.Sprintf("[%s] > ", channelURL))
	return nil
}

// Disconnect disconnects current device.
func (s *Shell) Disconnect() {
	s.lock.Lock()
	conn := s.conn
	s.conn = nil
	s.lock.Unlock()
	if conn != nil {
		conn.Close()
		s.setPrompt(unconnectedPrompt)
	}
}

// Send writes bytes to the device.
func (s *Shell) Send(data ...byte) error {
	conn := s.Connected()
	if conn == nil {
		return errNotConnected
	}
	_, err := conn.Channel.Write(data)
	return err
}

func (s *Shell) setPrompt(prompt string) {
	if s.Shell != nil {
		s.Shell.SetPrompt(prompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect && s.ChannelURL != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.ChannelURL)
		}
		if err := s.Connect(s.ChannelURL); err != nil {
			log.Fatalf("connect %q failed: %v", s.ChannelURL, err)
		}
	}

	if len(args) > 0 {
		err := s.Shell.Process(args...)
		s.Disconnect()
		if err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		s.Disconnect()
		return
	}
	log.Fatalln("command expected")
}

// Close stops the output pump and closes the channel.
func (c *Conn) Close() {
	c.cancel()
	<-c.done
}

// Done is closed when the connection stopped.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

type channelCloser struct {
	com.Channel
}

func (c channelCloser) Close() error {
	return com.CloseChannel(c.Channel)
}

func pump(ch com.Channel, out io.Writer) error {
	var buf [1]byte
	for {
		b, err := ch.ReceiveByte(pollInterval)
		switch {
		case err == nil:
			buf[0] = b
			out.Write(buf[:])
		case com.IsTimeout(err):
		default:
			return err
		}
	}
}

var (
	// ConnectCmd connects a device.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[URL]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			url := s.ChannelURL
			if len(c.Args) > 0 {
				url = c.Args[0]
			}
			if url == "" {
				c.Err(fmt.Errorf("channel URL required"))
				return
			}
			if err := s.Connect(url); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current device.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// SendCmd sends arbitrary command bytes.
	SendCmd = ishell.Cmd{
		Name: "send",
		Help: "BYTE...",
		Func: func(c *ishell.Context) {
			if len(c.Args) == 0 {
				c.Err(fmt.Errorf("at least one byte expected"))
				return
			}
			data := make([]byte, len(c.Args))
			for n, arg := range c.Args {
				b, err := ParseByte(arg)
				if err != nil {
					c.Err(err)
					return
				}
				data[n] = b
			}
			if err := ShellFrom(c).Send(data...); err != nil {
				c.Err(err)
			}
		},
	}

	// RawCmd sends text verbatim.
	RawCmd = ishell.Cmd{
		Name: "raw",
		Help: "TEXT",
		Func: func(c *ishell.Context) {
			if err := ShellFrom(c).Send([]byte(strings.Join(c.Args, " "))...); err != nil {
				c.Err(err)
			}
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(channelURL).WithAutoConnect(true).Run(flag.Args()...)
}
