package chat

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"veilchat/internal/domain"
	"veilchat/internal/protocol/wire"
)

var (
	// ErrNotCommand is returned by ParseCommand for ordinary chat text.
	ErrNotCommand = errors.New("not a command")
	// ErrUnknownCommand names a slash command that does not exist.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUsage means a known command had bad arguments.
	ErrUsage = errors.New("bad command usage")
)

// Command is one of the user commands below. The set is closed.
type Command interface{ command() }

type (
	Help    struct{}
	Quit    struct{}
	Clear   struct{}
	WhoAmI  struct{}
	History struct{}
	Users   struct{}
	// Log turns local message logging on or off.
	Log struct{ Enable bool }
)

func (Help) command()    {}
func (Quit) command()    {}
func (Clear) command()   {}
func (WhoAmI) command()  {}
func (History) command() {}
func (Users) command()   {}
func (Log) command()     {}

// Usage describes one command for a help screen.
type Usage struct {
	Syntax  string
	Summary string
}

// Commands lists every command in the order help shows them.
var Commands = []Usage{
	{"/help", "show this help"},
	{"/quit", "disconnect and exit"},
	{"/clear", "clear the local message view"},
	{"/whoami", "show your identity"},
	{"/log on|off", "enable or disable the encrypted message log"},
	{"/history", "show message history"},
	{"/users", "show who is online"},
}

// ParseCommand turns a line starting with "/" into a Command. Names are
// case-insensitive.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return nil, ErrNotCommand
	}
	fields := strings.Fields(strings.ToLower(line))
	name, args := fields[0], fields[1:]

	noArgs := func(c Command) (Command, error) {
		if len(args) != 0 {
			return nil, fmt.Errorf("%w: %s takes no arguments", ErrUsage, name)
		}
		return c, nil
	}
	switch name {
	case "/help":
		return noArgs(Help{})
	case "/quit":
		return noArgs(Quit{})
	case "/clear":
		return noArgs(Clear{})
	case "/whoami":
		return noArgs(WhoAmI{})
	case "/history":
		return noArgs(History{})
	case "/users":
		return noArgs(Users{})
	case "/log":
		if len(args) == 1 {
			switch args[0] {
			case "on":
				return Log{Enable: true}, nil
			case "off":
				return Log{Enable: false}, nil
			}
		}
		return nil, fmt.Errorf("%w: /log on|off", ErrUsage)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
}

// Result is what a command produced, for the presentation layer to render.
// Only the fields relevant to the command are set.
type Result struct {
	Command  Command
	Help     []Usage
	Identity domain.Identity
	Online   []domain.Identity
	History  []domain.Message
	// Corrupt lists log entries that could not be read, in file order.
	Corrupt []error
	Logging bool
	// Quit means the session has ended; Clear that the view should be wiped.
	Quit  bool
	Clear bool
}

// Execute runs cmd against the session.
func (c *Client) Execute(cmd Command) (Result, error) {
	r := Result{Command: cmd}
	switch cmd := cmd.(type) {
	case Help:
		r.Help = Commands
	case Quit:
		r.Quit = true
		return r, c.Quit()
	case Clear:
		c.timeline.Clear()
		r.Clear = true
	case WhoAmI:
		r.Identity = c.id
	case Log:
		if err := c.SetLogging(cmd.Enable); err != nil {
			return r, err
		}
		r.Logging = cmd.Enable
	case History:
		r.History, r.Corrupt = c.History()
	case Users:
		r.Online = c.Online()
		if err := c.RequestUsers(); err != nil {
			return r, err
		}
	default:
		return r, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
	return r, nil
}

// Online is the last known list of online identities.
func (c *Client) Online() []domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Identity(nil), c.online...)
}

// RequestUsers asks the relay for a fresh online list. It arrives as a
// PresenceEvent.
func (c *Client) RequestUsers() error {
	return c.write(wire.KindCommand, wire.CommandBody{Op: wire.OpUsers})
}

// SetLogging turns the message log on or off.
func (c *Client) SetLogging(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.msgLog == nil {
		return ErrLogUnavailable
	}
	c.logOn = on
	return nil
}

// History returns the decrypted log when one is configured, and otherwise
// the messages still visible under the lifecycle policy.
func (c *Client) History() ([]domain.Message, []error) {
	c.mu.Lock()
	l := c.msgLog
	c.mu.Unlock()
	if l == nil {
		return c.timeline.Visible(), nil
	}
	return Collect(l.ReadAll())
}

// Collect drains a log iterator into messages and per-entry errors.
func Collect(seq iter.Seq2[domain.Message, error]) ([]domain.Message, []error) {
	var (
		msgs []domain.Message
		errs []error
	)
	for m, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, errs
}

// Quit asks the relay to end the session and waits briefly for it to
// acknowledge before closing.
func (c *Client) Quit() error {
	c.mu.Lock()
	c.quitting = true
	c.mu.Unlock()

	if err := c.write(wire.KindCommand, wire.CommandBody{Op: wire.OpQuit}); err != nil && !errors.Is(err, ErrClosed) {
		c.log.WithError(err).Debug("quit not sent")
	}
	select {
	case <-c.done:
	case <-time.After(quitWait):
	}
	return c.Close()
}
