package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"mazungumzo/internal/chat"
	"mazungumzo/internal/models"
	"mazungumzo/internal/view"
)

// Session is what the command loop needs from a chat session.
type Session interface {
	view.Source
	SelectConversation(id models.ID) error
	SendMessage(content string) error
	NotifyTyping() error
	Open(ctx context.Context) error
}

const help = `Commands:
  /list          show conversations
  /open <id>     make a conversation active
  /show          print the active conversation
  /typing        tell the other side you are typing
  /status        connection status
  /connect       reconnect after the connection was lost
  /help          this text
  /quit          leave
Anything else is sent to the active conversation.`

// REPL is a line-oriented chat front end.
type REPL struct {
	session Session
	out     io.Writer
	styles  styles
	mu      sync.Mutex
}

func NewREPL(session Session, out io.Writer) *REPL {
	return &REPL{session: session, out: out, styles: newStyles(out)}
}

func (r *REPL) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.out, format, args...)
}

// Run reads commands from in until /quit, EOF or ctx is done.
func (r *REPL) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	r.printf("Signed in as %s. Type /help for commands.\n", r.session.Identity().DisplayName())
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			quit, err := r.Execute(ctx, line)
			if err != nil {
				r.printf("%s\n", r.styles.err.Render("error: "+err.Error()))
			}
			if quit {
				return nil
			}
		}
	}
}

// Execute runs one input line and reports whether the user asked to quit.
func (r *REPL) Execute(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, r.send(line)
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		r.printf("%s\n", help)
	case "/list":
		r.printConversations()
	case "/open":
		if arg == "" {
			return false, errors.New("usage: /open <id>")
		}
		if err := r.session.SelectConversation(models.ID(arg)); err != nil {
			return false, err
		}
		r.printActive()
	case "/show":
		r.printActive()
	case "/typing":
		return false, r.session.NotifyTyping()
	case "/status":
		r.printf("%s\n", r.status())
	case "/connect":
		if r.session.Connected() {
			r.printf("Already connected.\n")
			return false, nil
		}
		if err := r.session.Open(ctx); err != nil {
			return false, fmt.Errorf("failed to connect: %w", err)
		}
		r.printf("%s\n", r.status())
	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
	return false, nil
}

func (r *REPL) send(text string) error {
	if err := r.session.SendMessage(text); err != nil {
		return err
	}
	if !r.session.Connected() {
		r.printf("%s\n", r.styles.err.Render("(offline, message not sent)"))
	}
	return nil
}

// HandleUpdate prints what changed. It is meant to be used as the
// session's update callback.
func (r *REPL) HandleUpdate(u chat.Update) {
	if u.History != "" {
		if u.History == r.session.ActiveID() {
			r.printActive()
		}
		return
	}
	if u.Event == nil {
		return
	}

	switch u.Event.Type {
	case models.EventTypeMessage:
		msg := u.Event.Message
		if msg.ConversationID == r.session.ActiveID() {
			r.printMessages(view.MessageItems(r.session.Identity().ID, []models.Message{*msg}))
			return
		}
		if msg.SenderID != r.session.Identity().ID {
			r.printf("%s\n", r.styles.muted.Render(fmt.Sprintf("* new message in %s (%d unread)", msg.ConversationID, r.session.Unread()[msg.ConversationID])))
		}
	case models.EventTypeTyping:
		if r.session.ActiveID() == "" {
			return
		}
		if u.Event.IsTyping {
			r.printf("%s\n", r.styles.muted.Render("* typing..."))
		}
	case models.EventTypeConversationList:
		r.printConversations()
	}
}

func (r *REPL) status() string {
	if r.session.Connected() {
		return r.styles.own.Render("online")
	}
	return r.styles.err.Render("offline")
}

func (r *REPL) printConversations() {
	snap := view.Build(r.session)
	if len(snap.Conversations) == 0 {
		r.printf("No conversations yet.\n")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range snap.Conversations {
		marker, name := " ", c.DisplayName
		if c.Active {
			marker, name = r.styles.active.Render(">"), r.styles.active.Render(c.DisplayName)
		}
		badge := ""
		if c.Unread > 0 {
			badge = " " + r.styles.badge.Render(fmt.Sprintf("[%d]", c.Unread))
		}
		_, _ = fmt.Fprintf(r.out, "%s %-6s %s%s: %s\n", marker, c.ID, name, badge, r.styles.muted.Render(c.Preview))
	}
	if !snap.Connected {
		_, _ = fmt.Fprintln(r.out, r.styles.err.Render("(offline)"))
	}
}

func (r *REPL) printActive() {
	snap := view.Build(r.session)
	if snap.Active == nil {
		r.printf("No active conversation. Use /open <id>.\n")
		return
	}
	r.printf("%s\n", r.styles.title.Render("-- "+snap.Active.DisplayName+" --"))
	r.printMessages(snap.Messages)
	if snap.PeerTyping {
		r.printf("%s\n", r.styles.muted.Render("* typing..."))
	}
}

func (r *REPL) printMessages(items []view.MessageItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range items {
		who := r.styles.other.Render(string(m.SenderID))
		if m.Mine {
			who = r.styles.own.Render("me")
		}
		stamp := r.styles.muted.Render("[" + m.Timestamp.Local().Format("15:04") + "]")
		_, _ = fmt.Fprintf(r.out, "%s %s: %s\n", stamp, who, m.Text)
	}
}
