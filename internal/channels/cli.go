package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/bigknoxy/joshbot/internal/bus"
)

const (
	// CLIChatID is the conversation key of the interactive terminal.
	CLIChatID = "cli:direct"

	cliReplyTimeout = 5 * time.Minute
)

var (
	cliPrompt = color.New(color.FgGreen, color.Bold).SprintFunc()
	cliBot    = color.New(color.FgCyan, color.Bold).SprintFunc()
	cliDim    = color.New(color.Faint).SprintFunc()
)

// CLIChannel is the interactive terminal. It reads one line at a time,
// publishes it, and waits for the reply before prompting again.
type CLIChannel struct {
	BaseChannel
	in  io.Reader
	out io.Writer

	mu      sync.Mutex
	replies chan string
	timeout time.Duration
}

// NewCLIChannel creates a terminal channel over in and out.
func NewCLIChannel(b Publisher, in io.Reader, out io.Writer) *CLIChannel {
	return &CLIChannel{
		BaseChannel: NewBaseChannel("cli", b, nil),
		in:          in,
		out:         out,
		replies:     make(chan string, 16),
		timeout:     cliReplyTimeout,
	}
}

// Start runs the input loop until EOF, an exit word, or ctx cancellation.
func (c *CLIChannel) Start(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.printf("%s\n", cliDim("joshbot interactive mode. Type 'exit' to quit."))
	for {
		c.printf("\n%s ", cliPrompt("you>"))
		var line string
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			c.printf("\nGoodbye!\n")
			return err
		case line = <-lines:
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		switch strings.ToLower(text) {
		case "exit", "quit", "bye":
			c.printf("Goodbye!\n")
			return nil
		}

		c.drain()
		if !c.HandleMessage(&bus.InboundMessage{
			ChatID:     CLIChatID,
			SenderID:   "user",
			SenderName: "user",
			Content:    text,
		}) {
			c.printf("%s\n", cliDim("(busy, message dropped)"))
			continue
		}
		c.printf("%s\n", cliDim("Thinking..."))

		select {
		case <-ctx.Done():
			return nil
		case reply := <-c.replies:
			c.printReply(reply)
		case <-time.After(c.timeout):
			c.printf("%s\n", cliDim("(Response timed out)"))
		}
	}
}

// Stop is a no-op; Start returns when its context ends.
func (c *CLIChannel) Stop() error { return nil }

// Send hands a reply to the input loop, or prints it directly when no turn
// is waiting.
func (c *CLIChannel) Send(_ context.Context, _ string, text string) error {
	select {
	case c.replies <- text:
	default:
		c.printReply(text)
	}
	return nil
}

func (c *CLIChannel) drain() {
	for {
		select {
		case reply := <-c.replies:
			c.printReply(reply)
		default:
			return
		}
	}
}

func (c *CLIChannel) printReply(text string) {
	c.printf("\n%s %s\n", cliBot("joshbot>"), text)
}

func (c *CLIChannel) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
