package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/slack-go/slack"

	"github.com/bigknoxy/joshbot/internal/bus"
	"github.com/bigknoxy/joshbot/internal/config"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*bus.InboundMessage
	full bool
}

func (p *fakePublisher) PublishInbound(msg *bus.InboundMessage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.msgs = append(p.msgs, msg)
	return true
}

func (p *fakePublisher) all() []*bus.InboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*bus.InboundMessage{}, p.msgs...)
}

type fakeChannel struct {
	BaseChannel
	mu   sync.Mutex
	sent []string
	err  error
}

func (c *fakeChannel) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
func (c *fakeChannel) Stop() error { return nil }
func (c *fakeChannel) Send(_ context.Context, chatID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, chatID+"|"+text)
	return c.err
}

func TestAllowList(t *testing.T) {
	open := NewBaseChannel("x", &fakePublisher{}, nil)
	if !open.IsAllowed("anyone") {
		t.Error("empty allow list should admit everyone")
	}
	closed := NewBaseChannel("x", &fakePublisher{}, []string{"U1", " alice "})
	for id, want := range map[string]bool{"U1": true, "U2": false, "42|alice": true, "42|bob": false} {
		if got := closed.IsAllowed(id); got != want {
			t.Errorf("IsAllowed(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestHandleMessageDropsUnauthorized(t *testing.T) {
	pub := &fakePublisher{}
	base := NewBaseChannel("slack", pub, []string{"U1"})

	if base.HandleMessage(&bus.InboundMessage{SenderID: "U2", ChatID: "slack:C1", Content: "hi"}) {
		t.Error("unauthorized sender should be dropped")
	}
	if !base.HandleMessage(&bus.InboundMessage{SenderID: "U1", ChatID: "slack:C1", Content: "hi"}) {
		t.Fatal("authorized sender should be published")
	}
	msgs := pub.all()
	if len(msgs) != 1 || msgs[0].Channel != "slack" || msgs[0].Timestamp.IsZero() {
		t.Errorf("unexpected published messages %+v", msgs)
	}

	pub.full = true
	if base.HandleMessage(&bus.InboundMessage{SenderID: "U1", ChatID: "slack:C1", Content: "again"}) {
		t.Error("full queue should report false")
	}
}

func TestManagerRoutesByChannel(t *testing.T) {
	b := bus.NewMessageBus(10)
	m := NewManager(b)
	slackCh := &fakeChannel{BaseChannel: NewBaseChannel("slack", b, nil)}
	kafkaCh := &fakeChannel{BaseChannel: NewBaseChannel("kafka", b, nil)}
	m.Register(slackCh)
	m.Register(kafkaCh)

	ctx := context.Background()
	if err := m.Dispatch(ctx, &bus.OutboundMessage{Channel: "kafka", ChatID: "kafka:room", Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Dispatch(ctx, &bus.OutboundMessage{Channel: "telegram", ChatID: "t", Content: "lost"}); err != nil {
		t.Fatalf("unknown channel should be dropped quietly, got %v", err)
	}
	if len(kafkaCh.sent) != 1 || kafkaCh.sent[0] != "kafka:room|hello" || len(slackCh.sent) != 0 {
		t.Errorf("misrouted: slack=%v kafka=%v", slackCh.sent, kafkaCh.sent)
	}

	slackCh.err = errors.New("rate limited")
	if err := m.Dispatch(ctx, &bus.OutboundMessage{Channel: "slack", ChatID: "c", Content: "x"}); err == nil {
		t.Error("send failure should surface")
	}
	if got := strings.Join(m.Names(), ","); got != "kafka,slack" {
		t.Errorf("Names() = %s", got)
	}
}

func TestManagerStartStopsWithContext(t *testing.T) {
	m := NewManager(nil)
	m.Register(&fakeChannel{BaseChannel: NewBaseChannel("a", &fakePublisher{}, nil)})
	m.Register(&fakeChannel{BaseChannel: NewBaseChannel("b", &fakePublisher{}, nil)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestCLIChannelRoundTrip(t *testing.T) {
	pub := &fakePublisher{}
	in := strings.NewReader("hello\n\nexit\n")
	var out bytes.Buffer
	cli := NewCLIChannel(pub, in, &out)
	cli.timeout = 50 * time.Millisecond
	cli.Send(context.Background(), CLIChatID, "queued before turn")

	if err := cli.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	msgs := pub.all()
	if len(msgs) != 1 || msgs[0].Content != "hello" || msgs[0].ChatID != CLIChatID || msgs[0].Channel != "cli" {
		t.Fatalf("unexpected inbound %+v", msgs)
	}
	text := out.String()
	if !strings.Contains(text, "queued before turn") || !strings.Contains(text, "Goodbye!") {
		t.Errorf("unexpected output:\n%s", text)
	}
}

type fakeReader struct {
	msgs   chan kafka.Message
	closed bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m, ok := <-r.msgs:
		if !ok {
			return kafka.Message{}, io.EOF
		}
		return m, nil
	}
}
func (r *fakeReader) Close() error { r.closed = true; return nil }

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}
func (w *fakeWriter) Close() error { return nil }

func TestKafkaChannel(t *testing.T) {
	pub := &fakePublisher{}
	reader := &fakeReader{msgs: make(chan kafka.Message, 4)}
	writer := &fakeWriter{}
	cfg := config.KafkaConfig{InboundTopic: "in", OutboundTopic: "out", AllowFrom: []string{"svc-a"}}
	ch := newKafkaChannel(cfg, pub, reader, writer)

	good, _ := json.Marshal(KafkaRecord{ChatID: "room-7", SenderID: "svc-a", Content: "status?"})
	denied, _ := json.Marshal(KafkaRecord{ChatID: "room-7", SenderID: "svc-b", Content: "status?"})
	reader.msgs <- kafka.Message{Value: []byte("not json")}
	reader.msgs <- kafka.Message{Value: denied}
	reader.msgs <- kafka.Message{Key: []byte("room-7"), Value: good}
	close(reader.msgs)

	if err := ch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	msgs := pub.all()
	if len(msgs) != 1 || msgs[0].ChatID != "kafka:room-7" || msgs[0].Content != "status?" {
		t.Fatalf("unexpected inbound %+v", msgs)
	}

	if err := ch.Send(context.Background(), "kafka:room-7", "all good"); err != nil {
		t.Fatal(err)
	}
	if len(writer.msgs) != 1 || string(writer.msgs[0].Key) != "room-7" {
		t.Fatalf("unexpected writes %+v", writer.msgs)
	}
	var rec KafkaRecord
	json.Unmarshal(writer.msgs[0].Value, &rec)
	if rec.ChatID != "room-7" || rec.Content != "all good" {
		t.Errorf("unexpected record %+v", rec)
	}
	if err := ch.Stop(); err != nil || !reader.closed {
		t.Errorf("Stop: %v closed=%v", err, reader.closed)
	}
}

type fakePoster struct {
	channels []string
}

func (p *fakePoster) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	p.channels = append(p.channels, channelID)
	return channelID, "1", nil
}

func TestSlackForwardAndSend(t *testing.T) {
	pub := &fakePublisher{}
	poster := &fakePoster{}
	ch := &SlackChannel{BaseChannel: NewBaseChannel("slack", pub, nil), api: poster, botID: "UBOT"}

	ch.forward("U1", "C9", "<@UBOT> what's up")
	ch.forward("UBOT", "C9", "echo of myself")
	ch.forward("U1", "C9", "<@UBOT>")

	msgs := pub.all()
	if len(msgs) != 1 || msgs[0].ChatID != "slack:C9" || msgs[0].Content != "what's up" {
		t.Fatalf("unexpected inbound %+v", msgs)
	}

	if err := ch.Send(context.Background(), "slack:C9", "reply"); err != nil {
		t.Fatal(err)
	}
	if len(poster.channels) != 1 || poster.channels[0] != "C9" {
		t.Errorf("posted to %v", poster.channels)
	}
}

func TestSplitMessage(t *testing.T) {
	text := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	chunks := splitMessage(text, 8)
	if len(chunks) != 2 || chunks[0] != "aaaaaa" || chunks[1] != "bbbbbb" {
		t.Errorf("unexpected chunks %q", chunks)
	}
	if got := splitMessage("short", 8); len(got) != 1 {
		t.Errorf("short text split: %q", got)
	}
}
