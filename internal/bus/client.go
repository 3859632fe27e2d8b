package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/nats-io/nats.go"
)

// StreamName is the JetStream stream that retains dictation events.
const StreamName = "DICTATION"

// Client wraps NATS connection and JetStream context with minimal helpers.
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
	stream bool
	log    *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("loqa-dictate"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "dictation"
	}
	c := &Client{
		conn:   conn,
		js:     js,
		prefix: prefix,
		log:    log.With(slog.String("component", "bus")),
	}
	if err := c.ensureStream(); err != nil {
		c.log.Warn("jetstream unavailable, publishing without retention", slog.String("error", err.Error()))
	} else {
		c.stream = true
	}

	c.log.Info("connected to NATS", slog.String("servers", url), slog.String("subject_prefix", prefix))
	return c, nil
}

func (c *Client) ensureStream() error {
	subjects := []string{c.prefix + ".>"}
	_, err := c.js.StreamInfo(StreamName)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = c.js.AddStream(&nats.StreamConfig{
			Name:     StreamName,
			Subjects: subjects,
			Storage:  nats.FileStorage,
			MaxAge:   7 * 24 * time.Hour,
		})
	}
	return err
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	_ = c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// Handle publishes ev on <prefix>.<event type>. It satisfies the session
// event sink interface.
func (c *Client) Handle(ctx context.Context, ev protocol.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subject := protocol.Subject(c.prefix, ev.Type)
	if c.stream {
		if _, err := c.js.Publish(subject, data, nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish %s: %w", subject, err)
		}
		return nil
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers every decoded event published under the prefix until
// ctx is done.
func (c *Client) Subscribe(ctx context.Context, fn func(protocol.Event)) error {
	sub, err := c.conn.Subscribe(c.prefix+".>", func(msg *nats.Msg) {
		var ev protocol.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.log.Warn("dropping undecodable event", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
			return
		}
		fn(ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s.>: %w", c.prefix, err)
	}
	defer func() { _ = sub.Unsubscribe() }()
	<-ctx.Done()
	return nil
}
