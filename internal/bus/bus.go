// Package bus connects cognitiond to NATS.
//
// It starts an embedded server when configured to, and mirrors execution
// stream events onto subjects of the form
//
//	<prefix>.<execution_id>.<event_type>
//
// so any number of observers can follow an execution without competing for
// the single consumer slot of its stream.Channel.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/while-basic/celaya-parachain-sub000/internal/config"
	"github.com/while-basic/celaya-parachain-sub000/internal/stream"
)

// Conn is a NATS connection plus the embedded server backing it, if any.
type Conn struct {
	NC     *nats.Conn
	server *natsserver.Server
}

// Close closes the connection and stops the embedded server.
func (c *Conn) Close() {
	if c.NC != nil {
		c.NC.Close()
	}
	if c.server != nil {
		c.server.Shutdown()
		c.server.WaitForShutdown()
	}
}

// Connect dials cfg.URL, or starts an embedded JetStream server first when
// cfg.Embedded is set.
func Connect(cfg config.NATSConfig, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	url := cfg.URL

	var srv *natsserver.Server
	if cfg.Embedded {
		storeDir := cfg.StoreDir
		if storeDir == "" {
			storeDir = filepath.Join(os.TempDir(), "cognitiond-jetstream")
		}
		var err error
		srv, err = natsserver.NewServer(&natsserver.Options{
			Host:      "127.0.0.1",
			Port:      -1,
			NoLog:     true,
			NoSigs:    true,
			JetStream: true,
			StoreDir:  storeDir,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedded nats server: %w", err)
		}
		go srv.Start()
		if !srv.ReadyForConnections(5 * time.Second) {
			srv.Shutdown()
			return nil, fmt.Errorf("embedded nats server not ready")
		}
		url = srv.ClientURL()
		logger.Info("started embedded NATS server",
			zap.String("url", url),
			zap.String("store_dir", storeDir))
	}

	nc, err := nats.Connect(url,
		nats.Name("cognitiond"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		if srv != nil {
			srv.Shutdown()
		}
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("connected to NATS", zap.String("url", url))
	return &Conn{NC: nc, server: srv}, nil
}

// closedToken marks the end of an execution's stream. It is not an event
// type, so consumers filtering on known types never see it.
const closedToken = "_closed"

// Bridge mirrors stream events onto NATS. It implements stream.ClosingSink.
type Bridge struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewBridge returns a bridge publishing under prefix.
func NewBridge(nc *nats.Conn, prefix string, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "cognitions"
	}
	return &Bridge{nc: nc, prefix: prefix, logger: logger}
}

// Subject returns the subject an event of type t for execID is published on.
func (b *Bridge) Subject(execID string, t stream.Type) string {
	return fmt.Sprintf("%s.%s.%s", b.prefix, execID, t)
}

// Deliver publishes ev. Publish on a core NATS connection only buffers, so
// this never blocks the orchestrator; failures are logged and dropped.
func (b *Bridge) Deliver(ev stream.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("encoding event for bus", zap.Error(err))
		return
	}
	if err := b.nc.Publish(b.Subject(ev.ExecutionID, ev.Type), data); err != nil {
		b.logger.Warn("publishing event to bus",
			zap.String("execution_id", ev.ExecutionID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}

// StreamClosed publishes the end-of-stream marker for execID.
func (b *Bridge) StreamClosed(execID string) {
	if err := b.nc.Publish(fmt.Sprintf("%s.%s.%s", b.prefix, execID, closedToken), nil); err != nil {
		b.logger.Warn("publishing end of stream", zap.String("execution_id", execID), zap.Error(err))
	}
}

// Subscribe follows every event for execID published from now on. The
// returned channel closes when ctx is done or the stream is closed.
func (b *Bridge) Subscribe(ctx context.Context, execID string) (<-chan stream.Event, error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := b.nc.ChanSubscribe(fmt.Sprintf("%s.%s.*", b.prefix, execID), msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", execID, err)
	}
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}

	out := make(chan stream.Event, 16)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case msg := <-msgs:
				if strings.HasSuffix(msg.Subject, "."+closedToken) {
					return
				}
				ev, ok := b.decode(msg)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *Bridge) decode(msg *nats.Msg) (stream.Event, bool) {
	idx := strings.LastIndexByte(msg.Subject, '.')
	if idx < 0 {
		return stream.Event{}, false
	}
	t := stream.Type(msg.Subject[idx+1:])
	if !t.Known() {
		return stream.Event{}, false
	}
	var ev stream.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		b.logger.Debug("dropping undecodable bus message",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		return stream.Event{}, false
	}
	ev.Type = t
	return ev, true
}
