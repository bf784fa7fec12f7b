// Package nats carries analysis wake-up signals between the API and workers.
// Messages are hints only: the persisted processing queue stays authoritative.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docvault/internal/infrastructure/resilience"
)

const (
	DefaultSubject = "documents.analyze"
	workerGroup    = "workers"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

type Notifier struct {
	conn     *nats.Conn
	pub      publisher
	subject  string
	executor *resilience.Executor
	now      func() time.Time
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

type analysisRequested struct {
	DocumentID  string    `json:"documentId"`
	RequestedAt time.Time `json:"requestedAt"`
}

func New(url, subject string, options Options) (*Notifier, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(
		url,
		nats.Name("docvault"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Notifier{
		conn:     conn,
		pub:      conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (n *Notifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

func (n *Notifier) PublishAnalysisRequested(ctx context.Context, documentID string) error {
	payload, err := json.Marshal(analysisRequested{DocumentID: documentID, RequestedAt: n.now()})
	if err != nil {
		return fmt.Errorf("marshal analysis request: %w", err)
	}

	err = n.executor.Execute(ctx, "nats.publish", func(_ context.Context) error {
		if err := n.pub.Publish(n.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}, classifyPublishError)
	if err != nil {
		return publishFailure(err)
	}
	return nil
}

// SubscribeAnalysisRequested joins the worker queue group so each signal
// reaches one worker, and blocks until ctx is done.
func (n *Notifier) SubscribeAnalysisRequested(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := n.conn.QueueSubscribe(n.subject, workerGroup, func(msg *nats.Msg) {
		handleMessage(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := n.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := n.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func handleMessage(ctx context.Context, msg *nats.Msg, handler func(context.Context, string) error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	documentID, err := decodeDocumentID(msg.Data)
	if err != nil {
		slog.Warn("nats_message_invalid", "subject", msg.Subject, "error", err)
		return
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := handler(handlerCtx, documentID); err != nil {
		slog.Error("analysis_handler_failed", "document_id", documentID, "error", err)
	}
}

// decodeDocumentID accepts the JSON envelope and bare document ids.
func decodeDocumentID(data []byte) (string, error) {
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return "", fmt.Errorf("empty message")
	}
	if !strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	var msg analysisRequested
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return "", fmt.Errorf("decode analysis request: %w", err)
	}
	if strings.TrimSpace(msg.DocumentID) == "" {
		return "", fmt.Errorf("analysis request without documentId")
	}
	return strings.TrimSpace(msg.DocumentID), nil
}
