// Package natsutil provides typed NATS publish/subscribe helpers with
// OpenTelemetry trace propagation and header-based redelivery counting.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// RetryHeader carries how many times a message has been redelivered.
const RetryHeader = "X-Retry-Count"

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Connect dials url with reconnects enabled and connection events logged.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsutil: connect %s: %w", url, err)
	}
	return nc, nil
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	return PublishMsg(ctx, nc, &nats.Msg{Subject: subject, Data: data})
}

// PublishMsg publishes msg after injecting trace context.
func PublishMsg(ctx context.Context, nc *nats.Conn, msg *nats.Msg) error {
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("natsutil: publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Delivery is a decoded message handed to a subscriber.
type Delivery[T any] struct {
	Value   T
	Msg     *nats.Msg
	Retries int
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// A non-empty queue joins a queue group. Trace context is extracted from the
// message headers. Malformed messages are dropped and reported to onDrop when set.
func Subscribe[T any](nc *nats.Conn, subject, queue string, handler func(context.Context, Delivery[T]), onDrop func(*nats.Msg, error)) (*nats.Subscription, error) {
	cb := func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			if onDrop != nil {
				onDrop(msg, err)
			}
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, Delivery[T]{Value: v, Msg: msg, Retries: RetryCount(msg)})
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = nc.QueueSubscribe(subject, queue, cb)
	} else {
		sub, err = nc.Subscribe(subject, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("natsutil: subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// RetryCount reads RetryHeader, treating a missing or malformed value as 0.
func RetryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(RetryHeader))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Redeliver republishes msg's payload to its subject with RetryHeader set to retries.
func Redeliver(ctx context.Context, nc *nats.Conn, msg *nats.Msg, retries int) error {
	out := nats.NewMsg(msg.Subject)
	out.Data = msg.Data
	out.Header.Set(RetryHeader, strconv.Itoa(retries))
	return PublishMsg(ctx, nc, out)
}
