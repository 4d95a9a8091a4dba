package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cordum/coldgate/core/infra/logging"
	"github.com/cordum/coldgate/core/infra/tlsenv"
	"github.com/cordum/coldgate/core/retrieval"
	"github.com/nats-io/nats.go"
)

const (
	// HeaderObject carries the vault/archive pair on availability events.
	HeaderObject = "Coldgate-Object"
	// HeaderJobID carries the retrieval job that produced the object.
	HeaderJobID = "Coldgate-Job-Id"
)

var (
	errNilBus     = errors.New("nats bus not initialized")
	errEmptyTopic = errors.New("empty subject")
)

// NatsBus wraps a NATS connection. It publishes availability events and hands
// out JetStream pull sources for job notifications.
type NatsBus struct {
	nc               *nats.Conn
	availableSubject string
}

// NewNatsBus dials NATS at url. Availability events go to availableSubject.
func NewNatsBus(url, availableSubject string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("coldgate"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Error("bus", "disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to nats", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}
	tlsConfig, err := tlsenv.FromEnv("NATS")
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts = append(opts, nats.Secure(tlsConfig))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NatsBus{nc: nc, availableSubject: strings.TrimSpace(availableSubject)}, nil
}

// Close shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}

// PublishAvailable announces a cached object on the availability subject.
func (b *NatsBus) PublishAvailable(ctx context.Context, a retrieval.Availability) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if b.availableSubject == "" {
		return errEmptyTopic
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeAvailability(a)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(b.availableSubject)
	msg.Data = data
	msg.Header.Set(HeaderObject, a.Object.String())
	msg.Header.Set(HeaderJobID, a.JobID)
	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish availability %s: %w", a.Object, err)
	}
	return nil
}

func (b *NatsBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

func (b *NatsBus) Status() string {
	if b == nil || b.nc == nil {
		return "UNKNOWN"
	}
	return b.nc.Status().String()
}

func (b *NatsBus) ConnectedURL() string {
	if b == nil || b.nc == nil {
		return ""
	}
	return b.nc.ConnectedUrl()
}
