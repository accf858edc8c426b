package broker

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSPublisher publishes through JetStream so every publish is
// acknowledged by the server before it is reported as delivered.
type NATSPublisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func ConnectNATS(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("broker: connect %s: %w", url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("broker: jetstream context: %w", err)
	}
	return &NATSPublisher{nc: nc, js: js}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("broker: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers every message matching the subject pattern to fn.
// Used for pushing broker events back out to locally connected
// sessions.
func (p *NATSPublisher) Subscribe(pattern string, fn func(subject string, payload []byte)) (*nats.Subscription, error) {
	sub, err := p.nc.Subscribe(pattern, func(msg *nats.Msg) {
		fn(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("broker: subscribe %s: %w", pattern, err)
	}
	return sub, nil
}

func (p *NATSPublisher) Close() {
	p.nc.Close()
}
