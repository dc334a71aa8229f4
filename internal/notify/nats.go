package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hexplatoon/rivalist-go/internal/obslog"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const subjectPrefix = "rivalist.notify."

// NATSNotifier publishes notification envelopes to a per-user subject so
// other services (presence, push, mail) can subscribe independently.
type NATSNotifier struct {
	nc *nats.Conn
}

func NewNATSNotifier(url string) (*NATSNotifier, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &NATSNotifier{nc: nc}, nil
}

func (n *NATSNotifier) Notify(_ context.Context, username string, event Event, payload any) {
	if n == nil || n.nc == nil {
		return
	}
	env := Envelope{Username: username, Event: event, Payload: payload, SentAt: time.Now()}
	data, err := json.Marshal(&env)
	if err != nil {
		obslog.L().Error("notify_nats_marshal_error", zap.String("event", string(event)), zap.Error(err))
		return
	}
	if err := n.nc.Publish(subjectPrefix+sanitizeSubject(username), data); err != nil {
		obslog.L().Warn("notify_nats_publish_error",
			zap.String("username", username),
			zap.String("event", string(event)),
			zap.Error(err),
		)
	}
}

func (n *NATSNotifier) Close() {
	if n != nil && n.nc != nil {
		n.nc.Close()
	}
}

// sanitizeSubject keeps usernames from injecting NATS subject tokens.
func sanitizeSubject(u string) string {
	u = strings.TrimSpace(u)
	u = strings.ReplaceAll(u, ".", "_")
	u = strings.ReplaceAll(u, "*", "_")
	u = strings.ReplaceAll(u, ">", "_")
	u = strings.ReplaceAll(u, " ", "_")
	return u
}
