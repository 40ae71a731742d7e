// Package notify publishes best-effort status-transition events to NATS so
// external dashboards can observe Model/EndpointConfig/Endpoint state
// changes without polling the cluster API. It is never on the path of a
// handler's success or failure: the cluster store is the only state a
// reconciliation depends on.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/bdobrica/K8SMLEndpoints/internal/config"
)

var log = ctrl.Log.WithName("notify")

const (
	SubjectModelStatus          = "mlendpoints.model.status"
	SubjectEndpointConfigStatus = "mlendpoints.endpointconfig.status"
	SubjectEndpointStatus       = "mlendpoints.endpoint.status"
)

// StatusEvent is the payload published for every status transition.
type StatusEvent struct {
	EventID   string    `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Namespace string    `json:"namespace"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
}

// Publisher is a fire-and-forget NATS publisher. A nil *Publisher is valid
// and every method on it is a no-op, so callers can hold one unconditionally
// regardless of whether NATS is configured.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS per cfg. If cfg.Enabled is false it returns
// a nil-safe, disabled Publisher rather than an error: the notifier is
// optional infrastructure, not a reconciliation dependency.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opts := []nats.Option{
		nats.Name("mlendpoints-controller"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: connect to NATS: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

// Close releases the underlying NATS connection, if any.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}

// publish marshals event and fires it at subject, logging (but never
// returning) any failure.
func (p *Publisher) publish(subject string, event StatusEvent) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error(err, "failed to marshal status event", "subject", subject)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Error(err, "failed to publish status event", "subject", subject)
	}
}

func newEvent(kind, namespace, name, state string) StatusEvent {
	return StatusEvent{
		EventID:   uuid.NewString(),
		Timestamp: time.Now(),
		Kind:      kind,
		Namespace: namespace,
		Name:      name,
		State:     state,
	}
}

// ModelState publishes a Model status transition.
func (p *Publisher) ModelState(namespace, name, state string) {
	p.publish(SubjectModelStatus, newEvent("Model", namespace, name, state))
}

// EndpointConfigState publishes an EndpointConfig status transition.
func (p *Publisher) EndpointConfigState(namespace, name, state string) {
	p.publish(SubjectEndpointConfigStatus, newEvent("EndpointConfig", namespace, name, state))
}

// EndpointState publishes an Endpoint status transition.
func (p *Publisher) EndpointState(namespace, name, state string) {
	p.publish(SubjectEndpointStatus, newEvent("Endpoint", namespace, name, state))
}
