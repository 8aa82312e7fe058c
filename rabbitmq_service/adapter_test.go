package rabbitmq_service

import (
	"context"
	"errors"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikraju391/agent-dashboard/config"
	"github.com/karthikraju391/agent-dashboard/ingest"
	"github.com/karthikraju391/agent-dashboard/models"
)

type ackRecorder struct {
	ack     int
	nack    int
	requeue bool
}

func (a *ackRecorder) Ack(uint64, bool) error { a.ack++; return nil }

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nack++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(uint64, bool) error { return nil }

type stubSubmitter struct {
	err      error
	category models.Category
}

func (s *stubSubmitter) SubmitJSON(_ context.Context, c models.Category, _ []byte) (ingest.Receipt, error) {
	s.category = c
	return ingest.Receipt{ID: "id"}, s.err
}

func newTestAdapter(t *testing.T, sub Submitter) *Adapter {
	t.Helper()
	a, err := NewAdapter(config.Default().RabbitMQ, sub, zerolog.Nop())
	require.NoError(t, err)
	return a
}

func TestNewAdapter_Validates(t *testing.T) {
	_, err := NewAdapter(config.RabbitMQConfig{URL: "amqp://localhost"}, &stubSubmitter{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewAdapter(config.Default().RabbitMQ, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestRoutingKey(t *testing.T) {
	for _, c := range models.Categories {
		got, ok := CategoryFromRoutingKey(RoutingKey(c))
		assert.True(t, ok)
		assert.Equal(t, c, got)
	}
	_, ok := CategoryFromRoutingKey("messages.weather")
	assert.False(t, ok)
	_, ok = CategoryFromRoutingKey("alert")
	assert.False(t, ok)
}

func TestProcessDelivery(t *testing.T) {
	tests := []struct {
		name        string
		routingKey  string
		err         error
		wantAck     int
		wantNack    int
		wantRequeue bool
	}{
		{"accepted", "messages.alert", nil, 1, 0, false},
		{"invalid", "messages.alert", models.ErrValidation, 0, 1, false},
		{"malformed", "messages.alert", models.ErrMalformed, 0, 1, false},
		{"unknown routing key", "messages.weather", nil, 0, 1, false},
		{"transient failure", "messages.alert", errors.New("boom"), 0, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &stubSubmitter{err: tt.err}
			rec := &ackRecorder{}
			d := amqp091.Delivery{Acknowledger: rec, RoutingKey: tt.routingKey, Body: []byte(`{}`), DeliveryTag: 7}

			newTestAdapter(t, sub).processDelivery(context.Background(), d)

			assert.Equal(t, tt.wantAck, rec.ack)
			assert.Equal(t, tt.wantNack, rec.nack)
			assert.Equal(t, tt.wantRequeue, rec.requeue)
		})
	}
}

func TestProcessDelivery_PassesCategory(t *testing.T) {
	sub := &stubSubmitter{}
	d := amqp091.Delivery{Acknowledger: &ackRecorder{}, RoutingKey: "messages.compliance", Body: []byte(`{}`)}
	newTestAdapter(t, sub).processDelivery(context.Background(), d)
	assert.Equal(t, models.CategoryCompliance, sub.category)
}

func TestCloseWithoutStart(t *testing.T) {
	a := newTestAdapter(t, &stubSubmitter{})
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
