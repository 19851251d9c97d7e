package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burgan-tech/relaybox/transport"
)

type channelConfig struct{}

func (channelConfig) GetPubSubSystem() string       { return TransportName }
func (channelConfig) GetKafkaBrokers() []string     { return nil }
func (channelConfig) GetKafkaConsumerGroup() string { return "" }
func (channelConfig) GetRabbitMQURL() string        { return "" }
func (channelConfig) GetNATSURL() string            { return "" }

func TestRegisteredWithDefaultRegistry(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, TransportName, caps.Name)
	assert.True(t, caps.SupportsReliableDelivery())
}

func TestBuild(t *testing.T) {
	tr, err := Build(context.Background(), channelConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)

	// Publisher and subscriber share the same in-memory pubsub.
	messages, err := tr.Subscriber.Subscribe(context.Background(), "test-topic")
	require.NoError(t, err)

	msg := message.NewMessage(watermill.NewUUID(), []byte("hello"))
	require.NoError(t, tr.Publisher.Publish("test-topic", msg))

	select {
	case received := <-messages:
		assert.Equal(t, []byte("hello"), []byte(received.Payload))
		received.Ack()
	case <-time.After(time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.ChannelCapabilities, Capabilities())
}
