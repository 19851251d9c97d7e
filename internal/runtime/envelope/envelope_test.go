package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/burgan-tech/relaybox/internal/runtime/errors"
	"github.com/burgan-tech/relaybox/internal/runtime/ids"
	"github.com/burgan-tech/relaybox/internal/runtime/jsoncodec"
)

type orderPlaced struct {
	OrderID string `json:"orderId"`
	Total   int64  `json:"total"`
}

func (orderPlaced) EventName() string { return "OrderPlaced" }

type stockReserved struct {
	SKU string `json:"sku"`
}

func (stockReserved) EventName() string    { return "StockReserved" }
func (stockReserved) AggregateID() string  { return "sku-42" }
func (stockReserved) AggregateType() string { return "Stock" }
func (stockReserved) AggregateVersion() int64 { return 7 }

func TestNewEnvelope(t *testing.T) {
	env := New("OrderPlaced", []byte(`{"orderId":"o-1"}`))

	assert.True(t, ids.IsValid(env.ID))
	assert.Equal(t, "OrderPlaced", env.EventName)
	assert.False(t, env.OccurredAt.IsZero())
	assert.Equal(t, time.UTC, env.OccurredAt.Location())
	assert.NoError(t, env.Validate())
}

func TestNewEnvelopeIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		env := New("OrderPlaced", nil)
		require.False(t, seen[env.ID], "duplicate id %s", env.ID)
		seen[env.ID] = true
	}
}

func TestFromEvent(t *testing.T) {
	env, err := FromEvent(orderPlaced{OrderID: "o-1", Total: 100})
	require.NoError(t, err)

	assert.Equal(t, "OrderPlaced", env.EventName)

	var got orderPlaced
	require.NoError(t, jsoncodec.Unmarshal(env.Payload, &got))
	assert.Equal(t, "o-1", got.OrderID)
	assert.EqualValues(t, 100, got.Total)
}

func TestFromEventCopiesAggregateMetadata(t *testing.T) {
	env, err := FromEvent(stockReserved{SKU: "sku-42"})
	require.NoError(t, err)

	assert.Equal(t, "sku-42", env.AggregateID)
	assert.Equal(t, "Stock", env.AggregateType)
	assert.EqualValues(t, 7, env.AggregateVersion)
}

func TestFromEventNil(t *testing.T) {
	_, err := FromEvent(nil)
	assert.ErrorIs(t, err, errspkg.ErrEventRequired)
}

func TestValidate(t *testing.T) {
	valid := New("OrderPlaced", nil)
	assert.NoError(t, valid.Validate())

	missingID := valid
	missingID.ID = ""
	assert.Error(t, missingID.Validate())

	missingName := valid
	missingName.EventName = ""
	assert.Error(t, missingName.Validate())

	missingTime := valid
	missingTime.OccurredAt = time.Time{}
	assert.Error(t, missingTime.Validate())
}

func TestJSONSerializerRoundTrip(t *testing.T) {
	s := NewJSONSerializer()
	env := New("OrderPlaced", []byte(`{"orderId":"o-1"}`)).WithAggregate("o-1", "Order", 3)

	data, err := s.Marshal(env)
	require.NoError(t, err)

	decoded, err := s.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, env.EventName, decoded.EventName)
	assert.Equal(t, env.Payload, decoded.Payload)
	assert.Equal(t, "Order", decoded.AggregateType)
	assert.EqualValues(t, 3, decoded.AggregateVersion)
	assert.True(t, env.OccurredAt.Equal(decoded.OccurredAt))
}

func TestJSONSerializerRejectsInvalidEnvelope(t *testing.T) {
	s := NewJSONSerializer()

	_, err := s.Marshal(Envelope{})
	var serErr *errspkg.SerializationError
	assert.ErrorAs(t, err, &serErr)
}

func TestJSONSerializerRejectsMalformedInput(t *testing.T) {
	s := NewJSONSerializer()

	var serErr *errspkg.SerializationError

	_, err := s.Unmarshal([]byte("not json at all"))
	assert.ErrorAs(t, err, &serErr)

	// Valid JSON but missing required envelope attributes.
	_, err = s.Unmarshal([]byte(`{"payload":"e30="}`))
	assert.ErrorAs(t, err, &serErr)
}
