package kafka

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Brokers(t *testing.T) {
	cfg := Config{Brokers: " kafka-1:9092, ,kafka-2:9092 "}

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.brokers())
}

func TestCreateChannel_RequiresBrokers(t *testing.T) {
	_, _, err := CreateChannel(watermill.NopLogger{}, Config{Brokers: " , "})
	require.ErrorIs(t, err, ErrNoBrokers)
}

func TestPartitionKey(t *testing.T) {
	msg := message.NewMessage("id", nil)
	msg.Metadata.Set("key", "exec-1")

	key, err := partitionKey("topic", msg)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", key)
}
