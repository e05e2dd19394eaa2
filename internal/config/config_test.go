package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("STORE_DRIVER", "")

	cfg := Load()

	require.Equal(t, ":8000", cfg.HTTPAddress)
	require.Equal(t, StoreMemory, cfg.StoreDriver)
	require.Equal(t, 128, cfg.SequenceLength)
	require.Equal(t, time.Second, cfg.StreamTickInterval)
	require.Equal(t, 16, cfg.StreamBufferSize)
	require.False(t, cfg.KafkaEnabled())
	require.Equal(t, 100, cfg.TrainingHistoryLimit)
	require.Equal(t, "json", cfg.SimulatorEncoding)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092 , ,kafka-2:9092")
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("SEQUENCE_LENGTH", "64")
	t.Setenv("STREAM_TICK_INTERVAL", "250ms")
	t.Setenv("STREAM_BUFFER_SIZE", "not-a-number")
	t.Setenv("SIMULATOR_ENCODING", "MsgPack")

	cfg := Load()

	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	require.True(t, cfg.KafkaEnabled())
	require.Equal(t, StoreSQLite, cfg.StoreDriver)
	require.Equal(t, 64, cfg.SequenceLength)
	require.Equal(t, 250*time.Millisecond, cfg.StreamTickInterval)
	require.Equal(t, 16, cfg.StreamBufferSize, "invalid integers fall back to the default")
	require.Equal(t, "msgpack", cfg.SimulatorEncoding)
}

func TestValidateRejectsUnusableValues(t *testing.T) {
	require.NoError(t, Load().Validate())

	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "zero sequence length", key: "SEQUENCE_LENGTH", val: "0"},
		{name: "negative sequence length", key: "SEQUENCE_LENGTH", val: "-4"},
		{name: "zero tick interval", key: "STREAM_TICK_INTERVAL", val: "0s"},
		{name: "negative simulator interval", key: "SIMULATOR_INTERVAL", val: "-20ms"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			require.ErrorIs(t, Load().Validate(), ErrInvalid)
		})
	}
}
