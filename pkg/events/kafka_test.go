package events

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstanceGroup_UniquePerCall(t *testing.T) {
	a := InstanceGroup("spotiqueue-server")
	b := InstanceGroup("spotiqueue-server")
	require.NotEqual(t, a, b)
	require.True(t, strings.HasPrefix(a, "spotiqueue-server-"))
}

func TestKafkaClient_WriterOnly(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, "spotiqueue-events", "")
	require.Nil(t, client.reader)

	err := client.ConsumeEvents(context.Background(), func(Event) error { return nil })
	require.ErrorIs(t, err, ErrWriterOnly)
	require.NoError(t, client.Close())
}
