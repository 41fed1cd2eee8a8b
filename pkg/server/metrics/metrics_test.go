package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCounterIsScrapeable(t *testing.T) {
	registry := prometheus.NewRegistry()
	sink := NewSink(registry)

	sink.Observe(Counter, "objects_created_total", map[string]string{"session": "root"}, 1)
	sink.Observe(Counter, "objects_created_total", map[string]string{"session": "root"}, 2)

	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "vineyard_objects_created_total", families[0].GetName())
	assert.Equal(t, 3.0, families[0].GetMetric()[0].GetCounter().GetValue())
}

func TestObserveSummaryRegistersOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	sink := NewSink(registry)

	sink.Observe(Summary, "request_latency_seconds", map[string]string{"op": "create_buffer"}, 0.01)
	sink.Observe(Summary, "request_latency_seconds", map[string]string{"op": "create_buffer"}, 0.02)

	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
}
