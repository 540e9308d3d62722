package metrics_test

import (
	"testing"

	"github.com/book-expert/tts-stream-service/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	recorder := metrics.New(registry)

	recorder.StreamFinished(metrics.OutcomeDisconnected)
	recorder.ChunkEmitted(100)
	recorder.ChunkEmitted(50)
	recorder.FileReaped(metrics.ReasonCount)
	recorder.FileReaped(metrics.ReasonCount)
	recorder.TempDirSize(2048)
	recorder.ObserveRequest("/v1/audio/speech", "200", 0.3)

	count, err := testutil.GatherAndCount(registry, "tts_audio_chunks_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	families, err := registry.Gather()
	require.NoError(t, err)

	values := map[string]float64{}

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[family.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[family.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}

	assert.InDelta(t, 2, values["tts_audio_chunks_total"], 0.001)
	assert.InDelta(t, 150, values["tts_audio_bytes_total"], 0.001)
	assert.InDelta(t, 2, values["tts_temp_files_reaped_total"], 0.001)
	assert.InDelta(t, 1, values["tts_streams_total"], 0.001)
	assert.InDelta(t, 2048, values["tts_temp_dir_bytes"], 0.001)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var recorder *metrics.Metrics

	assert.NotPanics(t, func() {
		recorder.StreamFinished(metrics.OutcomeCompleted)
		recorder.ChunkEmitted(1)
		recorder.TempFileError("open")
		recorder.FileReaped(metrics.ReasonAge)
		recorder.TempDirSize(1)
		recorder.JobFinished("ok")
		recorder.ValidationFailed()
		recorder.ObserveRequest("/", "200", 1)
	})
}
