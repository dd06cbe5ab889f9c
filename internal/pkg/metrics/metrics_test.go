package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteToTextfile(t *testing.T) {
	before := testutil.ToFloat64(UpdateAttemptsTotal.WithLabelValues(ResultSuccess))
	UpdateAttemptsTotal.WithLabelValues(ResultSuccess).Inc()
	DownloadedBytesTotal.Add(42)
	assert.Equal(t, before+1, testutil.ToFloat64(UpdateAttemptsTotal.WithLabelValues(ResultSuccess)))

	p := filepath.Join(t.TempDir(), "ota.prom")
	require.NoError(t, WriteToTextfile(p))
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `ota_update_attempts_total{result="success"}`)
	assert.Contains(t, string(data), "ota_downloaded_bytes_total")
}
