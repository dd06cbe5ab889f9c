package logutils

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogLevel(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())
	tests := []struct {
		in      string
		want    logrus.Level
		wantErr bool
	}{
		{in: "DEBUG", want: logrus.DebugLevel},
		{in: "info", want: logrus.InfoLevel},
		{in: "WARN", want: logrus.WarnLevel},
		{in: "error", want: logrus.ErrorLevel},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := SetLogLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logrus.GetLevel())
		})
	}
}

func TestNewFormatter_UTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	e := &logrus.Entry{
		Logger:  logrus.New(),
		Data:    logrus.Fields{"version": "2.0"},
		Time:    time.Date(2024, 5, 1, 12, 0, 0, 0, loc),
		Level:   logrus.InfoLevel,
		Message: "update installed",
	}
	out, err := NewFormatter("json").Format(e)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "2024-05-01T10:00:00Z", decoded["time"])
	assert.Equal(t, "2.0", decoded["version"])

	out, err = NewFormatter("TEXT").Format(e)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(out, []byte("2024-05-01T10:00:00Z")), string(out))
}
