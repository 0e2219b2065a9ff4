package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		level   string
		format  string
		verbose bool
		want    zap.AtomicLevel
		wantErr bool
	}{
		{name: "info json", level: "info", format: "json", want: zap.NewAtomicLevelAt(zap.InfoLevel)},
		{name: "warn console", level: "warn", format: "console", want: zap.NewAtomicLevelAt(zap.WarnLevel)},
		{name: "verbose overrides", level: "error", verbose: true, want: zap.NewAtomicLevelAt(zap.DebugLevel)},
		{name: "bad level", level: "loud", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			log, err := New(tt.level, tt.format, tt.verbose)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, log.Core().Enabled(tt.want.Level()))
			assert.False(t, log.Core().Enabled(tt.want.Level()-1))
		})
	}
}
