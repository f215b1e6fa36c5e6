package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		args    []string
		cmd     string
		n       int
		wantErr bool
	}{
		{nil, "up", 0, false},
		{[]string{"up"}, "up", 0, false},
		{[]string{"version"}, "version", 0, false},
		{[]string{"down"}, "down", 1, false},
		{[]string{"down", "2"}, "down", 2, false},
		{[]string{"down", "0"}, "", 0, true},
		{[]string{"force", "1"}, "force", 1, false},
		{[]string{"force"}, "", 0, true},
		{[]string{"force", "x"}, "", 0, true},
		{[]string{"sideways"}, "", 0, true},
	}
	for _, tt := range tests {
		cmd, n, err := parseArgs(tt.args)
		if tt.wantErr {
			assert.Error(t, err, "%v", tt.args)
			continue
		}
		require.NoError(t, err, "%v", tt.args)
		assert.Equal(t, tt.cmd, cmd)
		assert.Equal(t, tt.n, n)
	}
}

func TestRunRequiresDatabaseURL(t *testing.T) {
	assert.ErrorContains(t, run(nil, ""), "DATABASE_URL")
}
