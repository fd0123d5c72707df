package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"migrate", "health", "test-email"} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestHealth_DemoMode(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	t.Setenv("BACKEND_ANON_KEY", "")

	rootCmd.SetArgs([]string{"health"})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
}

func TestMigrate_RequiresBackend(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	t.Setenv("BACKEND_ANON_KEY", "")

	rootCmd.SetArgs([]string{"migrate"})
	err := rootCmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKEND_URL")
}

// TestRootCommand runs last: cobra keeps --help and --version set between
// executions.
func TestRootCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "unknown command", args: []string{"frobnicate"}, wantErr: true},
		{name: "test-email needs recipient", args: []string{"test-email"}, wantErr: true},
		{name: "help flag", args: []string{"--help"}},
		{name: "version flag", args: []string{"--version"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			rootCmd.SetArgs(tt.args)
			rootCmd.SetOut(&out)
			rootCmd.SetErr(&out)

			err := rootCmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
