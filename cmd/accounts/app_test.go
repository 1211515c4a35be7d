package main

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ACCOUNTS_DB_DRIVER", "sqlite")
	t.Setenv("ACCOUNTS_DB_DSN", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	t.Setenv("ACCOUNTS_PASSWORD_ENCODER", "pbkdf2")
}

func TestRunUsage(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), nil, &out, prometheus.NewRegistry()))
	assert.Contains(t, out.String(), "usage: accounts")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"help"}, &out, prometheus.NewRegistry()))
	assert.Contains(t, out.String(), "reset-password")
}

func TestRunUnknownCommand(t *testing.T) {
	setupEnv(t)
	var out bytes.Buffer
	err := run(context.Background(), []string{"explode"}, &out, prometheus.NewRegistry())
	assert.Error(t, err)
}

func TestRunRegister(t *testing.T) {
	setupEnv(t)
	var out bytes.Buffer
	reg := prometheus.NewRegistry()

	err := run(context.Background(), []string{
		"register", "-name", "Alice", "-email", "a@x.com", "-password", "secret123", "-show-code",
	}, &out, reg)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`account [0-9a-f-]{36} registered \(needs_activation\)`), out.String())
	assert.Regexp(t, regexp.MustCompile(`activation_code code [0-9a-f-]{36}: [0-9a-f]{64}`), out.String())

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "accounts_events_total")
}

func TestRunRegisterRejectsInvalidInput(t *testing.T) {
	setupEnv(t)
	var out bytes.Buffer

	err := run(context.Background(), []string{"register", "-name", "Alice", "-email", "nope", "-password", "x"}, &out, prometheus.NewRegistry())
	assert.Error(t, err)
}

func TestRunConfirmValidatesFlags(t *testing.T) {
	setupEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "bad checker", args: []string{"confirm", "-checker", "nope", "-code", "x"}},
		{name: "bad purpose", args: []string{"confirm", "-checker", "0b5c3a5e-3f0e-4b8e-9a53-1f6b7f1c2d3e", "-purpose", "invite"}},
		{name: "reset without password", args: []string{"confirm", "-checker", "0b5c3a5e-3f0e-4b8e-9a53-1f6b7f1c2d3e", "-purpose", "remember_password"}},
		{name: "unknown code", args: []string{"confirm", "-checker", "0b5c3a5e-3f0e-4b8e-9a53-1f6b7f1c2d3e", "-code", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, run(context.Background(), tt.args, &out, prometheus.NewRegistry()))
		})
	}
}

func TestRunMigrate(t *testing.T) {
	setupEnv(t)
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"migrate"}, &out, prometheus.NewRegistry()))
	assert.Contains(t, out.String(), "migrations applied")
}
