package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/aristath/claude-pilot/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSkipPermissionsWithoutOptInFailsSecurityCheck(t *testing.T) {
	e := New("/bin/echo", false, nil, nil, zerolog.Nop())
	res, err := e.Invoke(context.Background(), "hello", model.ExecOptions{SkipPermissions: true})
	require.Error(t, err)
	assert.Equal(t, model.AuditSecurityBlocked, res.Audit.Result)
	assert.Equal(t, model.RiskCritical, res.Audit.SecurityInfo.Risk)
}

func TestUnsafeWorkingDirectoryFailsSecurityCheck(t *testing.T) {
	e := New("/bin/echo", true, nil, nil, zerolog.Nop())
	res, err := e.Invoke(context.Background(), "hello", model.ExecOptions{WorkingDirectory: "/etc"})
	require.Error(t, err)
	assert.Equal(t, model.AuditSecurityBlocked, res.Audit.Result)
}

func TestDangerousPromptWarnsButDoesNotBlock(t *testing.T) {
	e := New("/bin/echo", true, nil, nil, zerolog.Nop())
	res := e.securityCheck("please rm -rf /tmp/foo", model.ExecOptions{AllowedOperations: []string{"write"}})
	assert.True(t, res.IsPassed)
	assert.NotEmpty(t, res.Warnings)
}

func TestDryRunDoesNotInvokeCLI(t *testing.T) {
	e := New("/bin/this-binary-does-not-exist-xyz", true, nil, nil, zerolog.Nop())
	res, err := e.Invoke(context.Background(), "hello", model.ExecOptions{DryRun: true, AllowedOperations: []string{"read"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Output, "dry-run:"))
	assert.Equal(t, model.AuditSuccess, res.Audit.Result)
}

func TestRawTextFallbackWhenNotJSON(t *testing.T) {
	e := New("/bin/echo", true, nil, nil, zerolog.Nop())
	res, err := e.Invoke(context.Background(), "hi", model.ExecOptions{AllowedOperations: []string{"read"}})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "-p")
}
