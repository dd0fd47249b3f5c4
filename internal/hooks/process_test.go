package hooks_test

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sea-e2e/internal/hooks"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecCapturesOutputAndCode(t *testing.T) {
	requireShell(t)
	res, err := hooks.Exec(context.Background(), hooks.Spec{
		Cmd:  "sh",
		Args: []string{"-c", `echo "hello $NAME"; echo oops >&2; exit 3`},
		Env:  map[string]string{"NAME": "pets"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Code)
	assert.Equal(t, "hello pets\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestExecTimeout(t *testing.T) {
	requireShell(t)
	_, err := hooks.Exec(context.Background(), hooks.Spec{Cmd: "sh", Args: []string{"-c", "sleep 5"}, Timeout: 50 * time.Millisecond})
	assert.True(t, errors.Is(err, hooks.ErrTimeout), "got %v", err)
}

func TestExecMissingBinary(t *testing.T) {
	_, err := hooks.Exec(context.Background(), hooks.Spec{Cmd: "definitely-not-a-command-xyz"})
	assert.Error(t, err)
}

func TestSpecString(t *testing.T) {
	s := hooks.Spec{Cmd: "echo", Args: []string{"a b", "it's"}}
	assert.Equal(t, `echo 'a b' 'it'"'"'s'`, s.String())
}

func TestRunHookExchangesVars(t *testing.T) {
	requireShell(t)
	out, err := hooks.RunHook(context.Background(), hooks.Hook{
		Cmd:  "sh",
		Args: []string{"-c", `cat >/dev/null; echo '{"vars":{"PET_ID":"42"}}'`},
	}, hooks.Input{Vars: map[string]string{"A": "1"}})
	require.NoError(t, err)
	assert.Equal(t, "42", out.Vars["PET_ID"])
}

func TestRunHookFailsOnExitCode(t *testing.T) {
	requireShell(t)
	_, err := hooks.RunHook(context.Background(), hooks.Hook{Cmd: "sh", Args: []string{"-c", "echo bad >&2; exit 1"}}, hooks.Input{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}
