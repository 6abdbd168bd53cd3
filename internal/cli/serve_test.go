package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCommand_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--db", tempDB(t), "--listen", "127.0.0.1:0"})

	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, out.String(), "on 127.0.0.1:0")
}

func TestServeCommand_BadAddress(t *testing.T) {
	_, err := execute(t, "serve", "--db", tempDB(t), "--listen", "127.0.0.1:99999")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
