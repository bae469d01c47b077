package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()

	for _, name := range []string{"run", "report", "trace", "disasm", "config", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	for _, flag := range []string{"config", "log-level", "log-pretty"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRootCmd_Version(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "cycletrack version dev")
}

func TestRootCmd_Disasm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hot.s")
	src := ".func main\n    call hot\n    halt\n.end\n.func hot report\n    nop\n    ret\n.end\n"
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"disasm", path})

	require.NoError(t, root.Execute())
	got := out.String()
	assert.Contains(t, got, ".program hot")
	assert.Contains(t, got, "hot:")
	assert.Contains(t, got, "cycle-tracker-report-start: hot")
	assert.Contains(t, got, "cycle-tracker-report-end: hot")
}
