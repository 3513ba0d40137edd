package version

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/repoforge/internal/buildinfo"
)

func TestVersionCommand(t *testing.T) {
	oldVersion, oldCommit := buildinfo.Version, buildinfo.Commit
	defer func() { buildinfo.Version, buildinfo.Commit = oldVersion, oldCommit }()

	tests := []struct {
		version, commit string
		want            string
	}{
		{"v1.2.3", "abc1234", "repoforge version v1.2.3 (abc1234) "},
		{"v1.2.3", "", "repoforge version v1.2.3 "},
		{"", "", "repoforge version dev "},
	}
	for _, tt := range tests {
		buildinfo.Version, buildinfo.Commit = tt.version, tt.commit

		cmd := NewCommand()
		buf := &bytes.Buffer{}
		cmd.SetOut(buf)
		cmd.SetArgs([]string{})
		require.NoError(t, cmd.Execute())

		assert.Contains(t, buf.String(), tt.want)
		assert.Contains(t, buf.String(), runtime.GOOS+"/"+runtime.GOARCH)
	}
}

func TestVersionCommand_RejectsArgs(t *testing.T) {
	cmd := NewCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"extra"})
	assert.Error(t, cmd.Execute())
}
