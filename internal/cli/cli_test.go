package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.Equal(t, "aid", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	commands := cmd.Commands()
	assert.Len(t, commands, 1)
	assert.Equal(t, "start", commands[0].Use)
}

func TestBuildAdminCLI(t *testing.T) {
	cmd := BuildAdminCLI()

	assert.Equal(t, "aid-admin", cmd.Use)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Use] = true
	}
	assert.True(t, names["register"])
	assert.True(t, names["activate"])
	assert.True(t, names["deactivate"])
	assert.True(t, names["list"])

	assert.NotNil(t, cmd.PersistentFlags().Lookup("registry"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("token"))
}

func TestBuildRegisterCommandRequiresDID(t *testing.T) {
	registryPath := filepath.Join(t.TempDir(), "encoders.json")
	cmd := buildRegisterCommand(&registryPath)

	assert.Equal(t, "register", cmd.Use)
	didFlag := cmd.Flags().Lookup("did")
	require.NotNil(t, didFlag)
	assert.Contains(t, didFlag.Annotations, cobra.BashCompOneRequiredFlag)
}

func TestBuildActivateCommandUseVariesBySense(t *testing.T) {
	registryPath := filepath.Join(t.TempDir(), "encoders.json")

	activate := buildActivateCommand(&registryPath, true)
	deactivate := buildActivateCommand(&registryPath, false)

	assert.Equal(t, "activate", activate.Use)
	assert.Equal(t, "deactivate", deactivate.Use)
}

func TestBuildListCommandRunsAgainstRegistry(t *testing.T) {
	registryPath := filepath.Join(t.TempDir(), "encoders.json")
	// An empty, not-yet-created registry file should still list cleanly.
	_, err := os.Stat(registryPath)
	assert.True(t, os.IsNotExist(err))

	cmd := buildListCommand(&registryPath)
	require.NotNil(t, cmd.RunE)
	assert.NoError(t, cmd.RunE(cmd, nil))
}

func TestAdminPersistentPreRunRejectsBadToken(t *testing.T) {
	t.Setenv("AID_DB_DSN", "postgres://localhost/test")
	t.Setenv("AID_ADMIN_TOKEN", "correct-token")

	cmd := BuildAdminCLI()
	cmd.SetArgs([]string{"register", "--did", "did:a", "--token", "wrong-token",
		"--registry", filepath.Join(t.TempDir(), "encoders.json")})

	err := cmd.Execute()
	assert.Error(t, err)
}
