package consts

import (
	"os"
	"path/filepath"
)

const (
	HomeDirName      = ".launchpad"
	ConfigFileName   = "config.yaml"
	WorkspaceDirName = "launchpad-workspaces"

	EnvRestricted = "LAUNCHPAD_RESTRICTED"
	EnvConfig     = "LAUNCHPAD_CONFIG"
)

func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, HomeDirName)
}

func DefaultConfigPath() string {
	return filepath.Join(HomeDir(), ConfigFileName)
}

// DefaultWorkspaceRoot lives under the OS temp dir.
func DefaultWorkspaceRoot() string {
	return filepath.Join(os.TempDir(), WorkspaceDirName)
}

func DefaultLogFile() string {
	return filepath.Join(HomeDir(), "logs", "launchpad.log")
}
