package backend

import (
	"github.com/missionrelay/missionrelay/internal/credentials"
	"github.com/missionrelay/missionrelay/internal/workspace"
)

// NewClaudeCodeDriver builds the primary Claude-family driver: the `claude`
// CLI in print mode, message delivered on stdin.
func NewClaudeCodeDriver(exec *workspace.Executor, creds *credentials.Store, broker *FrontendToolBroker, mcpConfigPath string, autoInstall bool) *CLIDriver {
	return newCLIDriver(cliSpec{
		binary:               "claude",
		installArgs:          []string{"npm", "install", "-g", "@anthropic-ai/claude-code"},
		printFlags:           []string{"-p", "--output-format", "stream-json", "--verbose"},
		permissionBypassFlag: "--dangerously-skip-permissions",
		stdin:                stdinModeWrite,
		provider:             "anthropic",
	}, exec, creds, broker, mcpConfigPath, autoInstall)
}
