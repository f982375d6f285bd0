package backend

import (
	"github.com/missionrelay/missionrelay/internal/credentials"
	"github.com/missionrelay/missionrelay/internal/workspace"
)

// NewClaudeCodeRouterDriver builds the second Claude-family driver: the
// claude-code-router CLI, a community router that speaks the same
// stream-json protocol but takes the user message as an argv positional
// and expects stdin closed immediately rather than written to.
func NewClaudeCodeRouterDriver(exec *workspace.Executor, creds *credentials.Store, broker *FrontendToolBroker, mcpConfigPath string, autoInstall bool) *CLIDriver {
	return newCLIDriver(cliSpec{
		binary:               "ccr",
		installArgs:          []string{"npm", "install", "-g", "@musistudio/claude-code-router"},
		printFlags:           []string{"code", "-p", "--output-format", "stream-json"},
		permissionBypassFlag: "--dangerously-skip-permissions",
		stdin:                stdinModeArgv,
		provider:             "anthropic",
	}, exec, creds, broker, mcpConfigPath, autoInstall)
}
