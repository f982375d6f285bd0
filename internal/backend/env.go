package backend

import (
	"os"
	"strings"

	"github.com/missionrelay/missionrelay/internal/credentials"
	"github.com/missionrelay/missionrelay/internal/providerkind"
)

// setEnvVar sets or updates key in env, appending it if absent.
func setEnvVar(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = key + "=" + value
			return env
		}
	}
	return append(env, key+"="+value)
}

// buildEnv assembles the child process environment: the host environment
// plus provider credential variables, color/interactivity suppression, and
// a sandbox marker so the CLI knows it's running unattended.
func buildEnv(account credentials.Account, oauth *credentials.OAuthRecord) []string {
	env := os.Environ()

	kind := providerkind.Kind(account.Kind)
	switch kind {
	case providerkind.Anthropic:
		if oauth != nil {
			env = setEnvVar(env, "CLAUDE_CODE_OAUTH_TOKEN", oauth.Access)
		} else if account.APIKey != "" {
			env = setEnvVar(env, "ANTHROPIC_API_KEY", account.APIKey)
		}
	case providerkind.Google:
		if account.APIKey != "" {
			env = setEnvVar(env, "GOOGLE_API_KEY", account.APIKey)
			env = setEnvVar(env, "GOOGLE_GENERATIVE_AI_API_KEY", account.APIKey)
		}
	default:
		if info, ok := providerkind.Lookup(account.Kind); ok && info.EnvVar != "" && account.APIKey != "" {
			env = setEnvVar(env, info.EnvVar, account.APIKey)
		}
	}

	env = setEnvVar(env, "NO_COLOR", "1")
	env = setEnvVar(env, "CI", "1")
	env = setEnvVar(env, "MISSIONRELAY_SANDBOX", "1")
	return env
}
