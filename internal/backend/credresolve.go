package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/missionrelay/missionrelay/internal/credentials"
	"github.com/missionrelay/missionrelay/internal/workspace"
)

// workspaceAuthPath is where a container workspace keeps its own copy of
// the Claude-family credentials file, mirroring ~/.claude/.credentials.json
// on the host but scoped to that one workspace.
func workspaceAuthPath(ws workspace.Workspace) string {
	if !ws.Container || ws.HostRoot == "" {
		return ""
	}
	return filepath.Join(ws.HostRoot, ".claude", ".credentials.json")
}

// resolveOAuth implements the credential-resolution step common to every
// Claude-family driver: pick the fresher of the canonical host credential
// and the per-workspace copy, refresh if the chosen one is expired, and
// drop a stale workspace copy that fails to refresh.
func resolveOAuth(ctx context.Context, store *credentials.Store, ws workspace.Workspace, provider string) (credentials.OAuthRecord, error) {
	canonical, hasCanonical := store.ReadOAuth(provider)

	wsPath := workspaceAuthPath(ws)
	var wsRecord credentials.OAuthRecord
	var hasWorkspace bool
	if wsPath != "" {
		wsRecord, hasWorkspace = credentials.ReadClaudeOAuthFile(wsPath)
	}

	chosen, chosenIsWorkspace := canonical, false
	switch {
	case hasWorkspace && (!hasCanonical || wsRecord.ExpiresAtMs > canonical.ExpiresAtMs):
		chosen, chosenIsWorkspace = wsRecord, true
	case hasCanonical:
		// chosen already holds canonical
	default:
		return credentials.OAuthRecord{}, fmt.Errorf("backend: no stored credentials for %s", provider)
	}

	if !chosen.Expired(time.Now()) {
		return chosen, nil
	}

	if err := store.RefreshOAuth(ctx, provider); err != nil {
		if chosenIsWorkspace {
			_ = os.Remove(wsPath)
		}
		return credentials.OAuthRecord{}, fmt.Errorf("backend: refreshing %s credentials: %w", provider, err)
	}

	refreshed, ok := store.ReadOAuth(provider)
	if !ok {
		return credentials.OAuthRecord{}, fmt.Errorf("backend: %s credentials vanished after refresh", provider)
	}
	return refreshed, nil
}
