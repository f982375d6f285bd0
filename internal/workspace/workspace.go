// Package workspace implements the Workspace Executor (C3): spawning a
// backend CLI with an env map and working directory inside a named
// workspace, and translating host paths into their container-visible
// equivalent when the workspace runs containerized.
package workspace

// Workspace names one unit of isolation a Backend Driver runs inside.
// Container is false for a plain host workspace; when true, HostRoot is the
// directory visible to missionrelayd and ContainerRoot is the same
// directory's path as observed from inside the container, used to rewrite
// any absolute host path that leaks into args or env (MCP config paths,
// config-dir environment variables, etc.).
type Workspace struct {
	ID            string
	HostRoot      string
	Container     bool
	ContainerRoot string
}

// TranslatePathForContainer rewrites an absolute host path to its
// container-visible equivalent. Host workspaces return path unchanged;
// paths outside HostRoot are returned unchanged too, since the executor has
// no mapping for them.
func (w Workspace) TranslatePathForContainer(path string) string {
	if !w.Container || w.HostRoot == "" {
		return path
	}
	rel, ok := cutPrefix(path, w.HostRoot)
	if !ok {
		return path
	}
	return joinContainerPath(w.ContainerRoot, rel)
}
