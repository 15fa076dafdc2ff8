package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/dere-run/dered/agentrt"
	"github.com/dere-run/dered/container"
	"github.com/dere-run/dered/tools"
)

// toolCatalog resolves a mission's or session's requested tool names against
// the registered built-in set, so a stale or typo'd name in a Mission's
// persisted AllowedTools never reaches the adapter process. Grounded on
// tools.Tools.Schema() as the authoritative tool-name source, the same list
// the teacher's in-process tool-calling loop would have validated against.
type toolCatalog struct {
	known map[string]bool
}

func newToolCatalog(containers *container.Manager) *toolCatalog {
	reg := tools.NewTools(tools.WithContainer(containers))
	reg.RegisterBuiltins()

	known := make(map[string]bool)
	for _, schema := range reg.Schema() {
		known[schema.Name] = true
	}
	return &toolCatalog{known: known}
}

// resolve filters requested down to names the catalog actually registered.
// An empty or all-unknown requested list falls back to every known tool, so
// a Mission created before AllowedTools existed still gets full tool access.
func (c *toolCatalog) resolve(requested []string) []string {
	if len(requested) == 0 {
		return c.all()
	}
	out := make([]string, 0, len(requested))
	for _, name := range requested {
		if c.known[name] {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return c.all()
	}
	return out
}

func (c *toolCatalog) all() []string {
	out := make([]string, 0, len(c.known))
	for name := range c.known {
		out = append(out, name)
	}
	return out
}

// sandboxAdapterFactory wraps a plain local-exec session.AdapterFactory so
// that a session requesting a sandbox image runs its agent command inside a
// Docker container instead of directly on the host. container.Manager only
// owns the container's lifecycle (ensure-running, naming); the adapter
// protocol itself is unchanged, so the command is re-pointed at
// "docker exec -i <container> <command> <args...>" rather than taught to
// speak to Docker directly.
type sandboxAdapterFactory struct {
	containers   *container.Manager
	catalog      *toolCatalog
	agentCmd     string
	defaultImage string // DERED_SANDBOX_IMAGE; used when a session/mission names none
	baseEnv      func(personality string, allowedTools []string) []string
}

func newSandboxAdapterFactory(containers *container.Manager, catalog *toolCatalog, agentCmd, defaultImage string, baseEnv func(personality string, allowedTools []string) []string) *sandboxAdapterFactory {
	return &sandboxAdapterFactory{containers: containers, catalog: catalog, agentCmd: agentCmd, defaultImage: defaultImage, baseEnv: baseEnv}
}

// factory is a session.AdapterFactory. An empty sandboxImage is replaced by
// the daemon-wide default image. When no image results, when the container
// manager could not reach a Docker daemon, or when the project container
// fails to start, it runs the adapter directly on the host instead.
func (f *sandboxAdapterFactory) factory(ctx context.Context, workDir, personality, sandboxImage string, allowedTools []string) (*agentrt.Adapter, error) {
	resolved := f.catalog.resolve(allowedTools)
	env := f.baseEnv(personality, resolved)

	if sandboxImage == "" {
		sandboxImage = f.defaultImage
	}

	if sandboxImage == "" || f.containers == nil || !f.containers.IsAvailable() {
		return agentrt.Start(ctx, agentrt.Config{
			Command:      f.agentCmd,
			WorkDir:      workDir,
			Env:          env,
			StartTimeout: 30 * time.Second,
		})
	}

	project := sandboxProjectName(workDir)
	if _, err := f.containers.StartProject(ctx, container.ContainerConfig{
		ProjectName: project,
		Image:       sandboxImage,
		WorkDir:     workDir,
	}); err != nil {
		slog.Warn("sandbox: start project container failed, falling back to host exec",
			"work_dir", workDir, "image", sandboxImage, "error", err)
		return agentrt.Start(ctx, agentrt.Config{
			Command:      f.agentCmd,
			WorkDir:      workDir,
			Env:          env,
			StartTimeout: 30 * time.Second,
		})
	}

	containerName := f.containers.ContainerName(project)
	args := []string{"exec", "-i"}
	for _, kv := range env {
		args = append(args, "-e", kv)
	}
	args = append(args, containerName, f.agentCmd)

	return agentrt.Start(ctx, agentrt.Config{
		Command:      "docker",
		Args:         args,
		WorkDir:      workDir,
		StartTimeout: 30 * time.Second,
	})
}

// sandboxProjectName turns a working directory into a stable, Docker-safe
// project name so repeated sessions against the same work dir reuse one
// container instead of leaking a fresh one per session. The httpapi sandbox
// routes derive the same name from the same work dir via
// container.ProjectNameForWorkDir, so both sides address one container.
func sandboxProjectName(workDir string) string {
	return container.ProjectNameForWorkDir(workDir)
}
