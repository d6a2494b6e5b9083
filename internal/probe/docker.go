// internal/probe/docker.go
package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// DockerProbe reports healthy when a named container on the local daemon
// is in the running state. Connection details come from the standard
// DOCKER_HOST / DOCKER_API_VERSION environment.
type DockerProbe struct {
	name      string
	container string
	timeout   time.Duration
	cli       *client.Client
}

func NewDockerProbe(name, containerName string, timeout time.Duration) (*DockerProbe, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerProbe{
		name:      name,
		container: containerName,
		timeout:   timeout,
		cli:       cli,
	}, nil
}

func (p *DockerProbe) Name() string { return p.name }

func (p *DockerProbe) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// The name filter matches substrings, so list and compare exactly.
	containers, err := p.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", p.container)),
	})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}

	c, ok := findByName(containers, p.container)
	if !ok {
		return fmt.Errorf("container %s not found", p.container)
	}
	return containerHealthy(c, p.container)
}

// containerHealthy requires the running state and, when the image defines
// a healthcheck, a passing one. The daemon reports a failing check as an
// "(unhealthy)" suffix on the status line, e.g. "Up 2 hours (unhealthy)".
func containerHealthy(c types.Container, name string) error {
	if c.State != "running" {
		return fmt.Errorf("container %s is %s", name, c.State)
	}
	if strings.Contains(c.Status, "(unhealthy)") {
		return fmt.Errorf("container %s is running but unhealthy", name)
	}
	return nil
}

// Close releases the underlying daemon connection.
func (p *DockerProbe) Close() error {
	return p.cli.Close()
}

// findByName picks the container whose name matches exactly. The API
// reports names with a leading "/".
func findByName(containers []types.Container, name string) (types.Container, bool) {
	for _, c := range containers {
		for _, n := range c.Names {
			if strings.TrimPrefix(n, "/") == name {
				return c, true
			}
		}
	}
	return types.Container{}, false
}
