package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/shehryarbajwa/flowreel/internal/poll"
)

// DefaultImage is the browser container used in docker mode
const DefaultImage = "browserless/chrome:latest"

// containerDownloadDir is where the download mount appears inside the container
const containerDownloadDir = "/downloads"

const (
	readyInterval = 500 * time.Millisecond
	readyTimeout  = 30 * time.Second
)

// Container is a running browser container
type Container struct {
	ID          string
	SessionID   string
	ConnectURL  string
	Port        string
	DownloadDir string
}

// Pool starts and stops browser containers through the docker daemon
type Pool struct {
	client   *client.Client
	image    string
	dataRoot string
}

// NewPool connects to the docker daemon from the environment
func NewPool(imageName, dataRoot string) (*Pool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if imageName == "" {
		imageName = DefaultImage
	}

	return &Pool{
		client:   cli,
		image:    imageName,
		dataRoot: dataRoot,
	}, nil
}

// Start launches one browser container for a session
func (p *Pool) Start(ctx context.Context, sessionID string) (*Container, error) {
	downloadDir := filepath.Join(p.dataRoot, "browser", sessionID, "downloads")
	if err := os.MkdirAll(downloadDir, 0777); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	containerConfig := &container.Config{
		Image: p.image,
		Labels: map[string]string{
			"session-id": sessionID,
			"managed-by": "flowreel",
		},
		// One long-lived page per container; the run may idle between scenes.
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{
			"3000/tcp": struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			"3000/tcp": []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0",
				},
			},
		},
		AutoRemove: false,
		ShmSize:    1 << 30,
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: downloadDir,
				Target: containerDownloadDir,
			},
		},
	}

	name := sessionID
	if len(name) > 8 {
		name = name[:8]
	}
	resp, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "flowreel-"+name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := p.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports["3000/tcp"]
	if len(bindings) == 0 {
		p.remove(resp.ID)
		return nil, fmt.Errorf("container %s exposes no CDP port", resp.ID[:12])
	}
	port := bindings[0].HostPort

	if err := p.waitReady(ctx, port); err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	return &Container{
		ID:          resp.ID,
		SessionID:   sessionID,
		ConnectURL:  fmt.Sprintf("ws://127.0.0.1:%s", port),
		Port:        port,
		DownloadDir: downloadDir,
	}, nil
}

// Stop stops and removes a container
func (p *Pool) Stop(ctx context.Context, containerID string) error {
	grace := 10
	if err := p.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}

	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}

	return nil
}

func (p *Pool) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// EnsureImage pulls the browser image if it is not present locally
func (p *Pool) EnsureImage(ctx context.Context) error {
	images, err := p.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == p.image {
				return nil
			}
		}
	}

	reader, err := p.client.ImagePull(ctx, p.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close releases the docker client
func (p *Pool) Close() error {
	return p.client.Close()
}

// waitReady polls the CDP discovery endpoint until the browser answers
func (p *Pool) waitReady(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://127.0.0.1:%s/json/version", port)

	out := poll.Until(ctx, readyInterval, readyTimeout, func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false, nil
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK, nil
	})
	switch out.Result {
	case poll.Satisfied:
		return nil
	case poll.TimedOut:
		return fmt.Errorf("no answer from %s after %d attempts", url, out.Attempts)
	default:
		return out.Err
	}
}
