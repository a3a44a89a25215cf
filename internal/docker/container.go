package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// RunSpec describes a detached container to create and start.
type RunSpec struct {
	Name       string
	Image      string
	Env        []string
	Binds      []string
	Ports      nat.PortMap
	AutoRemove bool
}

// ExecRequest is a command to run inside a running container.
type ExecRequest struct {
	Cmd    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ExecResult reports how an exec finished.
type ExecResult struct {
	ExitCode int
}

// Run creates and starts a container, pulling the image first when it is not
// present locally. A name clash is reported as ErrConflict.
func (c *Client) Run(ctx context.Context, spec RunSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if strings.TrimSpace(spec.Image) == "" {
		return fmt.Errorf("image name cannot be empty")
	}
	if err := c.ensureImage(ctx, spec.Image); err != nil {
		return err
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: nat.PortSet{},
	}
	for p := range spec.Ports {
		cfg.ExposedPorts[p] = struct{}{}
	}
	hostCfg := &container.HostConfig{
		Binds:        spec.Binds,
		PortBindings: spec.Ports,
		AutoRemove:   spec.AutoRemove,
	}

	created, err := c.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return classify("container create", err)
	}
	if err := c.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return classify("container start", err)
	}
	c.log.Debug("container started", "container", spec.Name, "id", created.ID)
	return nil
}

// Stop stops a container by name. A missing container is reported as ErrNotFound.
func (c *Client) Stop(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if err := c.inner.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		return classify("container stop", err)
	}
	return nil
}

// Logs follows the container's output until it exits or ctx is cancelled.
func (c *Client) Logs(ctx context.Context, name string, stdout, stderr io.Writer) error {
	rc, err := c.inner.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return classify("container logs", err)
	}
	defer rc.Close()
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream container logs: %w", err)
	}
	return nil
}

// Exec runs req.Cmd inside the named container and waits for it to finish.
// When req.Stdin is set it is streamed to the process and then closed.
func (c *Client) Exec(ctx context.Context, name string, req ExecRequest) (ExecResult, error) {
	if len(req.Cmd) == 0 {
		return ExecResult{}, fmt.Errorf("exec command cannot be empty")
	}
	created, err := c.inner.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          req.Cmd,
		AttachStdin:  req.Stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, classify("exec create", err)
	}
	resp, err := c.inner.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, classify("exec attach", err)
	}
	defer resp.Close()

	stdinErr := make(chan error, 1)
	if req.Stdin != nil {
		go func() {
			_, err := io.Copy(resp.Conn, req.Stdin)
			if cerr := resp.CloseWrite(); err == nil {
				err = cerr
			}
			stdinErr <- err
		}()
	} else {
		stdinErr <- nil
	}

	stdout, stderr := req.Stdout, req.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if _, err := stdcopy.StdCopy(stdout, stderr, resp.Reader); err != nil {
		return ExecResult{}, fmt.Errorf("read exec output: %w", err)
	}
	if err := <-stdinErr; err != nil {
		return ExecResult{}, fmt.Errorf("write exec input: %w", err)
	}

	inspect, err := c.inner.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, classify("exec inspect", err)
	}
	c.log.Debug("exec finished", "container", name, "command", strings.Join(req.Cmd, " "), "exit_code", inspect.ExitCode)
	return ExecResult{ExitCode: inspect.ExitCode}, nil
}

func (c *Client) ensureImage(ctx context.Context, ref string) error {
	if _, _, err := c.inner.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspect image: %w", err)
	}

	c.log.Info("pulling image", "image", ref)
	rc, err := c.inner.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("image pull: %w", err)
	}
	defer rc.Close()
	decoder := json.NewDecoder(rc)
	for {
		var msg pullMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("decode pull output: %w", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return fmt.Errorf("image pull: %s", errMsg)
		}
		if line := msg.render(); line != "" {
			c.log.Debug("pull progress", "image", ref, "status", line)
		}
	}
}

type pullMessage struct {
	Status      string `json:"status"`
	ID          string `json:"id"`
	Progress    string `json:"progress"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func (m pullMessage) errorMessage() string {
	if msg := strings.TrimSpace(m.Error); msg != "" {
		return msg
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m pullMessage) render() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{m.ID, m.Status, m.Progress} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
