// Package dockerdriver implements ctrdriver.Driver against the Docker
// Engine API.
package dockerdriver

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"

	"github.com/cliboard/cliboard/pkg/ctrdriver"
)

const tmpfsSize = 256 * 1024 * 1024

// Driver implements ctrdriver.Driver using docker/docker/client.
type Driver struct {
	client *dockerclient.Client
}

// New constructs a Driver from the ambient Docker environment (DOCKER_HOST
// or the default socket), negotiating the API version with the daemon.
func New() (*Driver, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("dockerdriver: new client: %w", err)
	}
	return &Driver{client: cli}, nil
}

func toMounts(mounts []ctrdriver.Mount) []string {
	// Returned as docker "HostPath:ContainerPath[:ro]" bind strings for
	// HostConfig.Binds.
	out := make([]string, 0, len(mounts))
	for _, m := range mounts {
		b := m.HostPath + ":" + m.ContainerPath
		if m.ReadOnly {
			b += ":ro"
		}
		out = append(out, b)
	}
	return out
}

func toEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func (d *Driver) CreateFresh(ctx context.Context, spec ctrdriver.CreateSpec) (ctrdriver.Ref, ctrdriver.Stream, error) {
	if spec.Image == "" {
		return ctrdriver.Ref{}, ctrdriver.Stream{}, fmt.Errorf("dockerdriver: spec.Image is required")
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          toEnv(spec.Env),
		Labels:       spec.Labels,
		WorkingDir:   spec.WorkDir,
		Tty:          true,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Entrypoint:   nil,
		Cmd:          spec.Argv,
	}

	hostCfg := &container.HostConfig{
		Binds:      toMounts(spec.Mounts),
		AutoRemove: true,
	}
	if spec.ReadOnlyRoot {
		hostCfg.ReadonlyRootfs = true
	}
	if spec.TmpfsTmp {
		hostCfg.Tmpfs = map[string]string{
			"/tmp": fmt.Sprintf("size=%d,noexec,nosuid", tmpfsSize),
		}
	}
	if spec.UIDGID != "" {
		hostCfg.Resources = container.Resources{}
		cfg.User = spec.UIDGID
	}

	created, err := d.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return ctrdriver.Ref{}, ctrdriver.Stream{}, fmt.Errorf("dockerdriver: create container: %w", err)
	}

	attach, err := d.client.ContainerAttach(ctx, created.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		_ = d.client.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return ctrdriver.Ref{}, ctrdriver.Stream{}, fmt.Errorf("dockerdriver: attach container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		attach.Close()
		_ = d.client.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return ctrdriver.Ref{}, ctrdriver.Stream{}, fmt.Errorf("dockerdriver: start container: %w", err)
	}

	ref := ctrdriver.Ref{ContainerID: created.ID}
	stream := ctrdriver.Stream{Reader: attach.Reader, Writer: attach.Conn, Closer: attach.Conn}
	return ref, stream, nil
}

func (d *Driver) ExecInWarm(ctx context.Context, warmRef ctrdriver.Ref, spec ctrdriver.ExecSpec) (ctrdriver.Ref, ctrdriver.Stream, error) {
	execCfg := container.ExecOptions{
		Env:          toEnv(spec.Env),
		WorkingDir:   spec.WorkDir,
		Cmd:          spec.Argv,
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := d.client.ContainerExecCreate(ctx, warmRef.ContainerID, execCfg)
	if err != nil {
		return ctrdriver.Ref{}, ctrdriver.Stream{}, fmt.Errorf("dockerdriver: exec create: %w", err)
	}

	attach, err := d.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return ctrdriver.Ref{}, ctrdriver.Stream{}, fmt.Errorf("dockerdriver: exec attach: %w", err)
	}

	ref := ctrdriver.Ref{ContainerID: warmRef.ContainerID, ExecID: created.ID}
	stream := ctrdriver.Stream{Reader: attach.Reader, Writer: attach.Conn, Closer: attach.Conn}
	return ref, stream, nil
}

func (d *Driver) Resize(ctx context.Context, ref ctrdriver.Ref, cols, rows int) error {
	size := container.ResizeOptions{Height: uint(rows), Width: uint(cols)}
	if ref.ExecID != "" {
		if err := d.client.ContainerExecResize(ctx, ref.ExecID, size); err != nil {
			return fmt.Errorf("dockerdriver: resize exec: %w", err)
		}
		return nil
	}
	if err := d.client.ContainerResize(ctx, ref.ContainerID, size); err != nil {
		return fmt.Errorf("dockerdriver: resize container: %w", err)
	}
	return nil
}

func (d *Driver) Stop(ctx context.Context, ref ctrdriver.Ref, graceSec int) error {
	timeout := graceSec
	if err := d.client.ContainerStop(ctx, ref.ContainerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("dockerdriver: stop container %s: %w", ref.ContainerID, err)
	}
	return nil
}

func (d *Driver) Kill(ctx context.Context, ref ctrdriver.Ref) error {
	if err := d.client.ContainerKill(ctx, ref.ContainerID, "SIGKILL"); err != nil {
		return fmt.Errorf("dockerdriver: kill container %s: %w", ref.ContainerID, err)
	}
	return nil
}

func (d *Driver) ExecOneShot(ctx context.Context, ref ctrdriver.Ref, argv []string) error {
	created, err := d.client.ContainerExecCreate(ctx, ref.ContainerID, container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("dockerdriver: exec-once create in %s: %w", ref.ContainerID, err)
	}

	attach, err := d.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("dockerdriver: exec-once attach in %s: %w", ref.ContainerID, err)
	}
	defer attach.Close()
	go io.Copy(io.Discard, attach.Reader)

	for {
		inspect, err := d.client.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return fmt.Errorf("dockerdriver: exec-once inspect in %s: %w", ref.ContainerID, err)
		}
		if !inspect.Running {
			if inspect.ExitCode != 0 {
				return fmt.Errorf("dockerdriver: exec-once %v in %s exited %d", argv, ref.ContainerID, inspect.ExitCode)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (d *Driver) Remove(ctx context.Context, ref ctrdriver.Ref, force bool) error {
	if err := d.client.ContainerRemove(ctx, ref.ContainerID, container.RemoveOptions{Force: force}); err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("dockerdriver: remove container %s: %w", ref.ContainerID, err)
	}
	return nil
}

func (d *Driver) Wait(ctx context.Context, ref ctrdriver.Ref) (ctrdriver.ExitInfo, error) {
	if ref.ExecID != "" {
		for {
			inspect, err := d.client.ContainerExecInspect(ctx, ref.ExecID)
			if err != nil {
				return ctrdriver.ExitInfo{}, fmt.Errorf("dockerdriver: exec inspect: %w", err)
			}
			if !inspect.Running {
				return ctrdriver.ExitInfo{ExitCode: inspect.ExitCode}, nil
			}
			select {
			case <-ctx.Done():
				return ctrdriver.ExitInfo{}, ctx.Err()
			default:
			}
		}
	}

	statusCh, errCh := d.client.ContainerWait(ctx, ref.ContainerID, container.WaitConditionNotRunning)
	select {
	case st := <-statusCh:
		info := ctrdriver.ExitInfo{ExitCode: int(st.StatusCode)}
		if st.Error != nil {
			info.Err = fmt.Errorf("dockerdriver: wait: %s", st.Error.Message)
		}
		return info, nil
	case err := <-errCh:
		return ctrdriver.ExitInfo{}, fmt.Errorf("dockerdriver: wait container %s: %w", ref.ContainerID, err)
	}
}

func (d *Driver) Inspect(ctx context.Context, ref ctrdriver.Ref) (ctrdriver.Status, error) {
	inspect, err := d.client.ContainerInspect(ctx, ref.ContainerID)
	if err != nil {
		return ctrdriver.Status{}, fmt.Errorf("dockerdriver: inspect container %s: %w", ref.ContainerID, err)
	}

	mounts := make([]ctrdriver.Mount, 0, len(inspect.Mounts))
	for _, m := range inspect.Mounts {
		mounts = append(mounts, ctrdriver.Mount{
			HostPath:      m.Source,
			ContainerPath: m.Destination,
			ReadOnly:      !m.RW,
		})
	}

	return ctrdriver.Status{
		Running: inspect.State != nil && inspect.State.Running,
		Labels:  inspect.Config.Labels,
		Mounts:  mounts,
	}, nil
}

func (d *Driver) List(ctx context.Context, labelFilter map[string]string) ([]ctrdriver.Ref, error) {
	args := filters.NewArgs()
	for k, v := range labelFilter {
		args.Add("label", k+"="+v)
	}

	containers, err := d.client.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("dockerdriver: list containers: %w", err)
	}

	refs := make([]ctrdriver.Ref, 0, len(containers))
	for _, c := range containers {
		refs = append(refs, ctrdriver.Ref{ContainerID: c.ID})
	}
	return refs, nil
}

// ContainerNameOf strips the leading "/" Docker's inspect API prepends.
func ContainerNameOf(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

var _ io.Closer = (*Driver)(nil)

// Close releases the underlying Docker client connection.
func (d *Driver) Close() error {
	return d.client.Close()
}
