package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/latchkey-labs/embermcp/internal/task"
	"github.com/latchkey-labs/embermcp/internal/validation"
)

// sandboxParams is the sandbox_exec input: a shell command run to
// completion inside a disposable container, with no access to the host
// filesystem or network beyond what the image provides.
type sandboxParams struct {
	Image          string   `json:"image,omitempty"`
	Command        []string `json:"command"`
	TimeoutSeconds int      `json:"timeoutSeconds,omitempty"`
}

const defaultSandboxImage = "alpine:3.20"

// RegisterSandboxExec adds the sandbox_exec async tool: it runs a command
// to completion inside a throwaway Docker container, reporting progress at
// each lifecycle stage (create, start, running, collecting output) and
// honoring cooperative cancellation by killing and removing the container.
// Grounded on the teacher's internal/container/docker.Runtime, collapsed
// from its full container-lifecycle abstraction into the single run-to-
// completion shape this tool needs.
func RegisterSandboxExec(r *Registry) error {
	schema := objectSchema(map[string]*jsonschema.Schema{
		"image":          stringProp("container image to run the command in; defaults to alpine:3.20"),
		"command":        {Type: "array", Items: stringProp(""), Description: "argv to execute"},
		"timeoutSeconds": integerProp("wall-clock budget for the whole run"),
	}, "command")

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("tools: create docker client: %w", err)
	}

	return r.RegisterAsync("sandbox_exec", "Runs a command to completion inside a disposable sandboxed container.", schema, 0,
		func(ctx context.Context, t *task.Task, args []byte) (task.Result, error) {
			return runSandboxed(ctx, t, cli, args)
		})
}

func runSandboxed(ctx context.Context, t *task.Task, cli *client.Client, args []byte) (task.Result, error) {
	var p sandboxParams
	if err := json.Unmarshal(args, &p); err != nil {
		return task.Result{}, err
	}
	if len(p.Command) == 0 {
		return task.ErrorResult("command must be a non-empty argv array"), nil
	}
	if p.Image == "" {
		p.Image = defaultSandboxImage
	}
	if p.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	t.Progress(0, 4, "creating container")
	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image: p.Image,
		Cmd:   p.Command,
		Tty:   false,
	}, &container.HostConfig{
		AutoRemove:  false,
		NetworkMode: "none",
	}, nil, nil, "")
	if err != nil {
		return task.ErrorResult(fmt.Sprintf("failed to create sandbox container: %v", err)), nil
	}
	if err := validation.ValidateContainerID(resp.ID); err != nil {
		_ = cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return task.ErrorResult(fmt.Sprintf("sandbox container id failed validation: %v", err)), nil
	}
	defer func() {
		_ = cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}()

	t.Progress(1, 4, "starting container")
	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return task.ErrorResult(fmt.Sprintf("failed to start sandbox container: %v", err)), nil
	}

	t.Progress(2, 4, "running")
	waitCh, errCh := cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case <-ctx.Done():
		_ = cli.ContainerKill(context.Background(), resp.ID, "KILL")
		return task.Result{}, ctx.Err()
	case werr := <-errCh:
		if werr != nil {
			return task.ErrorResult(fmt.Sprintf("error waiting for sandbox container: %v", werr)), nil
		}
	case w := <-waitCh:
		exitCode = w.StatusCode
	}

	t.Progress(3, 4, "collecting output")
	logs, err := cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return task.ErrorResult(fmt.Sprintf("failed to read sandbox output: %v", err)), nil
	}
	defer func() { _ = logs.Close() }()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return task.ErrorResult(fmt.Sprintf("failed to demux sandbox output: %v", err)), nil
	}

	t.Progress(4, 4, "done")
	summary := map[string]any{
		"exitCode": exitCode,
		"stdout":   stdout.String(),
		"stderr":   stderr.String(),
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return task.Result{}, err
	}
	result := task.TextResult(string(data))
	result.IsError = exitCode != 0
	return result, nil
}
