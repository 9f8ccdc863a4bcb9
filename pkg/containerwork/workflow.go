package containerwork

import (
	"context"
	"fmt"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/namespaces"

	"github.com/kadds/job-judge/pkg/apperror"
	"github.com/kadds/job-judge/pkg/containercfg"
	"github.com/kadds/job-judge/pkg/logger"
)

// Workflow drives the containerd client through pull, snapshot, and task
// creation for one container config at a time.
type Workflow struct {
	client *containerd.Client
}

// New dials the containerd socket at address.
func New(address string) (*Workflow, error) {
	c, err := containerd.New(address)
	if err != nil {
		return nil, fmt.Errorf("containerwork: connect to containerd: %w", err)
	}
	return &Workflow{client: c}, nil
}

// Close releases the underlying containerd client connection.
func (w *Workflow) Close() error {
	return w.client.Close()
}

// Result reports the identifiers a successful Startup produced.
type Result struct {
	ID  string
	Pid uint32
}

// Startup runs the one-shot container creation workflow named by tmpl
// (already resolved by pkg/containercfg): pull the image, compute the
// image's chain digest, snapshot it, build the OCI runtime spec, create the
// container and its task, and start the task, requiring a non-zero pid after
// both task creation and start. Any failure aborts the sequence with an error
// and no Result; a container created before the failing step is not removed.
func (w *Workflow) Startup(ctx context.Context, namespace, cfgName string, tmpl containercfg.Template) (*Result, error) {
	ctx = namespaces.WithNamespace(ctx, namespace)

	id, err := NewID()
	if err != nil {
		return nil, fmt.Errorf("containerwork: generate id: %w", err)
	}

	image, err := w.client.Pull(ctx, tmpl.Image, containerd.WithPullUnpack)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeImageDigestFailed, "pull image failed")
	}

	diffIDs, err := image.RootFS(ctx)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeImageDigestFailed, "read image rootfs failed")
	}
	diffStrs := make([]string, len(diffIDs))
	for i, d := range diffIDs {
		diffStrs[i] = d.String()
	}
	chain, err := ChainDigest(diffStrs)
	if err != nil {
		return nil, err
	}
	logger.Log.Debug("resolved image chain digest", "image", tmpl.Image, "chain", chain)

	spec := BuildRuntimeSpec(namespace, id, tmpl)

	labels := map[string]string{
		"io.github/job-judge":                    cfgName,
		"io.containerd.image.config.stop-signal": "SIGTERM",
	}

	container, err := w.client.NewContainer(ctx, id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id, image),
		containerd.WithSpec(spec),
		containerd.WithContainerLabels(labels),
		containerd.WithRuntime(tmpl.Runtime, nil),
	)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeTaskStartFailed, "create container failed")
	}

	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStdio))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeTaskStartFailed, "create task failed")
	}
	if task.Pid() == 0 {
		return nil, apperror.New(apperror.CodeTaskStartFailed, "task created with pid 0")
	}

	if err := task.Start(ctx); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeTaskStartFailed, "start task failed")
	}
	if task.Pid() == 0 {
		return nil, apperror.New(apperror.CodeTaskStartFailed, "task started with pid 0")
	}

	return &Result{ID: id, Pid: task.Pid()}, nil
}
