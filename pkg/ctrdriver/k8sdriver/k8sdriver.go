// Package k8sdriver implements ctrdriver.Driver against Kubernetes, running
// each container as a single-container Pod and attaching to it over SPDY
// exec the same way "kubectl exec -it" does.
package k8sdriver

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
	"k8s.io/client-go/util/retry"

	"github.com/cliboard/cliboard/pkg/ctrdriver"
)

const (
	agentContainer   = "agent"
	workspaceVolume  = "workspace"
	credsVolume      = "creds"
	tmpVolume        = "tmp"
	workspaceMountPt = "/workspace"
	credsMountPt     = "/home/agent/.creds"
	tmpMountPt       = "/tmp"
	tmpfsSizeMi      = 256
)

// sleepForeverShim is the command every Pod's container starts with; the
// caller's real argv is exec'd into it afterward, exactly like warm-exec.
var sleepForeverShim = []string{"/bin/sh", "-c", "trap exit TERM; while true; do sleep 3600 & wait; done"}

// Driver implements ctrdriver.Driver using client-go.
type Driver struct {
	clientset *kubernetes.Clientset
	restCfg   *rest.Config
	namespace string

	mu         sync.Mutex
	sizeQueues map[string]*sizeQueue // keyed by pod name, one live exec at a time
}

// New builds a Driver targeting namespace, using kubeconfigPath (empty for
// in-cluster/default lookup).
func New(namespace, kubeconfigPath string) (*Driver, error) {
	cs, cfg, err := NewClientset(kubeconfigPath)
	if err != nil {
		return nil, err
	}
	return &Driver{
		clientset:  cs,
		restCfg:    cfg,
		namespace:  namespace,
		sizeQueues: make(map[string]*sizeQueue),
	}, nil
}

func podVolumes(spec ctrdriver.CreateSpec) ([]corev1.Volume, []corev1.VolumeMount) {
	var volumes []corev1.Volume
	var mounts []corev1.VolumeMount

	for i, m := range spec.Mounts {
		name := fmt.Sprintf("mount-%d", i)
		volumes = append(volumes, corev1.Volume{
			Name: name,
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{Path: m.HostPath},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{
			Name:      name,
			MountPath: m.ContainerPath,
			ReadOnly:  m.ReadOnly,
		})
	}

	if spec.TmpfsTmp {
		sizeLimit := resource.MustParse(fmt.Sprintf("%dMi", tmpfsSizeMi))
		volumes = append(volumes, corev1.Volume{
			Name: tmpVolume,
			VolumeSource: corev1.VolumeSource{
				EmptyDir: &corev1.EmptyDirVolumeSource{
					Medium:    corev1.StorageMediumMemory,
					SizeLimit: &sizeLimit,
				},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: tmpVolume, MountPath: tmpMountPt})
	}

	return volumes, mounts
}

func toEnvVars(env map[string]string) []corev1.EnvVar {
	out := make([]corev1.EnvVar, 0, len(env))
	for k, v := range env {
		out = append(out, corev1.EnvVar{Name: k, Value: v})
	}
	return out
}

// buildPod renders the Pod for a fresh run or a warm container. Workspace
// and creds paths, which may violate the DNS-1123 label-value charset, are
// carried as annotations; LabelsAndAnnotations derives the matching label
// set with path values replaced by short hashes for lookup.
func (d *Driver) buildPod(name string, spec ctrdriver.CreateSpec) *corev1.Pod {
	volumes, mounts := podVolumes(spec)

	securityCtx := &corev1.SecurityContext{}
	if spec.ReadOnlyRoot {
		ro := true
		securityCtx.ReadOnlyRootFilesystem = &ro
	}
	if uid, gid, ok := parseUIDGID(spec.UIDGID); ok {
		securityCtx.RunAsUser = &uid
		securityCtx.RunAsGroup = &gid
	}

	labels, annotations := LabelsAndAnnotations(spec.Labels)

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   d.namespace,
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Volumes:       volumes,
			Containers: []corev1.Container{
				{
					Name:            agentContainer,
					Image:           spec.Image,
					Command:         sleepForeverShim,
					Env:             toEnvVars(spec.Env),
					VolumeMounts:    mounts,
					WorkingDir:      spec.WorkDir,
					SecurityContext: securityCtx,
					Stdin:           true,
					TTY:             true,
				},
			},
		},
	}
}

func (d *Driver) CreateFresh(ctx context.Context, spec ctrdriver.CreateSpec) (ctrdriver.Ref, ctrdriver.Stream, error) {
	if spec.Image == "" {
		return ctrdriver.Ref{}, ctrdriver.Stream{}, fmt.Errorf("k8sdriver: spec.Image is required")
	}

	name := podNameFor(spec.Labels)
	pod := d.buildPod(name, spec)

	if _, err := d.clientset.CoreV1().Pods(d.namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		return ctrdriver.Ref{}, ctrdriver.Stream{}, fmt.Errorf("k8sdriver: create pod %s: %w", name, err)
	}

	if err := d.waitRunning(ctx, name); err != nil {
		_ = d.removeByName(ctx, name, true)
		return ctrdriver.Ref{}, ctrdriver.Stream{}, err
	}

	ref := ctrdriver.Ref{ContainerID: name}
	stream, err := d.execAttach(ctx, name, spec.Argv, spec.Env, spec.WorkDir)
	if err != nil {
		_ = d.removeByName(ctx, name, true)
		return ctrdriver.Ref{}, ctrdriver.Stream{}, err
	}
	return ref, stream, nil
}

func (d *Driver) ExecInWarm(ctx context.Context, warmRef ctrdriver.Ref, spec ctrdriver.ExecSpec) (ctrdriver.Ref, ctrdriver.Stream, error) {
	stream, err := d.execAttach(ctx, warmRef.ContainerID, spec.Argv, spec.Env, spec.WorkDir)
	if err != nil {
		return ctrdriver.Ref{}, ctrdriver.Stream{}, err
	}
	return ctrdriver.Ref{ContainerID: warmRef.ContainerID, ExecID: "exec"}, stream, nil
}

func (d *Driver) execAttach(ctx context.Context, podName string, argv []string, env map[string]string, workDir string) (ctrdriver.Stream, error) {
	cmd := argv
	if len(cmd) == 0 {
		cmd = []string{"/bin/sh"}
	}
	if workDir != "" {
		cmd = append([]string{"/bin/sh", "-c", "cd " + shellQuote(workDir) + " && exec \"$@\"", "--"}, cmd...)
	}
	if len(env) > 0 {
		envArgs := make([]string, 0, len(env)+1)
		envArgs = append(envArgs, "/usr/bin/env")
		for k, v := range env {
			envArgs = append(envArgs, k+"="+v)
		}
		cmd = append(envArgs, cmd...)
	}

	req := d.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(podName).
		Namespace(d.namespace).
		SubResource("exec")

	req.VersionedParams(&corev1.PodExecOptions{
		Container: agentContainer,
		Command:   cmd,
		Stdin:     true,
		Stdout:    true,
		Stderr:    true,
		TTY:       true,
	}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(d.restCfg, "POST", req.URL())
	if err != nil {
		return ctrdriver.Stream{}, fmt.Errorf("k8sdriver: new executor: %w", err)
	}

	pr, pw := io.Pipe()     // bytes written by the caller -> stdin of the exec
	outR, outW := io.Pipe() // bytes from the exec -> read by the caller
	sq := newSizeQueue()

	d.mu.Lock()
	d.sizeQueues[podName] = sq
	d.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		defer outW.Close()
		defer func() {
			d.mu.Lock()
			delete(d.sizeQueues, podName)
			d.mu.Unlock()
		}()
		_ = exec.StreamWithContext(streamCtx, remotecommand.StreamOptions{
			Stdin:             pr,
			Stdout:            outW,
			Stderr:            outW,
			Tty:               true,
			TerminalSizeQueue: sq,
		})
	}()

	closer := &execCloser{cancel: cancel, pw: pw, sizeQueue: sq}
	return ctrdriver.Stream{Reader: outR, Writer: pw, Closer: closer}, nil
}

type execCloser struct {
	cancel    context.CancelFunc
	pw        *io.PipeWriter
	sizeQueue *sizeQueue
}

func (c *execCloser) Close() error {
	c.cancel()
	c.sizeQueue.close()
	return c.pw.Close()
}

func (d *Driver) Resize(ctx context.Context, ref ctrdriver.Ref, cols, rows int) error {
	d.mu.Lock()
	sq, ok := d.sizeQueues[ref.ContainerID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("k8sdriver: no live exec stream for pod %s", ref.ContainerID)
	}
	sq.push(cols, rows)
	return nil
}

func (d *Driver) Stop(ctx context.Context, ref ctrdriver.Ref, graceSec int) error {
	grace := int64(graceSec)
	err := d.clientset.CoreV1().Pods(d.namespace).Delete(ctx, ref.ContainerID, metav1.DeleteOptions{
		GracePeriodSeconds: &grace,
	})
	if err != nil && !k8serrors.IsNotFound(err) {
		return fmt.Errorf("k8sdriver: stop pod %s: %w", ref.ContainerID, err)
	}
	return nil
}

func (d *Driver) Kill(ctx context.Context, ref ctrdriver.Ref) error {
	return d.removeByName(ctx, ref.ContainerID, true)
}

func (d *Driver) ExecOneShot(ctx context.Context, ref ctrdriver.Ref, argv []string) error {
	req := d.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(ref.ContainerID).
		Namespace(d.namespace).
		SubResource("exec")

	req.VersionedParams(&corev1.PodExecOptions{
		Container: agentContainer,
		Command:   argv,
		Stdout:    true,
		Stderr:    true,
	}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(d.restCfg, "POST", req.URL())
	if err != nil {
		return fmt.Errorf("k8sdriver: exec-once new executor in %s: %w", ref.ContainerID, err)
	}

	if err := exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: io.Discard,
		Stderr: io.Discard,
	}); err != nil {
		return fmt.Errorf("k8sdriver: exec-once %v in %s: %w", argv, ref.ContainerID, err)
	}
	return nil
}

func (d *Driver) Remove(ctx context.Context, ref ctrdriver.Ref, force bool) error {
	return d.removeByName(ctx, ref.ContainerID, force)
}

func (d *Driver) removeByName(ctx context.Context, name string, force bool) error {
	grace := int64(0)
	opts := metav1.DeleteOptions{}
	if force {
		opts.GracePeriodSeconds = &grace
	}
	err := d.clientset.CoreV1().Pods(d.namespace).Delete(ctx, name, opts)
	if err != nil && !k8serrors.IsNotFound(err) {
		return fmt.Errorf("k8sdriver: remove pod %s: %w", name, err)
	}
	return nil
}

func (d *Driver) Wait(ctx context.Context, ref ctrdriver.Ref) (ctrdriver.ExitInfo, error) {
	for {
		pod, err := d.clientset.CoreV1().Pods(d.namespace).Get(ctx, ref.ContainerID, metav1.GetOptions{})
		if err != nil {
			if k8serrors.IsNotFound(err) {
				return ctrdriver.ExitInfo{}, nil
			}
			return ctrdriver.ExitInfo{}, fmt.Errorf("k8sdriver: get pod %s: %w", ref.ContainerID, err)
		}
		switch pod.Status.Phase {
		case corev1.PodSucceeded:
			return ctrdriver.ExitInfo{ExitCode: 0}, nil
		case corev1.PodFailed:
			return ctrdriver.ExitInfo{ExitCode: 1}, nil
		}
		select {
		case <-ctx.Done():
			return ctrdriver.ExitInfo{}, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (d *Driver) Inspect(ctx context.Context, ref ctrdriver.Ref) (ctrdriver.Status, error) {
	pod, err := d.clientset.CoreV1().Pods(d.namespace).Get(ctx, ref.ContainerID, metav1.GetOptions{})
	if err != nil {
		return ctrdriver.Status{}, fmt.Errorf("k8sdriver: get pod %s: %w", ref.ContainerID, err)
	}

	mounts := make([]ctrdriver.Mount, 0, len(pod.Spec.Volumes))
	for _, v := range pod.Spec.Volumes {
		if v.HostPath == nil {
			continue
		}
		mounts = append(mounts, ctrdriver.Mount{HostPath: v.HostPath.Path})
	}

	return ctrdriver.Status{
		Running: pod.Status.Phase == corev1.PodRunning,
		Labels:  AnnotationsToLabels(pod.Labels, pod.Annotations),
		Mounts:  mounts,
	}, nil
}

func (d *Driver) List(ctx context.Context, labelFilter map[string]string) ([]ctrdriver.Ref, error) {
	labels, _ := LabelsAndAnnotations(labelFilter)
	selector := metav1.ListOptions{LabelSelector: labelsSelectorString(labels)}

	pods, err := d.clientset.CoreV1().Pods(d.namespace).List(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("k8sdriver: list pods: %w", err)
	}

	refs := make([]ctrdriver.Ref, 0, len(pods.Items))
	for _, p := range pods.Items {
		refs = append(refs, ctrdriver.Ref{ContainerID: p.Name})
	}
	return refs, nil
}

func (d *Driver) waitRunning(ctx context.Context, name string) error {
	return retry.OnError(retry.DefaultBackoff, func(error) bool { return true }, func() error {
		pod, err := d.clientset.CoreV1().Pods(d.namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		if pod.Status.Phase != corev1.PodRunning {
			return fmt.Errorf("k8sdriver: pod %s not yet running (phase=%s)", name, pod.Status.Phase)
		}
		return nil
	})
}
