// Package health watches the pods of a deployment until they are all
// running, or one of them has failed.
package health

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/kit/log"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/fluxcd/rz/pkg/cluster"
	"github.com/fluxcd/rz/pkg/resource"
)

const (
	DefaultPollInterval   = time.Second
	DefaultRestartBackoff = 10 * time.Second
	DefaultLogTail        = 20
)

// ErrTimeout is returned when the pods haven't settled within the
// monitor's timeout.
var ErrTimeout = errors.New("timed out waiting for pods")

type FailedPod struct {
	Name string
	// The container that failed, if it can be told which
	Container string
	Detail    string
	// The end of the container's log; empty if it has none
	Logs string
}

type Status struct {
	Phase      Phase
	FailedPods []FailedPod
}

type Monitor struct {
	cluster cluster.Cluster
	logger  log.Logger

	PollInterval   time.Duration
	RestartBackoff time.Duration
	// Lines of log to fetch for each failed pod
	LogTail int64
	// Zero means wait for as long as it takes
	Timeout time.Duration

	sleep func(context.Context, time.Duration) error
}

func NewMonitor(c cluster.Cluster, logger log.Logger) *Monitor {
	return &Monitor{
		cluster:        c,
		logger:         logger,
		PollInterval:   DefaultPollInterval,
		RestartBackoff: DefaultRestartBackoff,
		LogTail:        DefaultLogTail,
		sleep:          sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckStatus polls the deployment's pods until as many are running as
// the deployment wants, or any has failed.
func (m *Monitor) CheckStatus(ctx context.Context, deployment *appsv1.Deployment) (Status, error) {
	logger := log.With(m.logger, "deployment", deployment.Namespace+"/"+deployment.Name)
	pollCtx := ctx
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}

	var status Status
	err := wait.PollUntilContextCancel(pollCtx, m.PollInterval, true, func(ctx context.Context) (bool, error) {
		var err error
		status, err = m.observe(ctx, logger, deployment)
		if err != nil {
			return false, err
		}
		return status.Phase != PhaseUnknown, nil
	})
	switch {
	case err == nil:
		logger.Log("phase", status.Phase, "failed", len(status.FailedPods))
		m.attachLogs(ctx, logger, deployment.Namespace, status.FailedPods)
		return status, nil
	case ctx.Err() != nil:
		return Status{}, ctx.Err()
	case pollCtx.Err() != nil:
		return Status{}, ErrTimeout
	}
	return Status{}, err
}

// observe looks at the pods once.
func (m *Monitor) observe(ctx context.Context, logger log.Logger, deployment *appsv1.Deployment) (Status, error) {
	selector := map[string]string{}
	if deployment.Spec.Selector != nil {
		selector = deployment.Spec.Selector.MatchLabels
	}
	pods, err := m.cluster.ListPods(ctx, deployment.Namespace, selector)
	if err != nil {
		return Status{}, err
	}

	revision, revisioned, _ := resource.ParseRevision(deployment.Spec.Template.Annotations)
	desired := int32(1)
	if deployment.Spec.Replicas != nil {
		desired = *deployment.Spec.Replicas
	}

	var (
		running int32
		failed  []FailedPod
	)
	for i := range pods {
		pod := &pods[i]
		if pod.DeletionTimestamp != nil || (revisioned && outdated(pod, revision)) {
			continue
		}
		phase, detail, backoff := ClassifyPod(pod)
		logger.Log("pod", pod.Name, "phase", phase, "detail", detail)
		switch phase {
		case PodRunning:
			running++
		case PodFailed:
			failed = append(failed, FailedPod{Name: pod.Name, Container: failedContainer(pod), Detail: detail})
		}
		if backoff {
			logger.Log("pod", pod.Name, "info", "container restarting, backing off", "for", m.RestartBackoff)
			if err := m.sleep(ctx, m.RestartBackoff); err != nil {
				return Status{}, err
			}
		}
	}

	switch {
	case running == desired:
		return Status{Phase: PhaseRunning}, nil
	case len(failed) > 0:
		return Status{Phase: PhaseFailed, FailedPods: failed}, nil
	}
	return Status{Phase: PhaseUnknown}, nil
}

// attachLogs fetches the end of the log of each failed container. A
// container that never started has no log, so failing to get one is
// not an error.
func (m *Monitor) attachLogs(ctx context.Context, logger log.Logger, namespace string, failed []FailedPod) {
	for i := range failed {
		p := &failed[i]
		if p.Container == "" {
			continue
		}
		logs, err := m.cluster.PodLogs(ctx, namespace, p.Name, p.Container, m.LogTail)
		if err != nil {
			logger.Log("pod", p.Name, "container", p.Container, "warning", "no logs", "err", err)
			continue
		}
		p.Logs = logs
	}
}

// outdated reports whether the pod was made from an older pod template
// than the one the deployment has now.
func outdated(pod *corev1.Pod, revision int64) bool {
	rev, ok, err := resource.ParseRevision(pod.Annotations)
	return !ok || err != nil || rev != revision
}
