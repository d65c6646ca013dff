package health

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
)

// PodPhase is what the monitor makes of a single pod.
type PodPhase int

const (
	PodNotReady PodPhase = iota
	PodRunning
	PodFailed
)

func (p PodPhase) String() string {
	switch p {
	case PodNotReady:
		return "not-ready"
	case PodRunning:
		return "running"
	case PodFailed:
		return "failed"
	}
	return fmt.Sprintf("PodPhase(%d)", int(p))
}

// Phase is what the monitor makes of a deployment, from its pods.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseRunning
	PhaseFailed
	PhaseSucceeded
)

func (p Phase) String() string {
	switch p {
	case PhaseUnknown:
		return "unknown"
	case PhaseRunning:
		return "running"
	case PhaseFailed:
		return "failed"
	case PhaseSucceeded:
		return "succeeded"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Waiting reasons that mean a container won't start without someone
// doing something about it.
var containerErrorStates = map[string]bool{
	"CrashLoopBackOff":    true,
	"ImagePullBackOff":    true,
	"ImageInspectError":   true,
	"ErrImagePull":        true,
	"ErrImageNeverPull":   true,
	"RegistryUnavailable": true,
}

// MaxRestarts is the number of container restarts after which a pod is
// considered failed.
const MaxRestarts = 3

// ClassifyPod decides the phase of a pod. If the pod is failed, detail
// says why. backoff is true if a container has restarted, but not so
// often that the pod is failed; it is worth waiting a while before
// looking again.
func ClassifyPod(pod *corev1.Pod) (phase PodPhase, detail string, backoff bool) {
	if podReady(pod) {
		return PodRunning, "", false
	}
	phase = PodNotReady
	for _, cs := range pod.Status.ContainerStatuses {
		if w := cs.State.Waiting; w != nil && containerErrorStates[w.Reason] {
			phase = PodFailed
			detail = w.Message
			if detail == "" {
				detail = fmt.Sprintf("container %s: %s", cs.Name, w.Reason)
			}
		}
		if cs.RestartCount > MaxRestarts {
			phase = PodFailed
			if detail == "" {
				detail = fmt.Sprintf("container %s restarted %d times", cs.Name, cs.RestartCount)
			}
		} else if cs.RestartCount > 0 {
			backoff = true
		}
	}
	if phase == PodFailed {
		backoff = false
	}
	return phase, detail, backoff
}

// failedContainer names the first container that makes the pod
// failed, or returns "" if none does.
func failedContainer(pod *corev1.Pod) string {
	for _, cs := range pod.Status.ContainerStatuses {
		if w := cs.State.Waiting; (w != nil && containerErrorStates[w.Reason]) || cs.RestartCount > MaxRestarts {
			return cs.Name
		}
	}
	return ""
}

func podReady(pod *corev1.Pod) bool {
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}
