package cluster

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/fluxcd/rz/pkg/resource"
)

// Event reasons recorded on a Deployment when it is rolled back.
const (
	ReasonRollback                 = "DeploymentRollback"
	ReasonRollbackRevisionNotFound = "DeploymentRollbackRevisionNotFound"
)

// Cluster is what the engine needs from the cluster it deploys to.
type Cluster interface {
	// Get fetches an object. If there is no such object, the error
	// satisfies errors.IsMissing.
	Get(ctx context.Context, kind resource.Kind, namespace, name string) (resource.Object, error)
	Create(ctx context.Context, obj resource.Object) error
	Update(ctx context.Context, obj resource.Object) error
	ListPods(ctx context.Context, namespace string, selector map[string]string) ([]corev1.Pod, error)
	// PodLogs returns the last tail lines logged by a container in a
	// pod; a tail of 0 means the whole log.
	PodLogs(ctx context.Context, namespace, pod, container string, tail int64) (string, error)
	// ListEvents returns the events in the namespace newer than the
	// resource version given; an empty resource version means all of
	// them. The list's resource version can be used as the watermark
	// for a later call.
	ListEvents(ctx context.Context, namespace, sinceResourceVersion string) (*corev1.EventList, error)
	// RollbackDeployment asks for a deployment to be rolled back to a
	// revision, 0 meaning the one before the current. The outcome is
	// reported as an event on the deployment.
	RollbackDeployment(ctx context.Context, namespace, name string, toRevision int64) error
	// ListDeployments returns the deployments in the namespace that
	// are managed by this tool.
	ListDeployments(ctx context.Context, namespace string) ([]appsv1.Deployment, error)
}
