package kubernetes

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apiequality "k8s.io/apimachinery/pkg/api/equality"
	meta_v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/fluxcd/rz/pkg/cluster"
	"github.com/fluxcd/rz/pkg/resource"
)

const (
	eventSource = "rz"

	rollbackNotFoundMessage  = "Unable to find the revision to rollback to."
	rollbackAmbiguousMessage = "Revision %d was given to more than one pod template at the same time."
)

// RollbackDeployment restores the pod template the deployment had at a
// given revision, taking it from the ReplicaSet the deployment created
// at the time. apps/v1 has no rollback subresource, so this does what
// the deployment controller used to do for extensions/v1beta1, down to
// the events it records.
func (c *Cluster) RollbackDeployment(ctx context.Context, namespace, name string, toRevision int64) error {
	logger := log.With(c.logger, "deployment", namespace+"/"+name, "to-revision", toRevision)

	deployment, err := c.client.AppsV1().Deployments(namespace).Get(ctx, name, meta_v1.GetOptions{})
	countRequest("get", string(resource.KindDeployment), err)
	if err != nil {
		return errors.Wrapf(err, "getting deployment %s/%s", namespace, name)
	}

	owned, err := c.ownedReplicaSets(ctx, deployment)
	if err != nil {
		return err
	}
	rs, err := findRevision(deployment, owned, toRevision)
	switch {
	case err == errAmbiguousRevision:
		logger.Log("warning", "revision matches more than one replicaset")
		return c.recordEvent(ctx, deployment, corev1.EventTypeWarning, cluster.ReasonRollbackRevisionNotFound,
			fmt.Sprintf(rollbackAmbiguousMessage, toRevision))
	case err != nil:
		return err
	case rs == nil:
		logger.Log("warning", "revision not found")
		return c.recordEvent(ctx, deployment, corev1.EventTypeWarning, cluster.ReasonRollbackRevisionNotFound, rollbackNotFoundMessage)
	}

	highest, err := highestRevision(deployment, owned)
	if err != nil {
		return err
	}
	revision, _, _ := resource.ParseRevision(rs.Spec.Template.Annotations)
	modified := deployment.DeepCopy()
	modified.Spec.Template = *rs.Spec.Template.DeepCopy()
	delete(modified.Spec.Template.Labels, appsv1.DefaultDeploymentUniqueLabelKey)
	if modified.Annotations == nil {
		modified.Annotations = map[string]string{}
	}
	modified.Annotations[resource.RevisionAnnotation] = strconv.FormatInt(revision, 10)
	if highest > revision {
		modified.Annotations[resource.HighestRevisionAnnotation] = strconv.FormatInt(highest, 10)
	}

	patch, err := rollbackPatch(deployment, modified)
	if err != nil {
		return errors.Wrap(err, "computing rollback patch")
	}
	_, err = c.client.AppsV1().Deployments(namespace).Patch(ctx, name, types.StrategicMergePatchType, patch, meta_v1.PatchOptions{})
	countRequest("patch", string(resource.KindDeployment), err)
	if err != nil {
		return errors.Wrapf(err, "patching deployment %s/%s", namespace, name)
	}
	logger.Log("info", "rolled back", "revision", revision, "replicaset", rs.Name, "highest-revision", highest)
	return c.recordEvent(ctx, deployment, corev1.EventTypeNormal, cluster.ReasonRollback,
		fmt.Sprintf("Rolled back deployment %q to revision %d", name, revision))
}

func (c *Cluster) ownedReplicaSets(ctx context.Context, deployment *appsv1.Deployment) ([]appsv1.ReplicaSet, error) {
	selector, err := meta_v1.LabelSelectorAsSelector(deployment.Spec.Selector)
	if err != nil {
		return nil, errors.Wrap(err, "parsing deployment selector")
	}
	list, err := c.client.AppsV1().ReplicaSets(deployment.Namespace).List(ctx, meta_v1.ListOptions{
		LabelSelector: selector.String(),
	})
	countRequest("list", string(resource.KindReplicaSet), err)
	if err != nil {
		return nil, errors.Wrapf(err, "listing replicasets for deployment %s", deployment.Name)
	}
	var owned []appsv1.ReplicaSet
	for _, rs := range list.Items {
		if meta_v1.IsControlledBy(&rs, deployment) {
			owned = append(owned, rs)
		}
	}
	return owned, nil
}

var errAmbiguousRevision = errors.New("revision matches more than one pod template")

// findRevision returns the ReplicaSet whose pod template has the
// revision given. A revision of 0 means the newest revision older than
// the deployment's current one. It returns nil if there is no such
// ReplicaSet.
//
// A revision can end up on more than one pod template if it was given
// out twice; the most recently created ReplicaSet is the one that
// revision last stood for. ReplicaSets created in the same second can't
// be told apart that way, so differing templates among them are
// errAmbiguousRevision.
func findRevision(deployment *appsv1.Deployment, owned []appsv1.ReplicaSet, toRevision int64) (*appsv1.ReplicaSet, error) {
	current, _, err := resource.ParseRevision(deployment.Spec.Template.Annotations)
	if err != nil {
		return nil, err
	}

	target := toRevision
	if target == 0 {
		for i := range owned {
			rev, ok, err := resource.ParseRevision(owned[i].Spec.Template.Annotations)
			if err == nil && ok && rev < current && rev > target {
				target = rev
			}
		}
		if target == 0 {
			return nil, nil
		}
	}

	var candidates []*appsv1.ReplicaSet
	for i := range owned {
		rev, ok, err := resource.ParseRevision(owned[i].Spec.Template.Annotations)
		if err == nil && ok && rev == target {
			candidates = append(candidates, &owned[i])
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[j].CreationTimestamp.Before(&candidates[i].CreationTimestamp)
	})
	newest := candidates[0]
	for _, rs := range candidates[1:] {
		if !rs.CreationTimestamp.Equal(&newest.CreationTimestamp) {
			break
		}
		if !sameTemplate(rs, newest) {
			return nil, errAmbiguousRevision
		}
	}
	return newest, nil
}

func sameTemplate(a, b *appsv1.ReplicaSet) bool {
	ta, tb := a.Spec.Template.DeepCopy(), b.Spec.Template.DeepCopy()
	delete(ta.Labels, appsv1.DefaultDeploymentUniqueLabelKey)
	delete(tb.Labels, appsv1.DefaultDeploymentUniqueLabelKey)
	return apiequality.Semantic.DeepEqual(ta, tb)
}

// highestRevision is the highest revision the deployment has been at,
// going by its annotations and the pod templates it has had.
func highestRevision(deployment *appsv1.Deployment, owned []appsv1.ReplicaSet) (int64, error) {
	highest, err := resource.HighestRevision(deployment.Annotations)
	if err != nil {
		return 0, err
	}
	for i := range owned {
		rev, ok, err := resource.ParseRevision(owned[i].Spec.Template.Annotations)
		if err == nil && ok && rev > highest {
			highest = rev
		}
	}
	return highest, nil
}

func (c *Cluster) recordEvent(ctx context.Context, deployment *appsv1.Deployment, eventType, reason, message string) error {
	now := meta_v1.NewTime(time.Now())
	event := &corev1.Event{
		ObjectMeta: meta_v1.ObjectMeta{
			Name:      deployment.Name + "." + uuid.New().String(),
			Namespace: deployment.Namespace,
		},
		InvolvedObject: corev1.ObjectReference{
			Kind:            string(resource.KindDeployment),
			APIVersion:      appsv1.SchemeGroupVersion.String(),
			Namespace:       deployment.Namespace,
			Name:            deployment.Name,
			UID:             deployment.UID,
			ResourceVersion: deployment.ResourceVersion,
		},
		Reason:         reason,
		Message:        message,
		Type:           eventType,
		Source:         corev1.EventSource{Component: eventSource},
		FirstTimestamp: now,
		LastTimestamp:  now,
		Count:          1,
	}
	_, err := c.client.CoreV1().Events(deployment.Namespace).Create(ctx, event, meta_v1.CreateOptions{})
	countRequest("create", "Event", err)
	if err != nil {
		return errors.Wrapf(err, "recording %s event", reason)
	}
	return nil
}
