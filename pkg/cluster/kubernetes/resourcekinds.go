package kubernetes

import (
	"context"
	"fmt"

	meta_v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sclient "k8s.io/client-go/kubernetes"

	"github.com/fluxcd/rz/pkg/resource"
)

/////////////////////////////////////////////////////////////////////////////
// Kind registry

type resourceKind interface {
	get(ctx context.Context, c k8sclient.Interface, namespace, name string) (resource.Object, error)
	create(ctx context.Context, c k8sclient.Interface, obj resource.Object) error
	update(ctx context.Context, c k8sclient.Interface, obj resource.Object) error
}

var (
	resourceKinds = make(map[resource.Kind]resourceKind)
)

func init() {
	resourceKinds[resource.KindNamespace] = &namespaceKind{}
	resourceKinds[resource.KindPod] = &podKind{}
	resourceKinds[resource.KindDeployment] = &deploymentKind{}
	resourceKinds[resource.KindReplicationController] = &replicationControllerKind{}
	resourceKinds[resource.KindReplicaSet] = &replicaSetKind{}
	resourceKinds[resource.KindService] = &serviceKind{}
}

func wrongKind(obj resource.Object, want resource.Kind) error {
	return fmt.Errorf("expected a %s, got %s", want, obj.ID())
}

/////////////////////////////////////////////////////////////////////////////
// core/v1 Namespace

type namespaceKind struct{}

func (k *namespaceKind) get(ctx context.Context, c k8sclient.Interface, _, name string) (resource.Object, error) {
	ns, err := c.CoreV1().Namespaces().Get(ctx, name, meta_v1.GetOptions{})
	if err != nil {
		return resource.Object{}, err
	}
	return resource.NewNamespace(ns), nil
}

func (k *namespaceKind) create(ctx context.Context, c k8sclient.Interface, obj resource.Object) error {
	ns, ok := obj.AsNamespace()
	if !ok {
		return wrongKind(obj, resource.KindNamespace)
	}
	_, err := c.CoreV1().Namespaces().Create(ctx, ns, meta_v1.CreateOptions{})
	return err
}

func (k *namespaceKind) update(ctx context.Context, c k8sclient.Interface, obj resource.Object) error {
	ns, ok := obj.AsNamespace()
	if !ok {
		return wrongKind(obj, resource.KindNamespace)
	}
	_, err := c.CoreV1().Namespaces().Update(ctx, ns, meta_v1.UpdateOptions{})
	return err
}

/////////////////////////////////////////////////////////////////////////////
// core/v1 Pod

type podKind struct{}

func (k *podKind) get(ctx context.Context, c k8sclient.Interface, namespace, name string) (resource.Object, error) {
	pod, err := c.CoreV1().Pods(namespace).Get(ctx, name, meta_v1.GetOptions{})
	if err != nil {
		return resource.Object{}, err
	}
	return resource.NewPod(pod), nil
}

func (k *podKind) create(ctx context.Context, c k8sclient.Interface, obj resource.Object) error {
	pod, ok := obj.AsPod()
	if !ok {
		return wrongKind(obj, resource.KindPod)
	}
	_, err := c.CoreV1().Pods(pod.Namespace).Create(ctx, pod, meta_v1.CreateOptions{})
	return err
}

func (k *podKind) update(ctx context.Context, c k8sclient.Interface, obj resource.Object) error {
	pod, ok := obj.AsPod()
	if !ok {
		return wrongKind(obj, resource.KindPod)
	}
	_, err := c.CoreV1().Pods(pod.Namespace).Update(ctx, pod, meta_v1.UpdateOptions{})
	return err
}

/////////////////////////////////////////////////////////////////////////////
// apps/v1 Deployment

type deploymentKind struct{}

func (k *deploymentKind) get(ctx context.Context, c k8sclient.Interface, namespace, name string) (resource.Object, error) {
	d, err := c.AppsV1().Deployments(namespace).Get(ctx, name, meta_v1.GetOptions{})
	if err != nil {
		return resource.Object{}, err
	}
	return resource.NewDeployment(d), nil
}

func (k *deploymentKind) create(ctx context.Context, c k8sclient.Interface, obj resource.Object) error {
	d, ok := obj.AsDeployment()
	if !ok {
		return wrongKind(obj, resource.KindDeployment)
	}
	_, err := c.AppsV1().Deployments(d.Namespace).Create(ctx, d, meta_v1.CreateOptions{})
	return err
}

func (k *deploymentKind) update(ctx context.Context, c k8sclient.Interface, obj resource.Object) error {
	d, ok := obj.AsDeployment()
	if !ok {
		return wrongKind(obj, resource.KindDeployment)
	}
	_, err := c.AppsV1().Deployments(d.Namespace).Update(ctx, d, meta_v1.UpdateOptions{})
	return err
}

/////////////////////////////////////////////////////////////////////////////
// core/v1 ReplicationController

type replicationControllerKind struct{}

func (k *replicationControllerKind) get(ctx context.Context, c k8sclient.Interface, namespace, name string) (resource.Object, error) {
	rc, err := c.CoreV1().ReplicationControllers(namespace).Get(ctx, name, meta_v1.GetOptions{})
	if err != nil {
		return resource.Object{}, err
	}
	return resource.NewReplicationController(rc), nil
}

func (k *replicationControllerKind) create(ctx context.Context, c k8sclient.Interface, obj resource.Object) error {
	rc, ok := obj.AsReplicationController()
	if !ok {
		return wrongKind(obj, resource.KindReplicationController)
	}
	_, err := c.CoreV1().ReplicationControllers(rc.Namespace).Create(ctx, rc, meta_v1.CreateOptions{})
	return err
}

func (k *replicationControllerKind) update(ctx context.Context, c k8sclient.Interface, obj resource.Object) error {
	rc, ok := obj.AsReplicationController()
	if !ok {
		return wrongKind(obj, resource.KindReplicationController)
	}
	_, err := c.CoreV1().ReplicationControllers(rc.Namespace).Update(ctx, rc, meta_v1.UpdateOptions{})
	return err
}

/////////////////////////////////////////////////////////////////////////////
// apps/v1 ReplicaSet

type replicaSetKind struct{}

func (k *replicaSetKind) get(ctx context.Context, c k8sclient.Interface, namespace, name string) (resource.Object, error) {
	rs, err := c.AppsV1().ReplicaSets(namespace).Get(ctx, name, meta_v1.GetOptions{})
	if err != nil {
		return resource.Object{}, err
	}
	return resource.NewReplicaSet(rs), nil
}

func (k *replicaSetKind) create(ctx context.Context, c k8sclient.Interface, obj resource.Object) error {
	rs, ok := obj.AsReplicaSet()
	if !ok {
		return wrongKind(obj, resource.KindReplicaSet)
	}
	_, err := c.AppsV1().ReplicaSets(rs.Namespace).Create(ctx, rs, meta_v1.CreateOptions{})
	return err
}

func (k *replicaSetKind) update(ctx context.Context, c k8sclient.Interface, obj resource.Object) error {
	rs, ok := obj.AsReplicaSet()
	if !ok {
		return wrongKind(obj, resource.KindReplicaSet)
	}
	_, err := c.AppsV1().ReplicaSets(rs.Namespace).Update(ctx, rs, meta_v1.UpdateOptions{})
	return err
}

/////////////////////////////////////////////////////////////////////////////
// core/v1 Service

type serviceKind struct{}

func (k *serviceKind) get(ctx context.Context, c k8sclient.Interface, namespace, name string) (resource.Object, error) {
	svc, err := c.CoreV1().Services(namespace).Get(ctx, name, meta_v1.GetOptions{})
	if err != nil {
		return resource.Object{}, err
	}
	return resource.NewService(svc), nil
}

func (k *serviceKind) create(ctx context.Context, c k8sclient.Interface, obj resource.Object) error {
	svc, ok := obj.AsService()
	if !ok {
		return wrongKind(obj, resource.KindService)
	}
	_, err := c.CoreV1().Services(svc.Namespace).Create(ctx, svc, meta_v1.CreateOptions{})
	return err
}

func (k *serviceKind) update(ctx context.Context, c k8sclient.Interface, obj resource.Object) error {
	svc, ok := obj.AsService()
	if !ok {
		return wrongKind(obj, resource.KindService)
	}
	_, err := c.CoreV1().Services(svc.Namespace).Update(ctx, svc, meta_v1.UpdateOptions{})
	return err
}
