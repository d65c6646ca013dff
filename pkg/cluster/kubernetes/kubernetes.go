package kubernetes

import (
	"context"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	meta_v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	k8sclient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/fluxcd/rz/pkg/cluster"
	"github.com/fluxcd/rz/pkg/resource"
)

// MinimumServerVersion is the oldest API server with apps/v1
// Deployments.
const MinimumServerVersion = ">= 1.9.0-0"

// NewClientset connects to the cluster given by the kubeconfig file
// and context, falling back to the usual defaults for either when
// empty.
func NewClientset(kubeconfig, kubecontext string) (k8sclient.Interface, string, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}
	configOverrides := &clientcmd.ConfigOverrides{CurrentContext: kubecontext}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, configOverrides)
	config, err := kubeConfig.ClientConfig()
	if err != nil {
		return nil, "", errors.Wrap(err, "loading kubeconfig")
	}
	client, err := k8sclient.NewForConfig(config)
	if err != nil {
		return nil, "", errors.Wrap(err, "creating Kubernetes client")
	}
	return client, config.Host, nil
}

// Cluster is a handle to a Kubernetes API server.
type Cluster struct {
	client k8sclient.Interface
	logger log.Logger
}

var _ cluster.Cluster = &Cluster{}

// NewCluster returns a usable cluster.
func NewCluster(client k8sclient.Interface, logger log.Logger) *Cluster {
	return &Cluster{
		client: client,
		logger: logger,
	}
}

// CheckServerVersion refuses API servers whose version doesn't satisfy
// the constraint given.
func (c *Cluster) CheckServerVersion(constraint string) error {
	info, err := c.client.Discovery().ServerVersion()
	countRequest("version", "", err)
	if err != nil {
		return errors.Wrap(err, "getting server version")
	}
	v, err := semver.NewVersion(info.GitVersion)
	if err != nil {
		return errors.Wrapf(err, "parsing server version %q", info.GitVersion)
	}
	constraints, err := semver.NewConstraint(constraint)
	if err != nil {
		return errors.Wrapf(err, "parsing version constraint %q", constraint)
	}
	if !constraints.Check(v) {
		return ServerVersionError(info.GitVersion, constraint)
	}
	c.logger.Log("server-version", info.GitVersion)
	return nil
}

// --- cluster.Cluster

func (c *Cluster) Get(ctx context.Context, kind resource.Kind, namespace, name string) (resource.Object, error) {
	k, ok := resourceKinds[kind]
	if !ok {
		return resource.Object{}, UnsupportedKindError(string(kind))
	}
	obj, err := k.get(ctx, c.client, namespace, name)
	if apierrors.IsNotFound(err) {
		countRequest("get", string(kind), nil)
		return resource.Object{}, cluster.ObjectMissingError(resource.MakeID(namespace, string(kind), name).String(), err)
	}
	countRequest("get", string(kind), err)
	if err != nil {
		return resource.Object{}, errors.Wrapf(err, "getting %s %s/%s", kind, namespace, name)
	}
	return obj, nil
}

func (c *Cluster) Create(ctx context.Context, obj resource.Object) error {
	k, ok := resourceKinds[obj.Kind()]
	if !ok {
		return UnsupportedKindError(string(obj.Kind()))
	}
	err := k.create(ctx, c.client, obj)
	countRequest("create", string(obj.Kind()), err)
	return err
}

func (c *Cluster) Update(ctx context.Context, obj resource.Object) error {
	k, ok := resourceKinds[obj.Kind()]
	if !ok {
		return UnsupportedKindError(string(obj.Kind()))
	}
	err := k.update(ctx, c.client, obj)
	countRequest("update", string(obj.Kind()), err)
	return err
}

func (c *Cluster) ListPods(ctx context.Context, namespace string, selector map[string]string) ([]corev1.Pod, error) {
	list, err := c.client.CoreV1().Pods(namespace).List(ctx, meta_v1.ListOptions{
		LabelSelector: labels.SelectorFromSet(selector).String(),
	})
	countRequest("list", string(resource.KindPod), err)
	if err != nil {
		return nil, errors.Wrapf(err, "listing pods in namespace %q", namespace)
	}
	return list.Items, nil
}

func (c *Cluster) PodLogs(ctx context.Context, namespace, pod, container string, tail int64) (string, error) {
	opts := &corev1.PodLogOptions{Container: container}
	if tail > 0 {
		opts.TailLines = &tail
	}
	data, err := c.client.CoreV1().Pods(namespace).GetLogs(pod, opts).DoRaw(ctx)
	countRequest("get", "PodLog", err)
	if err != nil {
		return "", errors.Wrapf(err, "getting logs of container %s in pod %s/%s", container, namespace, pod)
	}
	return string(data), nil
}

func (c *Cluster) ListEvents(ctx context.Context, namespace, sinceResourceVersion string) (*corev1.EventList, error) {
	list, err := c.client.CoreV1().Events(namespace).List(ctx, meta_v1.ListOptions{})
	countRequest("list", "Event", err)
	if err != nil {
		return nil, errors.Wrapf(err, "listing events in namespace %q", namespace)
	}
	list.Items = eventsSince(list.Items, sinceResourceVersion)
	return list, nil
}

// eventsSince drops the events that are no newer than the resource
// version given. Resource versions are opaque in principle; in
// practice they are etcd revisions, and anything that doesn't parse as
// one is kept.
func eventsSince(events []corev1.Event, since string) []corev1.Event {
	watermark, err := strconv.ParseUint(since, 10, 64)
	if since == "" || err != nil {
		return events
	}
	var result []corev1.Event
	for _, e := range events {
		rv, err := strconv.ParseUint(e.ResourceVersion, 10, 64)
		if err != nil || rv > watermark {
			result = append(result, e)
		}
	}
	return result
}

func (c *Cluster) ListDeployments(ctx context.Context, namespace string) ([]appsv1.Deployment, error) {
	list, err := c.client.AppsV1().Deployments(namespace).List(ctx, meta_v1.ListOptions{
		LabelSelector: labels.SelectorFromSet(labels.Set{resource.ManagedByLabel: resource.ManagedByValue}).String(),
	})
	countRequest("list", string(resource.KindDeployment), err)
	if err != nil {
		return nil, errors.Wrapf(err, "listing deployments in namespace %q", namespace)
	}
	return list.Items, nil
}
