package mock

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/fluxcd/rz/pkg/cluster"
	"github.com/fluxcd/rz/pkg/resource"
)

// Call records one invocation of a Mock method.
type Call struct {
	Method string
	ID     string
}

// Mock is an in-memory cluster.Cluster. Any of the Func fields, when
// set, replace the in-memory behaviour of the method with the same
// name; the call is recorded either way.
type Mock struct {
	GetFunc                func(ctx context.Context, kind resource.Kind, namespace, name string) (resource.Object, error)
	CreateFunc             func(ctx context.Context, obj resource.Object) error
	UpdateFunc             func(ctx context.Context, obj resource.Object) error
	ListPodsFunc           func(ctx context.Context, namespace string, selector map[string]string) ([]corev1.Pod, error)
	PodLogsFunc            func(ctx context.Context, namespace, pod, container string, tail int64) (string, error)
	ListEventsFunc         func(ctx context.Context, namespace, since string) (*corev1.EventList, error)
	RollbackDeploymentFunc func(ctx context.Context, namespace, name string, toRevision int64) error
	ListDeploymentsFunc    func(ctx context.Context, namespace string) ([]appsv1.Deployment, error)

	mu      sync.Mutex
	calls   []Call
	objects map[resource.ID]resource.Object
	pods    []corev1.Pod
	events  []corev1.Event
	logs    map[string]string
	version int
}

var _ cluster.Cluster = &Mock{}

// New returns a mock holding the objects given.
func New(objs ...resource.Object) *Mock {
	m := &Mock{objects: map[resource.ID]resource.Object{}}
	for _, o := range objs {
		m.store(o)
	}
	return m
}

func (m *Mock) record(method string, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, ID: id})
}

// Calls returns the calls made so far, in order.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsTo returns the calls made so far to the method named.
func (m *Mock) CallsTo(method string) []Call {
	var result []Call
	for _, c := range m.Calls() {
		if c.Method == method {
			result = append(result, c)
		}
	}
	return result
}

func (m *Mock) nextVersion() string {
	m.version++
	return strconv.Itoa(m.version)
}

func (m *Mock) store(o resource.Object) {
	if m.objects == nil {
		m.objects = map[resource.ID]resource.Object{}
	}
	o = o.DeepCopy()
	o.Meta().SetResourceVersion(m.nextVersion())
	m.objects[o.ID()] = o
}

// Object returns a copy of a stored object.
func (m *Mock) Object(id string) (resource.Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[resource.MustParseID(id)]
	if !ok {
		return resource.Object{}, false
	}
	return o.DeepCopy(), true
}

// Objects returns copies of all stored objects, sorted by ID.
func (m *Mock) Objects() []resource.Object {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids resource.IDs
	for id := range m.objects {
		ids = append(ids, id)
	}
	ids.Sort()
	var result []resource.Object
	for _, id := range ids {
		result = append(result, m.objects[id].DeepCopy())
	}
	return result
}

// AddPods makes pods visible to ListPods.
func (m *Mock) AddPods(pods ...corev1.Pod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pods = append(m.pods, pods...)
}

// SetPods replaces the pods visible to ListPods.
func (m *Mock) SetPods(pods ...corev1.Pod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pods = append([]corev1.Pod(nil), pods...)
}

func logKey(namespace, pod, container string) string {
	return namespace + "/" + pod + "/" + container
}

// SetLogs gives a container in a pod a log, for PodLogs to return.
func (m *Mock) SetLogs(namespace, pod, container, logs string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logs == nil {
		m.logs = map[string]string{}
	}
	m.logs[logKey(namespace, pod, container)] = logs
}

// AddEvent makes an event visible to ListEvents, giving it the next
// resource version.
func (m *Mock) AddEvent(e corev1.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ResourceVersion = m.nextVersion()
	m.events = append(m.events, e)
}

// --- cluster.Cluster

func (m *Mock) Get(ctx context.Context, kind resource.Kind, namespace, name string) (resource.Object, error) {
	id := resource.MakeID(namespace, string(kind), name)
	if kind == resource.KindNamespace {
		id = resource.MakeID(resource.ClusterScope, string(kind), name)
	}
	m.record("Get", id.String())
	if m.GetFunc != nil {
		return m.GetFunc(ctx, kind, namespace, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[id]
	if !ok {
		return resource.Object{}, cluster.ObjectMissingError(id.String(), fmt.Errorf("%s not found", id))
	}
	return o.DeepCopy(), nil
}

func (m *Mock) Create(ctx context.Context, obj resource.Object) error {
	m.record("Create", obj.ID().String())
	if m.CreateFunc != nil {
		if err := m.CreateFunc(ctx, obj); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[obj.ID()]; ok {
		return fmt.Errorf("%s already exists", obj.ID())
	}
	m.store(obj)
	return nil
}

func (m *Mock) Update(ctx context.Context, obj resource.Object) error {
	m.record("Update", obj.ID().String())
	if m.UpdateFunc != nil {
		if err := m.UpdateFunc(ctx, obj); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	live, ok := m.objects[obj.ID()]
	if !ok {
		return fmt.Errorf("%s not found", obj.ID())
	}
	if rv := obj.Meta().GetResourceVersion(); rv != live.Meta().GetResourceVersion() {
		return fmt.Errorf("%s: conflict: resource version %q is not %q", obj.ID(), rv, live.Meta().GetResourceVersion())
	}
	m.store(obj)
	return nil
}

func (m *Mock) ListPods(ctx context.Context, namespace string, selector map[string]string) ([]corev1.Pod, error) {
	m.record("ListPods", namespace)
	if m.ListPodsFunc != nil {
		return m.ListPodsFunc(ctx, namespace, selector)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sel := labels.SelectorFromSet(selector)
	var result []corev1.Pod
	for _, p := range m.pods {
		if p.Namespace == namespace && sel.Matches(labels.Set(p.Labels)) {
			result = append(result, *p.DeepCopy())
		}
	}
	return result, nil
}

// PodLogs returns the last tail lines of a log given with SetLogs. A
// container with no log is an error, as it is from the API server for
// a container that never started.
func (m *Mock) PodLogs(ctx context.Context, namespace, pod, container string, tail int64) (string, error) {
	m.record("PodLogs", logKey(namespace, pod, container))
	if m.PodLogsFunc != nil {
		return m.PodLogsFunc(ctx, namespace, pod, container, tail)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	logs, ok := m.logs[logKey(namespace, pod, container)]
	if !ok {
		return "", fmt.Errorf("container %q in pod %q is waiting to start", container, pod)
	}
	if tail <= 0 {
		return logs, nil
	}
	lines := strings.SplitAfter(logs, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if int64(len(lines)) > tail {
		lines = lines[int64(len(lines))-tail:]
	}
	return strings.Join(lines, ""), nil
}

func (m *Mock) ListEvents(ctx context.Context, namespace, since string) (*corev1.EventList, error) {
	m.record("ListEvents", namespace)
	if m.ListEventsFunc != nil {
		return m.ListEventsFunc(ctx, namespace, since)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	watermark, _ := strconv.Atoi(since)
	list := &corev1.EventList{}
	list.ResourceVersion = strconv.Itoa(m.version)
	for _, e := range m.events {
		rv, _ := strconv.Atoi(e.ResourceVersion)
		if e.Namespace == namespace && rv > watermark {
			list.Items = append(list.Items, *e.DeepCopy())
		}
	}
	return list, nil
}

// RollbackDeployment records a successful rollback event on the
// deployment, unless RollbackDeploymentFunc is set.
func (m *Mock) RollbackDeployment(ctx context.Context, namespace, name string, toRevision int64) error {
	m.record("RollbackDeployment", fmt.Sprintf("%s:deployment/%s@%d", namespace, name, toRevision))
	if m.RollbackDeploymentFunc != nil {
		return m.RollbackDeploymentFunc(ctx, namespace, name, toRevision)
	}
	m.AddEvent(RollbackEvent(namespace, name, cluster.ReasonRollback, "rolled back"))
	return nil
}

func (m *Mock) ListDeployments(ctx context.Context, namespace string) ([]appsv1.Deployment, error) {
	m.record("ListDeployments", namespace)
	if m.ListDeploymentsFunc != nil {
		return m.ListDeploymentsFunc(ctx, namespace)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []appsv1.Deployment
	for _, o := range m.objects {
		d, ok := o.AsDeployment()
		if !ok || d.Namespace != namespace || d.Labels[resource.ManagedByLabel] != resource.ManagedByValue {
			continue
		}
		result = append(result, *d.DeepCopy())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// RollbackEvent makes an event of the kind recorded on a deployment
// when it is rolled back.
func RollbackEvent(namespace, name, reason, message string) corev1.Event {
	e := corev1.Event{
		InvolvedObject: corev1.ObjectReference{
			Kind:      string(resource.KindDeployment),
			Namespace: namespace,
			Name:      name,
		},
		Reason:  reason,
		Message: message,
	}
	e.Namespace = namespace
	e.Name = fmt.Sprintf("%s.%s", name, reason)
	return e
}
