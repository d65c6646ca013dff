package resource

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// Kind names one of the object kinds the engine knows how to apply.
type Kind string

const (
	KindNamespace             Kind = "Namespace"
	KindPod                   Kind = "Pod"
	KindDeployment            Kind = "Deployment"
	KindReplicationController Kind = "ReplicationController"
	KindReplicaSet            Kind = "ReplicaSet"
	KindService               Kind = "Service"
)

// Kinds lists every supported kind.
var Kinds = []Kind{
	KindNamespace,
	KindPod,
	KindDeployment,
	KindReplicationController,
	KindReplicaSet,
	KindService,
}

// APIVersion returns the group/version the kind is written with.
func (k Kind) APIVersion() string {
	switch k {
	case KindDeployment, KindReplicaSet:
		return "apps/v1"
	default:
		return "v1"
	}
}

// UnsupportedKindError is returned when a document names a kind that
// cannot be represented as an Object.
type UnsupportedKindError struct {
	APIVersion string
	Kind       string
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("unsupported kind %q (apiVersion %q)", e.Kind, e.APIVersion)
}

type kubeObject interface {
	metav1.Object
	runtime.Object
}

// Object is one of the supported typed Kubernetes objects. The zero
// value is not usable; construct with one of the New* functions.
type Object struct {
	kind Kind
	obj  kubeObject
}

func NewNamespace(ns *corev1.Namespace) Object {
	return Object{kind: KindNamespace, obj: ns}
}

func NewPod(pod *corev1.Pod) Object {
	return Object{kind: KindPod, obj: pod}
}

func NewDeployment(d *appsv1.Deployment) Object {
	return Object{kind: KindDeployment, obj: d}
}

func NewReplicationController(rc *corev1.ReplicationController) Object {
	return Object{kind: KindReplicationController, obj: rc}
}

func NewReplicaSet(rs *appsv1.ReplicaSet) Object {
	return Object{kind: KindReplicaSet, obj: rs}
}

func NewService(svc *corev1.Service) Object {
	return Object{kind: KindService, obj: svc}
}

func (o Object) Kind() Kind        { return o.kind }
func (o Object) Name() string      { return o.obj.GetName() }
func (o Object) Namespace() string { return o.obj.GetNamespace() }

func (o Object) Annotations() map[string]string {
	return o.obj.GetAnnotations()
}

// SetAnnotation sets a single annotation on the object's metadata.
func (o Object) SetAnnotation(key, value string) {
	a := o.obj.GetAnnotations()
	if a == nil {
		a = map[string]string{}
	}
	a[key] = value
	o.obj.SetAnnotations(a)
}

func (o Object) Meta() metav1.Object { return o.obj }

// Runtime returns the underlying typed object.
func (o Object) Runtime() runtime.Object { return o.obj }

func (o Object) ID() ID {
	if o.kind == KindNamespace {
		return MakeID(ClusterScope, string(o.kind), o.Name())
	}
	return MakeID(o.Namespace(), string(o.kind), o.Name())
}

func (o Object) String() string {
	return o.ID().String()
}

func (o Object) DeepCopy() Object {
	return Object{kind: o.kind, obj: o.obj.DeepCopyObject().(kubeObject)}
}

// PodTemplate returns the pod template of workload kinds, and nil for
// everything else.
func (o Object) PodTemplate() *corev1.PodTemplateSpec {
	switch obj := o.obj.(type) {
	case *appsv1.Deployment:
		return &obj.Spec.Template
	case *appsv1.ReplicaSet:
		return &obj.Spec.Template
	case *corev1.ReplicationController:
		if obj.Spec.Template == nil {
			obj.Spec.Template = &corev1.PodTemplateSpec{}
		}
		return obj.Spec.Template
	}
	return nil
}

func (o Object) AsNamespace() (*corev1.Namespace, bool) {
	ns, ok := o.obj.(*corev1.Namespace)
	return ns, ok
}

func (o Object) AsPod() (*corev1.Pod, bool) {
	pod, ok := o.obj.(*corev1.Pod)
	return pod, ok
}

func (o Object) AsDeployment() (*appsv1.Deployment, bool) {
	d, ok := o.obj.(*appsv1.Deployment)
	return d, ok
}

func (o Object) AsReplicationController() (*corev1.ReplicationController, bool) {
	rc, ok := o.obj.(*corev1.ReplicationController)
	return rc, ok
}

func (o Object) AsReplicaSet() (*appsv1.ReplicaSet, bool) {
	rs, ok := o.obj.(*appsv1.ReplicaSet)
	return rs, ok
}

func (o Object) AsService() (*corev1.Service, bool) {
	svc, ok := o.obj.(*corev1.Service)
	return svc, ok
}

// setTypeMeta fills in apiVersion and kind, which the typed clients
// leave empty on objects they return.
func (o Object) setTypeMeta() {
	o.obj.GetObjectKind().SetGroupVersionKind(schemaGVK(o.kind))
}
