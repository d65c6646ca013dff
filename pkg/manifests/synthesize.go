// Package manifests translates a compose project into the Kubernetes
// objects that run it.
package manifests

import (
	"fmt"
	"sort"

	"github.com/docker/distribution/reference"
	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/pointer"

	"github.com/fluxcd/rz/pkg/compose"
	"github.com/fluxcd/rz/pkg/resource"
)

const (
	DefaultNamespace = "default"
	appLabel         = "app"
	loadBalancerPort = 80
)

var restartPolicies = map[compose.RestartPolicy]corev1.RestartPolicy{
	compose.RestartAlways:    corev1.RestartPolicyAlways,
	compose.RestartOnFailure: corev1.RestartPolicyOnFailure,
	compose.RestartNever:     corev1.RestartPolicyNever,
}

type Options struct {
	// Namespace the objects go in; empty means the default namespace
	Namespace string
	// Stamped on the objects when positive
	Revision int64
}

// Warning is a non-fatal problem with the translation of a service.
type Warning struct {
	Service string
	Field   string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("service %q: %s: %s", w.Service, w.Field, w.Message)
}

type Result struct {
	Objects  []resource.Object
	Warnings []Warning
}

// Synthesize produces the objects for a project: a Namespace if one is
// needed, then, for each service in name order, its Services followed
// by its Deployment. The output depends only on the input.
func Synthesize(project compose.Project, opts Options) (Result, error) {
	var result Result
	ns := opts.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	if ns != DefaultNamespace {
		result.Objects = append(result.Objects, resource.NewNamespace(&corev1.Namespace{
			ObjectMeta: metav1.ObjectMeta{
				Name:   ns,
				Labels: managedLabels(nil),
			},
		}))
	}

	// the service each object came from, since a qualified Service name
	// like web-8080 can be another service's own name
	from := map[resource.ID]string{}
	for _, name := range project.ServiceNames() {
		svc, _ := project.Service(name)
		objs, warnings, err := synthesizeService(project, svc, ns)
		if err != nil {
			return Result{}, UntranslatableServiceError(name, err)
		}
		for _, obj := range objs {
			if other, ok := from[obj.ID()]; ok {
				return Result{}, ObjectNameCollisionError(obj.ID(), other, name)
			}
			from[obj.ID()] = name
		}
		result.Objects = append(result.Objects, objs...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	if opts.Revision > 0 {
		for _, obj := range result.Objects {
			resource.StampRevision(obj, opts.Revision)
		}
	}
	return result, nil
}

func managedLabels(labels map[string]string) map[string]string {
	result := map[string]string{resource.ManagedByLabel: resource.ManagedByValue}
	for k, v := range labels {
		result[k] = v
	}
	return result
}

func synthesizeService(project compose.Project, svc compose.Service, ns string) ([]resource.Object, []Warning, error) {
	var warnings []Warning
	warn := func(field, format string, args ...interface{}) {
		warnings = append(warnings, Warning{Service: svc.Name, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if svc.Image == "" {
		return nil, nil, errors.New("no image")
	}
	if _, err := reference.ParseNormalizedNamed(svc.Image); err != nil {
		return nil, nil, errors.Wrapf(err, "image %q", svc.Image)
	}
	for _, field := range svc.Ignored {
		warn(field, "skipping: not supported in Kubernetes")
	}

	container := corev1.Container{
		Name:            svc.Name,
		Image:           svc.Image,
		ImagePullPolicy: corev1.PullNever,
		Args:            svc.Command,
		Command:         svc.Entrypoint,
	}
	for _, p := range svc.Ports {
		container.Ports = append(container.Ports, corev1.ContainerPort{
			ContainerPort: p.Number,
			Protocol:      corev1.Protocol(p.Protocol),
		})
	}
	container.Env = environment(svc.Environment)

	volumeMounts, volumes, err := podVolumes(project, svc)
	if err != nil {
		return nil, nil, err
	}
	container.VolumeMounts = volumeMounts

	podSpec := corev1.PodSpec{
		Containers: []corev1.Container{container},
		Volumes:    volumes,
	}
	if svc.Restart != "" {
		policy, ok := restartPolicies[svc.Restart]
		if !ok {
			return nil, nil, fmt.Errorf("unknown restart policy %q", svc.Restart)
		}
		podSpec.RestartPolicy = policy
		if policy != corev1.RestartPolicyAlways {
			warn("restart", "restart policy %q is not supported by Deployments, which only run pods with %q", policy, corev1.RestartPolicyAlways)
		}
	}

	var objs []resource.Object
	for _, b := range svc.Bindings {
		service, extra := serviceFor(svc, b, ns, len(svc.Bindings) > 1)
		if len(extra) > 0 {
			warn("ports", "container port %d is bound to more than one host port; only %d is published, %v ignored", b.Container.Number, service.Spec.Ports[0].Port, extra)
		}
		objs = append(objs, resource.NewService(service))
	}

	maxUnavailable := intstr.FromInt(0)
	maxSurge := intstr.FromInt(1)
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      svc.Name,
			Namespace: ns,
			Labels:    managedLabels(appSelector(svc.Name)),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: pointer.Int32Ptr(1),
			Selector: &metav1.LabelSelector{MatchLabels: appSelector(svc.Name)},
			Strategy: appsv1.DeploymentStrategy{
				Type: appsv1.RollingUpdateDeploymentStrategyType,
				RollingUpdate: &appsv1.RollingUpdateDeployment{
					MaxUnavailable: &maxUnavailable,
					MaxSurge:       &maxSurge,
				},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: appSelector(svc.Name)},
				Spec:       podSpec,
			},
		},
	}
	objs = append(objs, resource.NewDeployment(deployment))
	return objs, warnings, nil
}

func appSelector(name string) map[string]string {
	return map[string]string{appLabel: name}
}

func environment(env map[string]string) []corev1.EnvVar {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vars := make([]corev1.EnvVar, 0, len(keys))
	for _, k := range keys {
		vars = append(vars, corev1.EnvVar{Name: k, Value: env[k]})
	}
	return vars
}

// serviceFor builds the Service publishing a port binding. When a
// compose service has more than one binding, each Service is named
// after its port. Host ports beyond the first are returned.
func serviceFor(svc compose.Service, b compose.PortBinding, ns string, qualify bool) (*corev1.Service, []int32) {
	port := b.Container.Number
	var extra []int32
	if len(b.HostPorts) > 0 {
		if b.HostPorts[0] != 0 {
			port = b.HostPorts[0]
		}
		extra = b.HostPorts[1:]
	}

	name := svc.Name
	if qualify {
		name = fmt.Sprintf("%s-%d", svc.Name, b.Container.Number)
		if b.Container.Protocol == compose.UDP {
			name += "-udp"
		}
	}

	serviceType := corev1.ServiceTypeClusterIP
	if port == loadBalancerPort {
		serviceType = corev1.ServiceTypeLoadBalancer
	}
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: ns,
			Labels:    managedLabels(appSelector(svc.Name)),
		},
		Spec: corev1.ServiceSpec{
			Type:     serviceType,
			Selector: appSelector(svc.Name),
			Ports: []corev1.ServicePort{{
				Port:       port,
				TargetPort: intstr.FromInt(int(b.Container.Number)),
				Protocol:   corev1.Protocol(b.Container.Protocol),
			}},
		},
	}, extra
}
