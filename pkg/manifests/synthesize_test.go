package manifests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/fluxcd/rz/pkg/compose"
	fluxerr "github.com/fluxcd/rz/pkg/errors"
	"github.com/fluxcd/rz/pkg/resource"
)

func testProject() compose.Project {
	return compose.Project{
		Name: "app",
		Services: []compose.Service{
			{
				Name:  "web",
				Image: "example/web:1.0",
				Ports: []compose.Port{{Number: 8080, Protocol: compose.TCP}},
				Bindings: []compose.PortBinding{
					{Container: compose.Port{Number: 8080, Protocol: compose.TCP}, HostPorts: []int32{80}},
				},
				Environment: map[string]string{"B": "2", "A": "1"},
				Command:     []string{"serve"},
				Entrypoint:  []string{"/bin/app"},
				Volumes: []compose.VolumeMount{
					{External: "/data/cache_dir", Internal: "/cache"},
					{External: "myvol", Internal: "/var/lib/data"},
				},
				Ignored: []string{"container_name", "links"},
			},
			{
				Name:  "metrics",
				Image: "prom/prometheus",
				Ports: []compose.Port{{Number: 9090, Protocol: compose.TCP}},
				Bindings: []compose.PortBinding{
					{Container: compose.Port{Number: 9090, Protocol: compose.TCP}, HostPorts: []int32{0}},
				},
				Restart: compose.RestartAlways,
			},
		},
		Volumes: map[string]compose.VolumeDecl{
			"myvol": {Name: "myvol", Driver: "gce", DriverOpts: map[string]string{"pdName": "disk-1"}},
		},
	}
}

func deploymentOf(t *testing.T, objs []resource.Object, name string) *appsv1.Deployment {
	for _, o := range objs {
		if d, ok := o.AsDeployment(); ok && d.Name == name {
			return d
		}
	}
	t.Fatalf("no deployment %q", name)
	return nil
}

func serviceOf(t *testing.T, objs []resource.Object, name string) *corev1.Service {
	for _, o := range objs {
		if s, ok := o.AsService(); ok && s.Name == name {
			return s
		}
	}
	t.Fatalf("no service %q", name)
	return nil
}

func TestSynthesizeOrder(t *testing.T) {
	result, err := Synthesize(testProject(), Options{Namespace: "staging"})
	require.NoError(t, err)
	var ids []string
	for _, o := range result.Objects {
		ids = append(ids, o.ID().String())
	}
	assert.Equal(t, []string{
		"<cluster>:namespace/staging",
		"staging:service/metrics",
		"staging:deployment/metrics",
		"staging:service/web",
		"staging:deployment/web",
	}, ids)
}

func TestSynthesizeDefaultNamespace(t *testing.T) {
	for _, ns := range []string{"", "default"} {
		result, err := Synthesize(testProject(), Options{Namespace: ns})
		require.NoError(t, err)
		for _, o := range result.Objects {
			assert.NotEqual(t, resource.KindNamespace, o.Kind())
			assert.Equal(t, "default", o.Namespace())
		}
	}
}

func TestSynthesizeDeterministic(t *testing.T) {
	first, err := Synthesize(testProject(), Options{Namespace: "staging", Revision: 2})
	require.NoError(t, err)
	second, err := Synthesize(testProject(), Options{Namespace: "staging", Revision: 2})
	require.NoError(t, err)

	a, err := resource.MarshalMultidoc(first.Objects)
	require.NoError(t, err)
	b, err := resource.MarshalMultidoc(second.Objects)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, first.Warnings, second.Warnings)
}

func TestSynthesizeDeployment(t *testing.T) {
	result, err := Synthesize(testProject(), Options{})
	require.NoError(t, err)
	d := deploymentOf(t, result.Objects, "web")

	assert.Equal(t, int32(1), *d.Spec.Replicas)
	assert.Equal(t, map[string]string{"app": "web"}, d.Spec.Selector.MatchLabels)
	assert.Equal(t, "rz", d.Labels[resource.ManagedByLabel])
	assert.Equal(t, intstr.FromInt(0), *d.Spec.Strategy.RollingUpdate.MaxUnavailable)
	assert.Equal(t, intstr.FromInt(1), *d.Spec.Strategy.RollingUpdate.MaxSurge)

	c := d.Spec.Template.Spec.Containers[0]
	assert.Equal(t, "web", c.Name)
	assert.Equal(t, "example/web:1.0", c.Image)
	assert.Equal(t, corev1.PullNever, c.ImagePullPolicy)
	assert.Equal(t, []string{"serve"}, c.Args)
	assert.Equal(t, []string{"/bin/app"}, c.Command)
	assert.Equal(t, []corev1.EnvVar{{Name: "A", Value: "1"}, {Name: "B", Value: "2"}}, c.Env)
	assert.Equal(t, []corev1.ContainerPort{{ContainerPort: 8080, Protocol: corev1.ProtocolTCP}}, c.Ports)
	assert.Equal(t, corev1.RestartPolicy(""), d.Spec.Template.Spec.RestartPolicy)

	metrics := deploymentOf(t, result.Objects, "metrics")
	assert.Equal(t, corev1.RestartPolicyAlways, metrics.Spec.Template.Spec.RestartPolicy)
}

func TestSynthesizeVolumes(t *testing.T) {
	project := testProject()
	project.Services[0].Volumes = append(project.Services[0].Volumes,
		compose.VolumeMount{External: "undeclared", Internal: "/tmp/u"},
		compose.VolumeMount{Internal: "/scratch"},
		compose.VolumeMount{External: "/data/cache_dir", Internal: "/cache2", ReadOnly: true},
	)
	result, err := Synthesize(project, Options{})
	require.NoError(t, err)
	spec := deploymentOf(t, result.Objects, "web").Spec.Template.Spec

	assert.Equal(t, []corev1.VolumeMount{
		{Name: "cache-dir", MountPath: "/cache"},
		{Name: "myvol", MountPath: "/var/lib/data"},
		{Name: "undeclared", MountPath: "/tmp/u"},
		{Name: "scratch", MountPath: "/scratch"},
		{Name: "cache-dir", MountPath: "/cache2", ReadOnly: true},
	}, spec.Containers[0].VolumeMounts)

	require.Len(t, spec.Volumes, 4)
	assert.Equal(t, "cache-dir", spec.Volumes[0].Name)
	assert.Equal(t, &corev1.HostPathVolumeSource{Path: "/data/cache_dir"}, spec.Volumes[0].HostPath)
	assert.Equal(t, "myvol", spec.Volumes[1].Name)
	assert.Equal(t, &corev1.GCEPersistentDiskVolumeSource{PDName: "disk-1"}, spec.Volumes[1].GCEPersistentDisk)
	assert.NotNil(t, spec.Volumes[2].EmptyDir)
	assert.NotNil(t, spec.Volumes[3].EmptyDir)
}

func TestSynthesizeUndeclaredNamedVolume(t *testing.T) {
	project := testProject()
	project.Volumes = nil
	result, err := Synthesize(project, Options{})
	require.NoError(t, err)
	vols := deploymentOf(t, result.Objects, "web").Spec.Template.Spec.Volumes
	assert.Equal(t, "myvol", vols[1].Name)
	assert.NotNil(t, vols[1].EmptyDir)
	assert.Nil(t, vols[1].GCEPersistentDisk)
}

func TestSynthesizeVolumeErrors(t *testing.T) {
	for name, mutate := range map[string]func(*compose.Project){
		"collision": func(p *compose.Project) {
			p.Services[0].Volumes = append(p.Services[0].Volumes,
				compose.VolumeMount{External: "/other/cache_dir", Internal: "/x"})
		},
		"unsupported driver": func(p *compose.Project) {
			p.Volumes["myvol"] = compose.VolumeDecl{Name: "myvol", Driver: "nfs"}
		},
		"missing pdName": func(p *compose.Project) {
			p.Volumes["myvol"] = compose.VolumeDecl{Name: "myvol", Driver: "gce"}
		},
		"unknown driver option": func(p *compose.Project) {
			p.Volumes["myvol"] = compose.VolumeDecl{Name: "myvol", Driver: "gcePersistentDisk",
				DriverOpts: map[string]string{"pdName": "d", "size": "10G"}}
		},
		"volumes_from cycle": func(p *compose.Project) {
			p.Services[0].VolumesFrom = []string{"metrics"}
			p.Services[1].VolumesFrom = []string{"web"}
		},
		"volumes_from unknown": func(p *compose.Project) {
			p.Services[0].VolumesFrom = []string{"nope"}
		},
		"bad image": func(p *compose.Project) {
			p.Services[0].Image = "Example/Web:1.0"
		},
	} {
		project := testProject()
		mutate(&project)
		_, err := Synthesize(project, Options{})
		if assert.Error(t, err, name) {
			assert.True(t, fluxerr.IsType(err, fluxerr.User), name)
		}
	}
}

func TestSynthesizeVolumesFrom(t *testing.T) {
	project := testProject()
	project.Services = append(project.Services, compose.Service{
		Name:        "backup",
		Image:       "busybox",
		Volumes:     []compose.VolumeMount{{External: "/backups", Internal: "/backups"}},
		VolumesFrom: []string{"web"},
	})
	project.Services[0].VolumesFrom = []string{"metrics"}
	project.Services[1].Volumes = []compose.VolumeMount{{External: "/prom", Internal: "/prometheus"}}

	result, err := Synthesize(project, Options{})
	require.NoError(t, err)
	var paths []string
	for _, m := range deploymentOf(t, result.Objects, "backup").Spec.Template.Spec.Containers[0].VolumeMounts {
		paths = append(paths, m.MountPath)
	}
	assert.Equal(t, []string{"/backups", "/cache", "/var/lib/data", "/prometheus"}, paths)
}

func TestSynthesizeServices(t *testing.T) {
	result, err := Synthesize(testProject(), Options{})
	require.NoError(t, err)

	web := serviceOf(t, result.Objects, "web")
	assert.Equal(t, corev1.ServiceTypeLoadBalancer, web.Spec.Type)
	assert.Equal(t, map[string]string{"app": "web"}, web.Spec.Selector)
	assert.Equal(t, []corev1.ServicePort{{
		Port:       80,
		TargetPort: intstr.FromInt(8080),
		Protocol:   corev1.ProtocolTCP,
	}}, web.Spec.Ports)

	metrics := serviceOf(t, result.Objects, "metrics")
	assert.Equal(t, corev1.ServiceTypeClusterIP, metrics.Spec.Type)
	assert.Equal(t, int32(9090), metrics.Spec.Ports[0].Port)
	assert.Equal(t, intstr.FromInt(9090), metrics.Spec.Ports[0].TargetPort)
}

func TestSynthesizeMultipleBindings(t *testing.T) {
	project := compose.Project{
		Services: []compose.Service{{
			Name:  "dns",
			Image: "coredns/coredns",
			Bindings: []compose.PortBinding{
				{Container: compose.Port{Number: 53, Protocol: compose.TCP}, HostPorts: []int32{53}},
				{Container: compose.Port{Number: 53, Protocol: compose.UDP}, HostPorts: []int32{53, 5353}},
			},
		}},
	}
	result, err := Synthesize(project, Options{})
	require.NoError(t, err)
	require.Len(t, result.Objects, 3)
	assert.Equal(t, "dns-53", result.Objects[0].Name())
	assert.Equal(t, "dns-53-udp", result.Objects[1].Name())
	udp := serviceOf(t, result.Objects, "dns-53-udp")
	assert.Equal(t, corev1.ProtocolUDP, udp.Spec.Ports[0].Protocol)

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "ports", result.Warnings[0].Field)
}

func TestSynthesizeObjectNameCollision(t *testing.T) {
	binding := func(port int32) compose.PortBinding {
		return compose.PortBinding{Container: compose.Port{Number: port, Protocol: compose.TCP}, HostPorts: []int32{port}}
	}
	project := compose.Project{
		Name: "app",
		Services: []compose.Service{
			{Name: "web", Image: "example/web", Bindings: []compose.PortBinding{binding(8080), binding(8443)}},
			{Name: "web-8080", Image: "example/other", Bindings: []compose.PortBinding{binding(9000)}},
		},
	}
	_, err := Synthesize(project, Options{})
	require.Error(t, err)
	assert.True(t, fluxerr.IsType(err, fluxerr.User))
	assert.Contains(t, err.Error(), `"web" and "web-8080"`)
	assert.Contains(t, err.Error(), "default:service/web-8080")
}

func TestSynthesizeWarnings(t *testing.T) {
	project := testProject()
	project.Services[1].Restart = compose.RestartOnFailure
	result, err := Synthesize(project, Options{})
	require.NoError(t, err)
	assert.Equal(t, []Warning{
		{Service: "metrics", Field: "restart", Message: `restart policy "OnFailure" is not supported by Deployments, which only run pods with "Always"`},
		{Service: "web", Field: "container_name", Message: "skipping: not supported in Kubernetes"},
		{Service: "web", Field: "links", Message: "skipping: not supported in Kubernetes"},
	}, result.Warnings)
	assert.Equal(t, corev1.RestartPolicyOnFailure,
		deploymentOf(t, result.Objects, "metrics").Spec.Template.Spec.RestartPolicy)
}

func TestSynthesizeRevision(t *testing.T) {
	result, err := Synthesize(testProject(), Options{Namespace: "staging", Revision: 5})
	require.NoError(t, err)
	for _, o := range result.Objects {
		if o.Kind() == resource.KindNamespace {
			assert.Empty(t, o.Annotations())
			continue
		}
		assert.Equal(t, "5", o.Annotations()[resource.RevisionAnnotation], o.ID().String())
	}
	d := deploymentOf(t, result.Objects, "web")
	assert.Equal(t, "5", d.Spec.Template.Annotations[resource.RevisionAnnotation])

	result, err = Synthesize(testProject(), Options{})
	require.NoError(t, err)
	for _, o := range result.Objects {
		assert.Empty(t, o.Annotations())
	}
}

func TestVolumeName(t *testing.T) {
	assert.Equal(t, "cache-dir", VolumeName(compose.VolumeMount{External: "/data/cache_dir", Internal: "/c"}))
	assert.Equal(t, "myvol", VolumeName(compose.VolumeMount{External: "myvol", Internal: "/c"}))
	assert.Equal(t, "var-data", VolumeName(compose.VolumeMount{Internal: "/srv/Var_Data"}))
}
