package main

import (
	"io/ioutil"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/fluxcd/rz/pkg/cluster/mock"
	"github.com/fluxcd/rz/pkg/config"
	"github.com/fluxcd/rz/pkg/resource"
)

func build(t *testing.T, p project) {
	_, _, err := execute(newRoot(), p.args("build", "-f", p.path("docker-compose.yml"), "-o", p.path("kube.yaml"))...)
	require.NoError(t, err)
}

func TestBuild(t *testing.T) {
	p := newProject(t)
	_, stderr, err := execute(newRoot(), p.args("build", "-f", p.path("docker-compose.yml"), "-o", p.path("kube.yaml"))...)
	require.NoError(t, err)
	assert.Contains(t, stderr, `Warning: service "web": restart:`)

	data, err := ioutil.ReadFile(p.path("kube.yaml"))
	require.NoError(t, err)
	objs, err := resource.ParseMultidoc(data, "kube.yaml")
	require.NoError(t, err)

	var ids []string
	for _, o := range objs {
		ids = append(ids, o.ID().String())
	}
	assert.Equal(t, []string{
		"default:deployment/redis",
		"default:service/web",
		"default:deployment/web",
	}, ids)
}

func TestBuildToStdout(t *testing.T) {
	p := newProject(t)
	stdout, _, err := execute(newRoot(), p.args("build", "--namespace", "staging", "-f", p.path("docker-compose.yml"), "-o", "-")...)
	require.NoError(t, err)

	objs, err := resource.ParseMultidoc([]byte(stdout), "stdout")
	require.NoError(t, err)
	require.Len(t, objs, 4)
	assert.Equal(t, "<cluster>:namespace/staging", objs[0].ID().String())
}

func TestBuildMissingComposeFile(t *testing.T) {
	p := newProject(t)
	_, _, err := execute(newRoot(), p.args("build", "-f", p.path("nope.yml"), "-o", p.path("kube.yaml"))...)
	assert.Error(t, err)
}

func TestBuildUsesConfigFile(t *testing.T) {
	p := newProject(t)
	require.NoError(t, ioutil.WriteFile(p.path(config.ConfigName), []byte(`rzConfigVersion: v1
namespace: staging
composeFile: `+p.path("docker-compose.yml")+`
artifact: `+p.path("staging.yaml")+`
`), 0644))

	_, _, err := execute(newRoot(), p.args("build")...)
	require.NoError(t, err)
	data, err := ioutil.ReadFile(p.path("staging.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "namespace: staging")
}

func TestInit(t *testing.T) {
	p := newProject(t)
	stdout, _, err := execute(newRoot(), p.args("init", "--builder", "local", "--registry", "gcr.io/acme", "--timeout", "5m")...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Wrote")

	c, err := config.Load(viper.New(), p.path(config.ConfigName))
	require.NoError(t, err)
	assert.Equal(t, config.BuilderLocal, c.Builder)
	assert.Equal(t, "gcr.io/acme", c.Registry)
	assert.Equal(t, 5*time.Minute, c.Timeout)
	assert.True(t, c.Rollback)

	_, _, err = execute(newRoot(), p.args("init")...)
	assert.IsType(t, usageError{}, err)

	_, _, err = execute(newRoot(), p.args("init", "--force", "--rollback=false")...)
	require.NoError(t, err)
	c, err = config.Load(viper.New(), p.path(config.ConfigName))
	require.NoError(t, err)
	assert.False(t, c.Rollback)
	// kept from the first init
	assert.Equal(t, "gcr.io/acme", c.Registry)
}

func TestApply(t *testing.T) {
	p := newProject(t)
	build(t, p)

	m := mock.New()
	m.AddPods(pod("web", "1", true), pod("redis", "1", true))
	stdout, _, err := execute(withCluster(m), p.args("apply", "-f", p.path("kube.yaml"), "--poll-interval", "1ms")...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Revision 1")
	assert.Contains(t, stdout, "running")

	o, ok := m.Object("default:deployment/web")
	require.True(t, ok)
	assert.Equal(t, "1", o.Annotations()[resource.RevisionAnnotation])

	// a second apply updates the same objects as the next revision
	m.SetPods(pod("web", "2", true), pod("redis", "2", true))
	stdout, _, err = execute(withCluster(m), p.args("apply", "-f", p.path("kube.yaml"), "--poll-interval", "1ms")...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Revision 2")
	assert.Len(t, m.CallsTo("Create"), 3)
	assert.Len(t, m.CallsTo("Update"), 3)
}

func TestApplyUnhealthyRollsBack(t *testing.T) {
	p := newProject(t)
	build(t, p)

	m := mock.New()
	m.AddPods(pod("web", "1", false), pod("redis", "1", true))
	m.SetLogs("default", "web-1", "web", "starting nginx\nbind() to 0.0.0.0:8080 failed\n")
	stdout, _, err := execute(withCluster(m), p.args("apply", "-f", p.path("kube.yaml"), "--poll-interval", "1ms")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "revision 1 is unhealthy; rolled back")
	assert.Contains(t, stdout, "web-1: container web: ErrImageNeverPull")
	assert.Contains(t, stdout, "Last lines logged by container web in pod web-1:\n    starting nginx\n    bind() to 0.0.0.0:8080 failed\n")
	assert.Len(t, m.CallsTo("RollbackDeployment"), 2)
}

func TestApplyUnhealthyNoRollback(t *testing.T) {
	p := newProject(t)
	build(t, p)

	m := mock.New()
	m.AddPods(pod("web", "1", false), pod("redis", "1", true))
	_, _, err := execute(withCluster(m), p.args("apply", "-f", p.path("kube.yaml"), "--poll-interval", "1ms", "--rollback=false")...)
	require.Error(t, err)
	assert.Equal(t, "revision 1 is unhealthy", err.Error())
	assert.Empty(t, m.CallsTo("RollbackDeployment"))
}

func TestApplyMissingArtifact(t *testing.T) {
	p := newProject(t)
	m := mock.New()
	_, _, err := execute(withCluster(m), p.args("apply", "-f", p.path("kube.yaml"))...)
	assert.Error(t, err)
	assert.Empty(t, m.Calls())
}

func TestRollback(t *testing.T) {
	p := newProject(t)
	labels := map[string]string{"app": "web", resource.ManagedByLabel: resource.ManagedByValue}
	m := mock.New(resource.NewDeployment(&appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "web", Labels: labels},
	}))

	stdout, _, err := execute(withCluster(m), p.args("rollback", "--to-revision", "3")...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "web")
	assert.Equal(t, "default:deployment/web@3", m.CallsTo("RollbackDeployment")[0].ID)
}

func TestRollbackNothingManaged(t *testing.T) {
	p := newProject(t)
	_, stderr, err := execute(withCluster(mock.New()), p.args("rollback")...)
	require.NoError(t, err)
	assert.Contains(t, stderr, "No deployments managed by rz")
}

func TestWantNoArgs(t *testing.T) {
	for _, cmd := range []string{"init", "build", "apply", "rollback", "version"} {
		t.Run(cmd, func(t *testing.T) {
			p := newProject(t)
			_, _, err := execute(withCluster(mock.New()), p.args(cmd, "extra")...)
			assert.Equal(t, errorWantedNoArgs, err)
		})
	}
}

func TestNamespaceOf(t *testing.T) {
	svc := func(ns string) resource.Object {
		return resource.NewService(&corev1.Service{ObjectMeta: metav1.ObjectMeta{Namespace: ns, Name: "web"}})
	}
	nsObj := resource.NewNamespace(&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "staging"}})

	ns, err := namespaceOf([]resource.Object{nsObj, svc("staging")}, "default")
	require.NoError(t, err)
	assert.Equal(t, "staging", ns)

	ns, err = namespaceOf(nil, "default")
	require.NoError(t, err)
	assert.Equal(t, "default", ns)

	_, err = namespaceOf([]resource.Object{svc("staging"), svc("prod")}, "default")
	assert.Error(t, err)
}
