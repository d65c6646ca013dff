package rollout

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/pointer"

	"github.com/fluxcd/rz/pkg/cluster"
	"github.com/fluxcd/rz/pkg/cluster/mock"
	fluxerr "github.com/fluxcd/rz/pkg/errors"
	"github.com/fluxcd/rz/pkg/resource"
)

func managedDeployment(name string, revision int64) resource.Object {
	labels := map[string]string{"app": name, resource.ManagedByLabel: resource.ManagedByValue}
	d := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: name, Labels: labels},
		Spec: appsv1.DeploymentSpec{
			Replicas: pointer.Int32Ptr(1),
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": name}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: name, Image: name + ":latest"}},
				},
			},
		},
	}
	o := resource.NewDeployment(d)
	if revision > 0 {
		resource.StampRevision(o, revision)
	}
	return o
}

func service(name string) resource.Object {
	return resource.NewService(&corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: name},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"app": name},
			Ports:    []corev1.ServicePort{{Port: 80}},
		},
	})
}

func readyPod(app string, revision int64) corev1.Pod {
	return corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:   "default",
			Name:        app + "-" + strconv.FormatInt(revision, 10),
			Labels:      map[string]string{"app": app},
			Annotations: map[string]string{resource.RevisionAnnotation: strconv.FormatInt(revision, 10)},
		},
		Status: corev1.PodStatus{
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
		},
	}
}

func failingPod(app string, revision int64) corev1.Pod {
	p := readyPod(app, revision)
	p.Status.Conditions = nil
	p.Status.ContainerStatuses = []corev1.ContainerStatus{{
		Name: app,
		State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{
			Reason:  "ImagePullBackOff",
			Message: "Back-off pulling image",
		}},
	}}
	return p
}

func newDeployer(m *mock.Mock) *Deployer {
	d := NewDeployer(m, log.NewNopLogger())
	d.Monitor.PollInterval = time.Millisecond
	d.Monitor.Timeout = time.Second
	d.Rollbacks.PollInterval = time.Millisecond
	d.Rollbacks.Timeout = time.Second
	return d
}

func revisionOf(t *testing.T, m *mock.Mock, id string) int64 {
	o, ok := m.Object(id)
	require.True(t, ok, id)
	rev, ok, err := resource.ParseRevision(o.Annotations())
	require.NoError(t, err)
	require.True(t, ok, id)
	return rev
}

func TestCurrentRevision(t *testing.T) {
	unmanaged := resource.NewDeployment(&appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:   "default",
			Name:        "other",
			Annotations: map[string]string{resource.RevisionAnnotation: "9"},
		},
	})

	for _, c := range []struct {
		name string
		objs []resource.Object
		want int64
	}{
		{"empty", nil, 0},
		{"unrevisioned", []resource.Object{managedDeployment("web", 0)}, 0},
		{"agreed", []resource.Object{managedDeployment("web", 3), managedDeployment("db", 3)}, 3},
		{"unmanaged ignored", []resource.Object{managedDeployment("web", 3), unmanaged}, 3},
	} {
		t.Run(c.name, func(t *testing.T) {
			rev, err := newDeployer(mock.New(c.objs...)).CurrentRevision(context.Background(), "")
			require.NoError(t, err)
			assert.Equal(t, c.want, rev)
		})
	}
}

func TestCurrentRevisionAmbiguous(t *testing.T) {
	m := mock.New(managedDeployment("web", 3), managedDeployment("db", 4))
	_, err := newDeployer(m).CurrentRevision(context.Background(), "default")
	require.Error(t, err)
	assert.True(t, fluxerr.IsType(err, fluxerr.Precondition))
	assert.Contains(t, err.Error(), "3, 4")
}

func TestDeployRefusesAmbiguousRevisions(t *testing.T) {
	m := mock.New(managedDeployment("web", 3), managedDeployment("db", 4))
	report, err := newDeployer(m).Deploy(context.Background(), []resource.Object{managedDeployment("web", 0)}, Options{Rollback: true})
	require.Error(t, err)
	assert.True(t, fluxerr.IsType(err, fluxerr.Precondition))
	assert.Empty(t, report.Applied)
	assert.Empty(t, m.CallsTo("Create"))
	assert.Empty(t, m.CallsTo("Update"))
}

func TestDeployStampsNextRevision(t *testing.T) {
	m := mock.New(managedDeployment("web", 3), managedDeployment("db", 3))
	m.AddPods(readyPod("web", 4), readyPod("db", 4), readyPod("web", 3))

	objs := []resource.Object{service("web"), managedDeployment("web", 0), managedDeployment("db", 0)}
	report, err := newDeployer(m).Deploy(context.Background(), objs, Options{Rollback: true})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, int64(3), report.PreviousRevision)
	assert.Equal(t, int64(4), report.Revision)
	assert.True(t, report.Healthy)
	assert.False(t, report.RolledBack)
	require.Len(t, report.Deployments, 2)
	assert.Equal(t, "web", report.Deployments[0].Name)
	assert.Equal(t, "db", report.Deployments[1].Name)

	assert.Equal(t, int64(4), revisionOf(t, m, "default:deployment/web"))
	assert.Equal(t, int64(4), revisionOf(t, m, "default:deployment/db"))
	assert.Equal(t, int64(4), revisionOf(t, m, "default:service/web"))
	assert.Empty(t, m.CallsTo("RollbackDeployment"))
}

func TestDeployFirstRevision(t *testing.T) {
	m := mock.New()
	m.AddPods(readyPod("web", 1))
	report, err := newDeployer(m).Deploy(context.Background(), []resource.Object{managedDeployment("web", 0)}, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Revision)
	assert.True(t, report.Healthy)
	assert.Equal(t, "default:deployment/web", m.CallsTo("Create")[0].ID)
}

func TestDeployRevisionOverride(t *testing.T) {
	m := mock.New(managedDeployment("web", 3))
	m.AddPods(readyPod("web", 10))
	report, err := newDeployer(m).Deploy(context.Background(), []resource.Object{managedDeployment("web", 0)}, Options{Revision: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(10), report.Revision)
	assert.Equal(t, int64(10), revisionOf(t, m, "default:deployment/web"))
}

func rolledBackDeployment(name string, revision, highest int64) resource.Object {
	o := managedDeployment(name, revision)
	o.SetAnnotation(resource.HighestRevisionAnnotation, strconv.FormatInt(highest, 10))
	return o
}

func TestDeployAfterRollbackSkipsUsedRevisions(t *testing.T) {
	// revision 2 went out and was rolled back to 1; the next deploy
	// must not be called 2 again.
	m := mock.New(rolledBackDeployment("web", 1, 2), managedDeployment("db", 1))
	m.AddPods(readyPod("web", 3), readyPod("db", 3))

	objs := []resource.Object{managedDeployment("web", 0), managedDeployment("db", 0)}
	report, err := newDeployer(m).Deploy(context.Background(), objs, Options{Rollback: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.PreviousRevision)
	assert.Equal(t, int64(3), report.Revision)
	assert.Equal(t, int64(3), revisionOf(t, m, "default:deployment/web"))
	assert.Equal(t, int64(3), revisionOf(t, m, "default:deployment/db"))
}

func TestDeployRefusesUsedRevision(t *testing.T) {
	m := mock.New(rolledBackDeployment("web", 1, 2))
	for _, rev := range []int64{1, 2} {
		_, err := newDeployer(m).Deploy(context.Background(), []resource.Object{managedDeployment("web", 0)}, Options{Revision: rev})
		require.Error(t, err)
		assert.True(t, fluxerr.IsType(err, fluxerr.Precondition))
	}
	assert.Empty(t, m.CallsTo("Update"))
}

func TestDeployUnhealthyRollsBack(t *testing.T) {
	m := mock.New(managedDeployment("web", 3), managedDeployment("db", 3))
	m.AddPods(failingPod("web", 4), readyPod("db", 4))

	objs := []resource.Object{managedDeployment("web", 0), managedDeployment("db", 0)}
	report, err := newDeployer(m).Deploy(context.Background(), objs, Options{Rollback: true})
	require.NoError(t, err)

	assert.False(t, report.Healthy)
	assert.True(t, report.RolledBack)
	require.Len(t, report.Deployments, 1)
	assert.Equal(t, "web", report.Deployments[0].Name)
	assert.Equal(t, "web-4", report.Deployments[0].Status.FailedPods[0].Name)

	var rolledBack []string
	for _, c := range m.CallsTo("RollbackDeployment") {
		rolledBack = append(rolledBack, c.ID)
	}
	assert.Equal(t, []string{"default:deployment/db@3", "default:deployment/web@3"}, rolledBack)
	require.Len(t, report.Rollbacks, 2)
	for _, r := range report.Rollbacks {
		assert.True(t, r.Outcome.Success, r.Name)
	}
}

func TestDeployUnhealthyWithoutRollback(t *testing.T) {
	m := mock.New(managedDeployment("web", 3))
	m.AddPods(failingPod("web", 4))

	report, err := newDeployer(m).Deploy(context.Background(), []resource.Object{managedDeployment("web", 0)}, Options{})
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.False(t, report.RolledBack)
	assert.Empty(t, m.CallsTo("RollbackDeployment"))
}

func TestDeployTimeoutCountsAsUnhealthy(t *testing.T) {
	m := mock.New(managedDeployment("web", 3))
	d := newDeployer(m)
	d.Monitor.Timeout = 20 * time.Millisecond

	report, err := d.Deploy(context.Background(), []resource.Object{managedDeployment("web", 0)}, Options{Rollback: true, RollbackTo: 2})
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	require.Len(t, report.Deployments, 1)
	assert.True(t, report.Deployments[0].TimedOut)
	assert.Equal(t, "default:deployment/web@2", m.CallsTo("RollbackDeployment")[0].ID)
}

func TestDeployRollbackRefused(t *testing.T) {
	m := mock.New(managedDeployment("web", 3))
	m.AddPods(failingPod("web", 4))
	m.RollbackDeploymentFunc = func(_ context.Context, namespace, name string, _ int64) error {
		m.AddEvent(mock.RollbackEvent(namespace, name, cluster.ReasonRollbackRevisionNotFound, "Unable to find the revision to rollback to."))
		return nil
	}

	report, err := newDeployer(m).Deploy(context.Background(), []resource.Object{managedDeployment("web", 0)}, Options{Rollback: true})
	require.Error(t, err)
	assert.True(t, fluxerr.IsType(err, fluxerr.Server))
	assert.Contains(t, fluxerr.HelpOf(err), "Unable to find the revision to rollback to.")
	assert.True(t, report.RolledBack)
	require.Len(t, report.Rollbacks, 1)
	assert.False(t, report.Rollbacks[0].Outcome.Success)
}

func TestDeployApplyFailure(t *testing.T) {
	m := mock.New()
	m.CreateFunc = func(_ context.Context, obj resource.Object) error {
		if obj.Kind() == resource.KindService {
			return errors.New("forbidden")
		}
		return nil
	}
	objs := []resource.Object{managedDeployment("web", 0), service("web")}
	report, err := newDeployer(m).Deploy(context.Background(), objs, Options{Rollback: true})
	require.Error(t, err)
	assert.True(t, fluxerr.IsType(err, fluxerr.Server))
	assert.Len(t, report.Applied, 1)
	assert.Empty(t, m.CallsTo("ListPods"))
	assert.Empty(t, m.CallsTo("RollbackDeployment"))
}

func TestRollbackAll(t *testing.T) {
	m := mock.New(managedDeployment("web", 4), managedDeployment("db", 4))
	results, err := newDeployer(m).RollbackAll(context.Background(), "default", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "db", results[0].Name)
	assert.Equal(t, "web", results[1].Name)
	assert.Len(t, m.CallsTo("RollbackDeployment"), 2)
}

func TestRollbackAllCallFailure(t *testing.T) {
	m := mock.New(managedDeployment("web", 4))
	m.RollbackDeploymentFunc = func(context.Context, string, string, int64) error {
		return errors.New("connection refused")
	}
	_, err := newDeployer(m).RollbackAll(context.Background(), "default", 3)
	require.Error(t, err)
	assert.True(t, fluxerr.IsType(err, fluxerr.Server))
}
