// Shared main test code
package main

import (
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/fluxcd/rz/pkg/cluster"
	"github.com/fluxcd/rz/pkg/cluster/mock"
	"github.com/fluxcd/rz/pkg/config"
	"github.com/fluxcd/rz/pkg/resource"
)

const testCompose = `version: "2"
services:
  web:
    image: nginx:1.25
    ports:
      - "80:8080"
    restart: on-failure
  redis:
    image: redis:7
`

type project struct {
	dir string
}

func newProject(t *testing.T) project {
	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte(testCompose), 0644))
	return project{dir: dir}
}

func (p project) path(name string) string {
	return filepath.Join(p.dir, name)
}

// args prefixes the command line with the flags pointing at the
// project's files.
func (p project) args(args ...string) []string {
	return append(args, "--config", p.path(config.ConfigName))
}

func execute(opts *rootOpts, args ...string) (stdout, stderr string, err error) {
	var out, errOut bytes.Buffer
	cmd := opts.Command()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func withCluster(m *mock.Mock) *rootOpts {
	opts := newRoot()
	opts.newCluster = func(config.Config, log.Logger) (cluster.Cluster, error) {
		return m, nil
	}
	return opts
}

func pod(app string, revision string, ready bool) corev1.Pod {
	p := corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:   "default",
			Name:        app + "-" + revision,
			Labels:      map[string]string{"app": app},
			Annotations: map[string]string{resource.RevisionAnnotation: revision},
		},
	}
	if ready {
		p.Status.Conditions = []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}}
	} else {
		p.Status.ContainerStatuses = []corev1.ContainerStatus{{
			Name:  app,
			State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "ErrImageNeverPull"}},
		}}
	}
	return p
}
