// Package rollout puts a set of objects into a namespace as a new
// revision, checks the deployments come up, and rolls everything back
// if they don't.
package rollout

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"

	"github.com/fluxcd/rz/pkg/apply"
	"github.com/fluxcd/rz/pkg/cluster"
	"github.com/fluxcd/rz/pkg/health"
	fluxmetrics "github.com/fluxcd/rz/pkg/metrics"
	"github.com/fluxcd/rz/pkg/resource"
	"github.com/fluxcd/rz/pkg/rollback"
)

const DefaultNamespace = "default"

type Options struct {
	Namespace string
	// Roll back every deployment in the namespace if any is unhealthy
	Rollback bool
	// Revision to stamp; zero means one more than the highest so far
	Revision int64
	// Revision to roll back to; zero means the one before this deploy
	RollbackTo int64
}

type DeploymentStatus struct {
	Name   string
	Status health.Status
	// Set when the pods didn't settle in time
	TimedOut bool
}

func (s DeploymentStatus) Healthy() bool {
	return s.Status.Phase == health.PhaseRunning
}

type RollbackResult struct {
	Name    string
	Outcome rollback.Outcome
}

// Report says what happened in a deploy.
type Report struct {
	RunID            string
	PreviousRevision int64
	Revision         int64
	Applied          apply.Result
	Deployments      []DeploymentStatus
	Healthy          bool
	RolledBack       bool
	Rollbacks        []RollbackResult
}

type Deployer struct {
	cluster cluster.Cluster
	logger  log.Logger

	Sequencer *apply.Sequencer
	Monitor   *health.Monitor
	Rollbacks *rollback.Controller
}

func NewDeployer(c cluster.Cluster, logger log.Logger) *Deployer {
	return &Deployer{
		cluster:   c,
		logger:    logger,
		Sequencer: apply.NewSequencer(c, log.With(logger, "component", "apply")),
		Monitor:   health.NewMonitor(c, log.With(logger, "component", "health")),
		Rollbacks: rollback.NewController(c, log.With(logger, "component", "rollback")),
	}
}

func namespaceOr(ns string) string {
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}

// CurrentRevision returns the revision the managed deployments in the
// namespace are at, or 0 if there are none. If they are at different
// revisions, the returned error is a Precondition error.
func (d *Deployer) CurrentRevision(ctx context.Context, namespace string) (int64, error) {
	current, _, err := d.revisions(ctx, namespaceOr(namespace))
	return current, err
}

// revisions returns the current revision, and the highest revision any
// managed deployment in the namespace has been at. A rolled back
// deployment is at a lower revision than it has been.
func (d *Deployer) revisions(ctx context.Context, namespace string) (current, highest int64, err error) {
	deployments, err := d.cluster.ListDeployments(ctx, namespace)
	if err != nil {
		return 0, 0, cluster.ClusterCallError("list", "deployments in namespace "+namespace, err)
	}

	seen := map[int64]bool{}
	var revs []int64
	for _, dep := range deployments {
		rev, ok, err := resource.ParseRevision(dep.Annotations)
		if err != nil {
			return 0, 0, InvalidRevisionError(namespace+"/"+dep.Name, err)
		}
		high, err := resource.HighestRevision(dep.Annotations)
		if err != nil {
			return 0, 0, InvalidRevisionError(namespace+"/"+dep.Name, err)
		}
		if high > highest {
			highest = high
		}
		if !ok || seen[rev] {
			continue
		}
		seen[rev] = true
		revs = append(revs, rev)
	}
	sort.Slice(revs, func(i, j int) bool { return revs[i] < revs[j] })

	switch len(revs) {
	case 0:
		return 0, highest, nil
	case 1:
		return revs[0], highest, nil
	}
	return 0, 0, AmbiguousRevisionsError(namespace, revs)
}

// Deploy applies the objects as the next revision, and waits for each
// deployment among them to be running. If one fails and opts.Rollback
// is set, every managed deployment in the namespace is rolled back. An
// unhealthy deploy is not an error in itself; check Report.Healthy.
func (d *Deployer) Deploy(ctx context.Context, objs []resource.Object, opts Options) (report Report, err error) {
	report.RunID = uuid.New().String()
	namespace := namespaceOr(opts.Namespace)
	logger := log.With(d.logger, "run", report.RunID, "namespace", namespace)

	defer func(begin time.Time) {
		success := err == nil && report.Healthy
		deployDuration.With(fluxmetrics.LabelSuccess, fmt.Sprint(success)).Observe(time.Since(begin).Seconds())
	}(time.Now())

	current, highest, err := d.revisions(ctx, namespace)
	if err != nil {
		logger.Log("err", err)
		return report, err
	}
	report.PreviousRevision = current
	report.Revision = highest + 1
	if opts.Revision > 0 {
		if opts.Revision <= highest {
			err = UsedRevisionError(namespace, opts.Revision, highest)
			logger.Log("err", err)
			return report, err
		}
		report.Revision = opts.Revision
	}
	logger.Log("info", "deploying", "objects", len(objs), "previous-revision", current, "revision", report.Revision)

	report.Applied, err = d.Sequencer.Apply(ctx, objs, report.Revision)
	if err != nil {
		logger.Log("err", err)
		return report, err
	}

	report.Healthy = true
	for _, rec := range report.Applied {
		if rec.Kind != resource.KindDeployment {
			continue
		}
		status, err := d.checkDeployment(ctx, rec)
		if err != nil {
			logger.Log("deployment", rec.Name, "err", err)
			return report, err
		}
		report.Deployments = append(report.Deployments, status)
		if !status.Healthy() {
			logger.Log("deployment", rec.Name, "phase", status.Status.Phase, "timed-out", status.TimedOut)
			report.Healthy = false
			break
		}
	}

	if report.Healthy || !opts.Rollback {
		logger.Log("info", "deploy finished", "healthy", report.Healthy)
		return report, nil
	}

	to := opts.RollbackTo
	if to == 0 {
		to = current
	}
	logger.Log("info", "rolling back", "to-revision", to)
	report.RolledBack = true
	report.Rollbacks, err = d.RollbackAll(ctx, namespace, to)
	if err != nil {
		logger.Log("err", err)
	}
	return report, err
}

// checkDeployment waits on the deployment as it now is in the cluster,
// so the selector and replica count are the ones the cluster settled on.
func (d *Deployer) checkDeployment(ctx context.Context, rec apply.Record) (DeploymentStatus, error) {
	obj, err := d.cluster.Get(ctx, resource.KindDeployment, rec.Namespace, rec.Name)
	if err != nil {
		return DeploymentStatus{}, cluster.ClusterCallError("get", "deployment "+rec.Namespace+"/"+rec.Name, err)
	}
	deployment, ok := obj.AsDeployment()
	if !ok {
		return DeploymentStatus{}, fmt.Errorf("%s is not a deployment", obj.ID())
	}

	status, err := d.Monitor.CheckStatus(ctx, deployment)
	switch {
	case err == health.ErrTimeout:
		return DeploymentStatus{Name: rec.Name, TimedOut: true}, nil
	case err != nil:
		return DeploymentStatus{}, err
	}
	return DeploymentStatus{Name: rec.Name, Status: status}, nil
}

// RollbackAll rolls back every managed deployment in the namespace to
// the revision given, 0 meaning the one before each deployment's
// current revision. If any rollback is refused, the error is a
// RollbackFailedError; the results say how each went.
func (d *Deployer) RollbackAll(ctx context.Context, namespace string, toRevision int64) ([]RollbackResult, error) {
	namespace = namespaceOr(namespace)
	logger := log.With(d.logger, "namespace", namespace, "to-revision", toRevision)

	deployments, err := d.cluster.ListDeployments(ctx, namespace)
	if err != nil {
		return nil, cluster.ClusterCallError("list", "deployments in namespace "+namespace, err)
	}

	var (
		results  []RollbackResult
		failures []RollbackFailure
	)
	for _, dep := range deployments {
		outcome, err := d.Rollbacks.Rollback(ctx, namespace, dep.Name, toRevision)
		switch {
		case err == rollback.ErrTimeout:
			outcome = rollback.Outcome{Message: err.Error()}
		case err != nil:
			rollbacksTotal.With(fluxmetrics.LabelSuccess, "false").Add(1)
			return results, err
		}
		rollbacksTotal.With(fluxmetrics.LabelSuccess, fmt.Sprint(outcome.Success)).Add(1)
		results = append(results, RollbackResult{Name: dep.Name, Outcome: outcome})
		if !outcome.Success {
			logger.Log("deployment", dep.Name, "err", outcome.Message)
			failures = append(failures, RollbackFailure{Name: dep.Name, Message: outcome.Message})
		}
	}
	if len(failures) > 0 {
		return results, RollbackFailedError(namespace, failures)
	}
	return results, nil
}
