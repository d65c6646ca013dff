// Package rollback asks the cluster to roll a deployment back, and
// waits for it to say whether it did.
package rollback

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/kit/log"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/fluxcd/rz/pkg/cluster"
	fluxerr "github.com/fluxcd/rz/pkg/errors"
	"github.com/fluxcd/rz/pkg/resource"
)

const DefaultPollInterval = 2 * time.Second

// ErrTimeout is returned when no outcome has been reported within the
// controller's timeout.
var ErrTimeout = errors.New("timed out waiting for rollback outcome")

// Outcome is what the cluster reported. Message is set when the
// rollback could not be done.
type Outcome struct {
	Success bool
	Message string
}

type Controller struct {
	cluster cluster.Cluster
	logger  log.Logger

	PollInterval time.Duration
	// Zero means wait for as long as it takes
	Timeout time.Duration
}

func NewController(c cluster.Cluster, logger log.Logger) *Controller {
	return &Controller{
		cluster:      c,
		logger:       logger,
		PollInterval: DefaultPollInterval,
	}
}

// Rollback rolls the deployment back to the revision given, 0 meaning
// the previous one, and waits for the event saying how it went. Only
// events newer than the request are considered.
func (c *Controller) Rollback(ctx context.Context, namespace, name string, toRevision int64) (Outcome, error) {
	logger := log.With(c.logger, "deployment", namespace+"/"+name, "to-revision", toRevision)

	events, err := c.cluster.ListEvents(ctx, namespace, "")
	if err != nil {
		return Outcome{}, rollbackError(namespace, name, err)
	}
	watermark := events.ResourceVersion

	if err := c.cluster.RollbackDeployment(ctx, namespace, name, toRevision); err != nil {
		return Outcome{}, rollbackError(namespace, name, err)
	}

	pollCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var outcome Outcome
	err = wait.PollUntilContextCancel(pollCtx, c.PollInterval, true, func(ctx context.Context) (bool, error) {
		events, err := c.cluster.ListEvents(ctx, namespace, watermark)
		if err != nil {
			return false, err
		}
		var done bool
		outcome, done = outcomeOf(events.Items, name)
		return done, nil
	})
	switch {
	case err == nil:
		logger.Log("success", outcome.Success, "message", outcome.Message)
		return outcome, nil
	case ctx.Err() != nil:
		return Outcome{}, ctx.Err()
	case pollCtx.Err() != nil:
		return Outcome{}, ErrTimeout
	}
	return Outcome{}, rollbackError(namespace, name, err)
}

// outcomeOf looks for an event on the deployment that settles the
// rollback one way or the other.
func outcomeOf(events []corev1.Event, name string) (Outcome, bool) {
	for _, e := range events {
		if e.InvolvedObject.Kind != string(resource.KindDeployment) || e.InvolvedObject.Name != name {
			continue
		}
		switch e.Reason {
		case cluster.ReasonRollback:
			return Outcome{Success: true}, true
		case cluster.ReasonRollbackRevisionNotFound:
			return Outcome{Success: false, Message: e.Message}, true
		}
	}
	return Outcome{}, false
}

func rollbackError(namespace, name string, err error) *fluxerr.Error {
	return cluster.ClusterCallError("roll back", "deployment "+namespace+"/"+name, err)
}
