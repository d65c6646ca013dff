// Package apply puts a set of objects into the cluster, in dependency
// order, stamped with a revision.
package apply

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/fluxcd/rz/pkg/cluster"
	fluxerr "github.com/fluxcd/rz/pkg/errors"
	fluxmetrics "github.com/fluxcd/rz/pkg/metrics"
	"github.com/fluxcd/rz/pkg/resource"
)

type Action string

const (
	Created Action = "created"
	Updated Action = "updated"
)

// Record says what was done with one object.
type Record struct {
	Kind      resource.Kind
	Namespace string
	Name      string
	Action    Action
}

type Result []Record

// ObjectError is returned when an object could not be applied. The
// objects applied before it are left as they are.
type ObjectError struct {
	ID  resource.ID
	Op  string
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.ID, e.Err)
}

func (e *ObjectError) Cause() error {
	return e.Err
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// rankOfKind returns an int denoting the position of the given kind
// in the order objects are applied. Services come after the workloads
// they select.
func rankOfKind(kind resource.Kind) int {
	switch kind {
	// Namespaces answer to NOONE
	case resource.KindNamespace:
		return 0
	case resource.KindPod:
		return 1
	case resource.KindDeployment:
		return 2
	case resource.KindReplicationController:
		return 3
	case resource.KindReplicaSet:
		return 4
	case resource.KindService:
		return 5
	default:
		return 6
	}
}

type applyOrder []resource.Object

func (objs applyOrder) Len() int {
	return len(objs)
}

func (objs applyOrder) Swap(i, j int) {
	objs[i], objs[j] = objs[j], objs[i]
}

func (objs applyOrder) Less(i, j int) bool {
	return rankOfKind(objs[i].Kind()) < rankOfKind(objs[j].Kind())
}

// Order returns the objects in the order they are applied. Objects of
// the same kind keep their relative order.
func Order(objs []resource.Object) []resource.Object {
	ordered := append(applyOrder(nil), objs...)
	sort.Stable(ordered)
	return ordered
}

type Sequencer struct {
	cluster cluster.Cluster
	logger  log.Logger
}

func NewSequencer(c cluster.Cluster, logger log.Logger) *Sequencer {
	return &Sequencer{
		cluster: c,
		logger:  logger,
	}
}

// Apply creates or updates each object, in order, annotated with the
// revision given. The first failure stops the sequence.
func (s *Sequencer) Apply(ctx context.Context, objs []resource.Object, revision int64) (result Result, err error) {
	defer func(begin time.Time) {
		applyDuration.With(fluxmetrics.LabelSuccess, fmt.Sprint(err == nil)).Observe(time.Since(begin).Seconds())
	}(time.Now())

	for _, obj := range Order(objs) {
		obj = obj.DeepCopy()
		resource.StampRevision(obj, revision)

		action, err := s.applyOne(ctx, obj)
		if err != nil {
			s.logger.Log("id", obj.ID(), "err", err)
			return result, err
		}
		applyObjects.With(fluxmetrics.LabelKind, string(obj.Kind()), fluxmetrics.LabelAction, string(action)).Add(1)
		s.logger.Log("id", obj.ID(), "action", action, "revision", revision)
		result = append(result, Record{Kind: obj.Kind(), Namespace: obj.Namespace(), Name: obj.Name(), Action: action})
	}
	return result, nil
}

func (s *Sequencer) applyOne(ctx context.Context, obj resource.Object) (Action, error) {
	existing, err := s.cluster.Get(ctx, obj.Kind(), obj.Namespace(), obj.Name())
	switch {
	case fluxerr.IsMissing(err):
		if err := s.cluster.Create(ctx, obj); err != nil {
			return "", objectError(obj, "create", err)
		}
		return Created, nil
	case err != nil:
		return "", objectError(obj, "get", err)
	}

	resource.PreserveServerFields(existing, obj)
	if err := s.cluster.Update(ctx, obj); err != nil {
		return "", objectError(obj, "update", err)
	}
	return Updated, nil
}

// objectError wraps a failed call as a Server error carrying an
// ObjectError.
func objectError(obj resource.Object, op string, err error) error {
	return &fluxerr.Error{
		Type: fluxerr.Server,
		Err:  &ObjectError{ID: obj.ID(), Op: op, Err: err},
		Help: cluster.ClusterCallError(op, obj.ID().String(), err).Help,
	}
}
