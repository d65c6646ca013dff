package rollout

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	fluxerr "github.com/fluxcd/rz/pkg/errors"
)

func AmbiguousRevisionsError(namespace string, revisions []int64) *fluxerr.Error {
	var revs []string
	for _, r := range revisions {
		revs = append(revs, fmt.Sprint(r))
	}
	return &fluxerr.Error{
		Type: fluxerr.Precondition,
		Err:  fmt.Errorf("deployments in namespace %q are at more than one revision: %s", namespace, strings.Join(revs, ", ")),
		Help: fmt.Sprintf(`Deployments are at different revisions

The deployments managed by rz in namespace %q do not agree on which
revision they are at (found %s). This usually means an earlier deploy
was interrupted, or a rollback only partly succeeded.

Nothing has been changed. Roll back to a single revision with

    rz rollback --to-revision <revision>

or check the deployments with kubectl, then try again.
`, namespace, strings.Join(revs, ", ")),
	}
}

func InvalidRevisionError(deployment string, err error) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.Precondition,
		Err:  errors.Wrapf(err, "deployment %s", deployment),
		Help: fmt.Sprintf(`Unreadable revision on deployment %s

The revision annotation on the deployment could not be read:

    %s

Nothing has been changed. Check whether the annotation has been edited
by hand, and correct it before trying again.
`, deployment, err),
	}
}

func UsedRevisionError(namespace string, revision, highest int64) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.Precondition,
		Err:  fmt.Errorf("revision %d has already been used in namespace %q", revision, namespace),
		Help: fmt.Sprintf(`Revision already used

Deployments in namespace %q have been at revisions up to %d, so
revision %d cannot be given to a new deploy: a later rollback to it
could pick the wrong pod template.

Nothing has been changed. Leave out --revision to use the next free
revision, or give one above %d.
`, namespace, highest, revision, highest),
	}
}

// RollbackFailure names a deployment that could not be rolled back.
type RollbackFailure struct {
	Name    string
	Message string
}

func RollbackFailedError(namespace string, failures []RollbackFailure) *fluxerr.Error {
	var lines []string
	for _, f := range failures {
		lines = append(lines, fmt.Sprintf("    %s: %s", f.Name, f.Message))
	}
	return &fluxerr.Error{
		Type: fluxerr.Server,
		Err:  fmt.Errorf("rolling back %d deployment(s) in namespace %q failed", len(failures), namespace),
		Help: fmt.Sprintf(`Rollback failed

These deployments in namespace %q could not be rolled back:

%s

They may now be at different revisions. Check them with kubectl, and
roll back by hand with

    rz rollback --to-revision <revision>
`, namespace, strings.Join(lines, "\n")),
	}
}
