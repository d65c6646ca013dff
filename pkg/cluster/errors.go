package cluster

import (
	"fmt"

	"github.com/pkg/errors"

	fluxerr "github.com/fluxcd/rz/pkg/errors"
)

func ObjectMissingError(obj string, err error) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.Missing,
		Err:  err,
		Help: fmt.Sprintf(`Cluster object %q not found

The object requested was not found in the cluster. Check spelling and
perhaps verify its presence using kubectl.
`, obj)}
}

// ClusterCallError wraps a failed call to the cluster.
func ClusterCallError(op, obj string, err error) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.Server,
		Err:  errors.Wrapf(err, "%s %s", op, obj),
		Help: fmt.Sprintf(`Unable to %s %s

The cluster returned an error:

    %s

Objects applied before this one have been left in place. Check that
the cluster is reachable, and that you have permission to make the
change, then try again.
`, op, obj, err),
	}
}
