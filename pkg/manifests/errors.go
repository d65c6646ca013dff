package manifests

import (
	"fmt"

	fluxerr "github.com/fluxcd/rz/pkg/errors"
	"github.com/fluxcd/rz/pkg/resource"
)

// UntranslatableServiceError is returned when a service uses something
// that has no equivalent in the cluster, or is inconsistent.
func UntranslatableServiceError(service string, err error) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.User,
		Err:  fmt.Errorf("service %q: %v", service, err),
		Help: fmt.Sprintf(`Unable to translate service %q

The error was:

    %s

Nothing has been written. Correct the compose file and try again.
`, service, err),
	}
}

// ObjectNameCollisionError is returned when two services would each
// need an object of the same kind and name.
func ObjectNameCollisionError(id resource.ID, first, second string) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.User,
		Err:  fmt.Errorf("services %q and %q both translate to %s", first, second, id),
		Help: fmt.Sprintf(`Two services translate to the same object

Services %q and %q would both be given %s. A service
publishing more than one port gets a Service per port, named after the
service and the container port, and that name is taken by the other
service.

Nothing has been written. Rename one of the services and try again.
`, first, second, id),
	}
}
