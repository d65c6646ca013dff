package compose

import (
	"fmt"

	fluxerr "github.com/fluxcd/rz/pkg/errors"
)

// MalformedComposeError is returned when the compose file can't be
// read as a project.
func MalformedComposeError(path string, err error) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.User,
		Err:  err,
		Help: fmt.Sprintf(`Unable to read the compose file %q

The error was:

    %s

Check that the file is a compose file in the version 2 or version 3
format, and that every service has either an image or a build section.
`, path, err),
	}
}

// ImageResolutionError is returned when an image can't be produced for
// a service.
func ImageResolutionError(service string, err error) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.User,
		Err:  err,
		Help: fmt.Sprintf(`Unable to get an image for service %q

The error was:

    %s

If the service is built locally, check that the docker command is on
your PATH and that the docker daemon is running.
`, service, err),
	}
}
