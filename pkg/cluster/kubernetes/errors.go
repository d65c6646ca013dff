package kubernetes

import (
	"fmt"

	fluxerr "github.com/fluxcd/rz/pkg/errors"
)

func UnsupportedKindError(kind string) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.User,
		Err:  fmt.Errorf("resource kind %q not supported", kind),
		Help: `rz does not know how to apply ` + kind + ` resources.

Only Namespaces, Pods, Deployments, ReplicationControllers, ReplicaSets
and Services can be applied. Remove the object from the artifact, or
apply it manually (e.g., using kubectl).
`,
	}
}

func ServerVersionError(version, constraint string) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.Precondition,
		Err:  fmt.Errorf("server version %s does not satisfy %q", version, constraint),
		Help: fmt.Sprintf(`The Kubernetes API server is too old

The server reports version %s, but rz needs a server whose version
satisfies %q, so that apps/v1 Deployments are available.
`, version, constraint),
	}
}
