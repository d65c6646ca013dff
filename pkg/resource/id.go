package resource

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ClusterScope stands in for the namespace of objects that don't
// live in one (i.e., Namespaces themselves).
const ClusterScope = "<cluster>"

var (
	ErrInvalidID = errors.New("invalid resource ID")

	// The namespace and name components are (apparently
	// non-normatively) defined in
	// https://github.com/kubernetes/community/blob/master/contributors/design-proposals/architecture/identifiers.md
	IDRegexp = regexp.MustCompile("^(<cluster>|[a-zA-Z0-9_-]+):([a-zA-Z0-9_-]+)/([a-zA-Z0-9_.:-]+)$")
)

// ID uniquely identifies an object in the cluster, in the form
// <namespace>:<kind>/<name>. Kinds are compared case-insensitively.
type ID struct {
	namespace, kind, name string
}

// MakeID constructs an ID from constituent components.
func MakeID(namespace, kind, name string) ID {
	if namespace == "" {
		namespace = ClusterScope
	}
	return ID{namespace, strings.ToLower(kind), name}
}

// ParseID constructs an ID from a string representation if possible,
// returning an error value otherwise.
func ParseID(s string) (ID, error) {
	if m := IDRegexp.FindStringSubmatch(s); m != nil {
		return ID{m[1], strings.ToLower(m[2]), m[3]}, nil
	}
	return ID{}, errors.Wrap(ErrInvalidID, "parsing "+s)
}

// MustParseID constructs an ID from a string representation,
// panicing if the format is invalid.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%s/%s", id.namespace, id.kind, id.name)
}

type IDs []ID

func (p IDs) Len() int           { return len(p) }
func (p IDs) Less(i, j int) bool { return p[i].String() < p[j].String() }
func (p IDs) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p IDs) Sort()              { sort.Sort(p) }
