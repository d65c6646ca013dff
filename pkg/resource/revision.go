package resource

import (
	"strconv"

	"github.com/pkg/errors"
)

const (
	// RevisionAnnotation records the revision an object was applied
	// at. It is also put on pod templates, so pods can be told apart
	// across a rolling update.
	RevisionAnnotation = "rz.fluxcd.io/revision"
	// HighestRevisionAnnotation records, on a deployment that has been
	// rolled back, the highest revision it had been at. Revision
	// numbers are never given out twice, so the next deploy has to
	// count from there.
	HighestRevisionAnnotation = "rz.fluxcd.io/highest-revision"

	ManagedByLabel = "app.kubernetes.io/managed-by"
	ManagedByValue = "rz"
)

// ParseRevision reads the revision annotation from a set of
// annotations. ok is false if the annotation is absent.
func ParseRevision(annotations map[string]string) (rev int64, ok bool, err error) {
	s, ok := annotations[RevisionAnnotation]
	if !ok {
		return 0, false, nil
	}
	rev, err = strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, true, errors.Wrapf(err, "parsing annotation %s=%q", RevisionAnnotation, s)
	}
	return rev, true, nil
}

// HighestRevision returns the higher of the revision and highest
// revision annotations, or 0 if neither is present.
func HighestRevision(annotations map[string]string) (int64, error) {
	rev, _, err := ParseRevision(annotations)
	if err != nil {
		return 0, err
	}
	s, ok := annotations[HighestRevisionAnnotation]
	if !ok {
		return rev, nil
	}
	highest, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing annotation %s=%q", HighestRevisionAnnotation, s)
	}
	if highest > rev {
		return highest, nil
	}
	return rev, nil
}

// StampRevision annotates the object, and its pod template if it has
// one, with the revision. Namespaces are left alone.
func StampRevision(o Object, rev int64) {
	if o.Kind() == KindNamespace {
		return
	}
	value := strconv.FormatInt(rev, 10)
	o.SetAnnotation(RevisionAnnotation, value)
	if tmpl := o.PodTemplate(); tmpl != nil {
		if tmpl.Annotations == nil {
			tmpl.Annotations = map[string]string{}
		}
		tmpl.Annotations[RevisionAnnotation] = value
	}
}

// PreserveServerFields copies the fields the API server assigns (and
// may refuse to have changed or cleared) from the live object to the
// one about to be written over it.
func PreserveServerFields(existing, desired Object) {
	desired.Meta().SetResourceVersion(existing.Meta().GetResourceVersion())

	live, ok := existing.AsService()
	if !ok {
		return
	}
	svc, ok := desired.AsService()
	if !ok {
		return
	}
	if svc.Spec.ClusterIP == "" {
		svc.Spec.ClusterIP = live.Spec.ClusterIP
		svc.Spec.ClusterIPs = live.Spec.ClusterIPs
	}
	if svc.Spec.HealthCheckNodePort == 0 {
		svc.Spec.HealthCheckNodePort = live.Spec.HealthCheckNodePort
	}
	for i := range svc.Spec.Ports {
		p := &svc.Spec.Ports[i]
		if p.NodePort != 0 {
			continue
		}
		for _, lp := range live.Spec.Ports {
			if lp.Port == p.Port && lp.Protocol == p.Protocol {
				p.NodePort = lp.NodePort
				break
			}
		}
	}
}
