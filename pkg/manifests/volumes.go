package manifests

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"

	"github.com/fluxcd/rz/pkg/compose"
)

const (
	driverLocal  = "local"
	driverGCE    = "gce"
	driverGCEPD  = "gcePersistentDisk"
	gcePDName    = "pdName"
	gceFSType    = "fsType"
	gcePartition = "partition"
	gceReadOnly  = "readOnly"
)

// VolumeName derives the pod volume name for a mount from the last
// path segment of its source (or, for anonymous volumes, its target).
func VolumeName(m compose.VolumeMount) string {
	src := m.External
	if m.Anonymous() {
		src = m.Internal
	}
	return strings.ToLower(strings.Replace(path.Base(src), "_", "-", -1))
}

// identity distinguishes mount sources that could end up with the same
// derived name.
func identity(m compose.VolumeMount) string {
	if m.Anonymous() {
		return "anonymous:" + m.Internal
	}
	return m.External
}

// collectMounts returns the service's own mounts followed by those of
// the services it takes volumes from, depth first.
func collectMounts(project compose.Project, svc compose.Service, visiting map[string]bool) ([]compose.VolumeMount, error) {
	if visiting[svc.Name] {
		return nil, fmt.Errorf("volumes_from cycle through %q", svc.Name)
	}
	visiting[svc.Name] = true
	defer delete(visiting, svc.Name)

	mounts := append([]compose.VolumeMount{}, svc.Volumes...)
	for _, from := range svc.VolumesFrom {
		source, ok := project.Service(from)
		if !ok {
			return nil, fmt.Errorf("volumes_from refers to unknown service %q", from)
		}
		more, err := collectMounts(project, source, visiting)
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, more...)
	}
	return mounts, nil
}

// podVolumes builds the container mounts and pod volumes for a
// service.
func podVolumes(project compose.Project, svc compose.Service) ([]corev1.VolumeMount, []corev1.Volume, error) {
	mounts, err := collectMounts(project, svc, map[string]bool{})
	if err != nil {
		return nil, nil, err
	}

	var (
		volumeMounts []corev1.VolumeMount
		volumes      []corev1.Volume
		sources      = map[string]string{}
	)
	for _, m := range mounts {
		name := VolumeName(m)
		volumeMounts = append(volumeMounts, corev1.VolumeMount{
			Name:      name,
			MountPath: m.Internal,
			ReadOnly:  m.ReadOnly,
		})
		if ident, ok := sources[name]; ok {
			if ident != identity(m) {
				return nil, nil, fmt.Errorf("volume name collision: %q and %q are both named %q", ident, identity(m), name)
			}
			continue
		}
		source, err := volumeSource(project, m)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "volume %q", name)
		}
		sources[name] = identity(m)
		volumes = append(volumes, corev1.Volume{Name: name, VolumeSource: source})
	}
	return volumeMounts, volumes, nil
}

func volumeSource(project compose.Project, m compose.VolumeMount) (corev1.VolumeSource, error) {
	emptyDir := corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}
	if m.Anonymous() {
		return emptyDir, nil
	}
	if strings.Contains(m.External, "/") {
		return corev1.VolumeSource{HostPath: &corev1.HostPathVolumeSource{Path: m.External}}, nil
	}
	decl, ok := project.LookupVolume(m.External)
	if !ok {
		return emptyDir, nil
	}
	switch decl.Driver {
	case "", driverLocal:
		return emptyDir, nil
	case driverGCE, driverGCEPD:
		pd, err := gcePersistentDisk(decl.DriverOpts)
		if err != nil {
			return corev1.VolumeSource{}, err
		}
		return corev1.VolumeSource{GCEPersistentDisk: pd}, nil
	}
	return corev1.VolumeSource{}, fmt.Errorf("driver of type %q is not supported", decl.Driver)
}

func gcePersistentDisk(opts map[string]string) (*corev1.GCEPersistentDiskVolumeSource, error) {
	pd := &corev1.GCEPersistentDiskVolumeSource{}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := opts[k]
		switch k {
		case gcePDName:
			pd.PDName = v
		case gceFSType:
			pd.FSType = v
		case gcePartition:
			n, err := strconv.ParseInt(v, 10, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "driver option %s", k)
			}
			pd.Partition = int32(n)
		case gceReadOnly:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, errors.Wrapf(err, "driver option %s", k)
			}
			pd.ReadOnly = b
		default:
			return nil, fmt.Errorf("unknown driver option %q for persistent disk", k)
		}
	}
	if pd.PDName == "" {
		return nil, fmt.Errorf("driver option %s is required for persistent disks", gcePDName)
	}
	return pd, nil
}
