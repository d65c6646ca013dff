// Package compose holds the in-memory form of a compose project, as
// consumed by the manifest synthesizer, and the means of getting one:
// loading a compose file and resolving each service's image.
package compose

import "sort"

type Protocol string

const (
	TCP Protocol = "TCP"
	UDP Protocol = "UDP"
)

// Port is a container port.
type Port struct {
	Number   int32
	Protocol Protocol
}

// PortBinding publishes a container port on one or more host ports. A
// host port of 0 means the container port is published without a
// fixed host port.
type PortBinding struct {
	Container Port
	HostPorts []int32
}

type RestartPolicy string

const (
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartNever     RestartPolicy = "no"
)

// VolumeMount mounts External (a host path, a named volume, or
// nothing for an anonymous volume) at the path Internal in the
// container.
type VolumeMount struct {
	External string
	Internal string
	ReadOnly bool
}

// Anonymous reports whether the mount has no external source.
func (m VolumeMount) Anonymous() bool {
	return m.External == ""
}

type BuildConfig struct {
	Context    string
	Dockerfile string
}

type Service struct {
	Name        string
	Image       string
	Build       *BuildConfig
	Ports       []Port
	Bindings    []PortBinding
	Environment map[string]string
	Command     []string
	Entrypoint  []string
	Restart     RestartPolicy
	Volumes     []VolumeMount
	VolumesFrom []string
	// Keys given for the service that have no equivalent in the
	// cluster, sorted.
	Ignored []string
}

// VolumeDecl is a named volume declared at the top level of the
// project.
type VolumeDecl struct {
	Name       string
	Driver     string
	DriverOpts map[string]string
	External   bool
}

type Project struct {
	Name     string
	Services []Service
	// Declared volumes, by key
	Volumes map[string]VolumeDecl
}

// Service returns the service with the given name.
func (p *Project) Service(name string) (Service, bool) {
	for _, s := range p.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}

// ServiceNames returns the names of all services, sorted.
func (p *Project) ServiceNames() []string {
	var names []string
	for _, s := range p.Services {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

// LookupVolume finds the declaration an external volume identifier
// refers to: by key, by explicit name, or by the project-qualified
// key.
func (p *Project) LookupVolume(external string) (VolumeDecl, bool) {
	if decl, ok := p.Volumes[external]; ok {
		return decl, true
	}
	keys := make([]string, 0, len(p.Volumes))
	for k := range p.Volumes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		decl := p.Volumes[k]
		if decl.Name != "" && decl.Name == external {
			return decl, true
		}
		if p.Name != "" && p.Name+"_"+k == external {
			return decl, true
		}
	}
	return VolumeDecl{}, false
}
