package compose

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParsePort parses a port entry as written in a service's `ports`
// list, `[ip:][host:]container[/protocol]`. A host port of 0 is
// returned when none is given.
func ParsePort(spec string) (Port, int32, error) {
	proto := TCP
	rest := spec
	if i := strings.LastIndex(spec, "/"); i >= 0 {
		switch strings.ToLower(spec[i+1:]) {
		case "tcp":
		case "udp":
			proto = UDP
		default:
			return Port{}, 0, fmt.Errorf("malformed port %q: unknown protocol %q", spec, spec[i+1:])
		}
		rest = spec[:i]
	}

	var hostPart, containerPart string
	parts := strings.Split(rest, ":")
	switch len(parts) {
	case 1:
		containerPart = parts[0]
	case 2:
		hostPart, containerPart = parts[0], parts[1]
	default:
		// the leading parts are an IP address, possibly IPv6
		hostPart, containerPart = parts[len(parts)-2], parts[len(parts)-1]
	}

	container, err := parsePortNumber(containerPart)
	if err != nil {
		return Port{}, 0, errors.Wrapf(err, "malformed port %q", spec)
	}
	var host int32
	if hostPart != "" {
		if host, err = parsePortNumber(hostPart); err != nil {
			return Port{}, 0, errors.Wrapf(err, "malformed port %q", spec)
		}
	}
	return Port{Number: container, Protocol: proto}, host, nil
}

func parsePortNumber(s string) (int32, error) {
	if strings.Contains(s, "-") {
		return 0, fmt.Errorf("port ranges are not supported")
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid port number %q", s)
	}
	return int32(n), nil
}

// ParseExpose parses an entry of a service's `expose` list,
// `container[/protocol]`.
func ParseExpose(spec string) (Port, error) {
	port, host, err := ParsePort(spec)
	if err != nil {
		return Port{}, err
	}
	if host != 0 {
		return Port{}, fmt.Errorf("malformed exposed port %q: host ports can't be given", spec)
	}
	return port, nil
}

// addBinding records a host port against its container port, keeping
// the order in which container ports were first seen.
func addBinding(bindings []PortBinding, port Port, host int32) []PortBinding {
	for i := range bindings {
		if bindings[i].Container == port {
			bindings[i].HostPorts = append(bindings[i].HostPorts, host)
			return bindings
		}
	}
	return append(bindings, PortBinding{Container: port, HostPorts: []int32{host}})
}

func addPort(ports []Port, port Port) []Port {
	for _, p := range ports {
		if p == port {
			return ports
		}
	}
	return append(ports, port)
}
