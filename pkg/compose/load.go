package compose

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Keys of a service definition that are translated. Anything else is
// recorded as ignored.
var knownServiceKeys = map[string]bool{
	"image":        true,
	"build":        true,
	"ports":        true,
	"expose":       true,
	"environment":  true,
	"command":      true,
	"entrypoint":   true,
	"restart":      true,
	"volumes":      true,
	"volumes_from": true,
}

type rawProject struct {
	Version  interface{}                       `yaml:"version"`
	Services map[string]map[string]interface{} `yaml:"services"`
	Volumes  map[string]*rawVolume             `yaml:"volumes"`
}

type rawVolume struct {
	Name       string                 `yaml:"name"`
	Driver     string                 `yaml:"driver"`
	DriverOpts map[string]interface{} `yaml:"driver_opts"`
	External   interface{}            `yaml:"external"`
}

var projectNameRegexp = regexp.MustCompile(`[^a-z0-9_-]`)

// ProjectName derives a project name from the directory the compose
// file lives in.
func ProjectName(dir string) string {
	abs, err := filepath.Abs(dir)
	if err == nil {
		dir = abs
	}
	return projectNameRegexp.ReplaceAllString(strings.ToLower(filepath.Base(dir)), "")
}

// Load reads the compose file at path. If name is empty, the project
// is named after the directory containing the file.
func Load(path, name string) (*Project, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, MalformedComposeError(path, err)
	}
	dir := filepath.Dir(path)
	if name == "" {
		name = ProjectName(dir)
	}
	project, err := Parse(data, dir, name)
	if err != nil {
		return nil, MalformedComposeError(path, err)
	}
	return project, nil
}

// Parse reads a compose document. Relative host paths in volume mounts
// are taken relative to dir.
func Parse(data []byte, dir, name string) (*Project, error) {
	if err := validateShape(data); err != nil {
		return nil, err
	}
	var raw rawProject
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing compose YAML")
	}

	project := &Project{
		Name:    name,
		Volumes: map[string]VolumeDecl{},
	}
	for key, v := range raw.Volumes {
		decl, err := parseVolumeDecl(key, v)
		if err != nil {
			return nil, errors.Wrapf(err, "volume %q", key)
		}
		project.Volumes[key] = decl
	}

	names := make([]string, 0, len(raw.Services))
	for n := range raw.Services {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		svc, err := parseService(n, raw.Services[n], dir)
		if err != nil {
			return nil, errors.Wrapf(err, "service %q", n)
		}
		project.Services = append(project.Services, svc)
	}
	return project, nil
}

func parseVolumeDecl(key string, v *rawVolume) (VolumeDecl, error) {
	decl := VolumeDecl{Name: key}
	if v == nil {
		return decl, nil
	}
	if v.Name != "" {
		decl.Name = v.Name
	}
	decl.Driver = v.Driver
	if len(v.DriverOpts) > 0 {
		decl.DriverOpts = map[string]string{}
		for k, val := range v.DriverOpts {
			decl.DriverOpts[k] = fmt.Sprint(val)
		}
	}
	switch ext := v.External.(type) {
	case nil:
	case bool:
		decl.External = ext
	case map[interface{}]interface{}:
		decl.External = true
		if n, ok := ext["name"].(string); ok && n != "" {
			decl.Name = n
		}
	default:
		return decl, fmt.Errorf("unexpected value for external: %v", ext)
	}
	return decl, nil
}

func parseService(name string, raw map[string]interface{}, dir string) (Service, error) {
	svc := Service{Name: name}
	var err error

	for key := range raw {
		if !knownServiceKeys[key] {
			svc.Ignored = append(svc.Ignored, key)
		}
	}
	sort.Strings(svc.Ignored)

	if image, ok := raw["image"].(string); ok {
		svc.Image = image
	}
	if b, ok := raw["build"]; ok {
		if svc.Build, err = parseBuild(b, dir); err != nil {
			return svc, err
		}
	}
	if svc.Image == "" && svc.Build == nil {
		return svc, fmt.Errorf("no image or build value found")
	}

	for _, p := range scalarList(raw["ports"]) {
		port, host, err := ParsePort(p)
		if err != nil {
			return svc, err
		}
		svc.Ports = addPort(svc.Ports, port)
		svc.Bindings = addBinding(svc.Bindings, port, host)
	}
	for _, p := range scalarList(raw["expose"]) {
		port, err := ParseExpose(p)
		if err != nil {
			return svc, err
		}
		svc.Ports = addPort(svc.Ports, port)
	}

	if svc.Environment, err = parseEnvironment(raw["environment"]); err != nil {
		return svc, err
	}
	svc.Command = commandLine(raw["command"])
	svc.Entrypoint = commandLine(raw["entrypoint"])

	if r, ok := raw["restart"].(string); ok {
		switch RestartPolicy(r) {
		case RestartAlways, RestartOnFailure, RestartNever:
			svc.Restart = RestartPolicy(r)
		default:
			// "unless-stopped", "on-failure:5" and the like
			if strings.HasPrefix(r, string(RestartOnFailure)+":") {
				svc.Restart = RestartOnFailure
			} else if r == "unless-stopped" {
				svc.Restart = RestartAlways
			} else {
				return svc, fmt.Errorf("unknown restart policy %q", r)
			}
		}
	}

	if vols, ok := raw["volumes"].([]interface{}); ok {
		for _, v := range vols {
			mount, err := parseVolumeMount(v, dir)
			if err != nil {
				return svc, err
			}
			svc.Volumes = append(svc.Volumes, mount)
		}
	}
	for _, from := range scalarList(raw["volumes_from"]) {
		source := strings.SplitN(from, ":", 2)[0]
		if source == "container" {
			return svc, fmt.Errorf("volumes_from %q: mounting from a container is not supported", from)
		}
		svc.VolumesFrom = append(svc.VolumesFrom, source)
	}
	return svc, nil
}

func parseBuild(b interface{}, dir string) (*BuildConfig, error) {
	switch b := b.(type) {
	case string:
		return &BuildConfig{Context: buildContext(b, dir)}, nil
	case map[interface{}]interface{}:
		build := &BuildConfig{Context: "."}
		if c, ok := b["context"].(string); ok {
			build.Context = c
		}
		build.Context = buildContext(build.Context, dir)
		if f, ok := b["dockerfile"].(string); ok {
			build.Dockerfile = f
		}
		return build, nil
	}
	return nil, fmt.Errorf("unexpected value for build: %v", b)
}

func parseEnvironment(env interface{}) (map[string]string, error) {
	if env == nil {
		return nil, nil
	}
	result := map[string]string{}
	switch env := env.(type) {
	case []interface{}:
		for _, e := range env {
			kv := strings.SplitN(fmt.Sprint(e), "=", 2)
			if len(kv) == 1 {
				result[kv[0]] = ""
			} else {
				result[kv[0]] = kv[1]
			}
		}
	case map[interface{}]interface{}:
		for k, v := range env {
			if v == nil {
				result[fmt.Sprint(k)] = ""
			} else {
				result[fmt.Sprint(k)] = fmt.Sprint(v)
			}
		}
	default:
		return nil, fmt.Errorf("unexpected value for environment: %v", env)
	}
	return result, nil
}

// commandLine accepts a command given as either a list or a string;
// strings are split on whitespace.
func commandLine(c interface{}) []string {
	switch c := c.(type) {
	case string:
		return strings.Fields(c)
	case []interface{}:
		var args []string
		for _, a := range c {
			args = append(args, fmt.Sprint(a))
		}
		return args
	}
	return nil
}

func scalarList(l interface{}) []string {
	items, ok := l.([]interface{})
	if !ok {
		return nil
	}
	var result []string
	for _, i := range items {
		switch i := i.(type) {
		case int:
			result = append(result, strconv.Itoa(i))
		default:
			result = append(result, fmt.Sprint(i))
		}
	}
	return result
}

func parseVolumeMount(v interface{}, dir string) (VolumeMount, error) {
	switch v := v.(type) {
	case string:
		parts := strings.Split(v, ":")
		switch len(parts) {
		case 1:
			return VolumeMount{Internal: parts[0]}, nil
		case 2:
			return VolumeMount{External: hostPath(parts[0], dir), Internal: parts[1]}, nil
		case 3:
			mount := VolumeMount{External: hostPath(parts[0], dir), Internal: parts[1]}
			for _, opt := range strings.Split(parts[2], ",") {
				switch opt {
				case "ro":
					mount.ReadOnly = true
				case "rw", "z", "Z", "nocopy":
				default:
					return mount, fmt.Errorf("volume %q: unknown mode %q", v, opt)
				}
			}
			return mount, nil
		}
		return VolumeMount{}, fmt.Errorf("malformed volume %q", v)
	case map[interface{}]interface{}:
		mount := VolumeMount{}
		if s, ok := v["source"].(string); ok {
			mount.External = hostPath(s, dir)
		}
		if t, ok := v["target"].(string); ok {
			mount.Internal = t
		}
		if ro, ok := v["read_only"].(bool); ok {
			mount.ReadOnly = ro
		}
		if mount.Internal == "" {
			return mount, fmt.Errorf("volume %v has no target", v)
		}
		return mount, nil
	}
	return VolumeMount{}, fmt.Errorf("unexpected value for volume: %v", v)
}

// hostPath makes paths that are relative to the compose file absolute.
// Named volumes are returned as they are.
func hostPath(p, dir string) string {
	if p == "." || strings.HasPrefix(p, "./") || strings.HasPrefix(p, "../") {
		if abs, err := filepath.Abs(filepath.Join(dir, p)); err == nil {
			return abs
		}
		return filepath.Join(dir, p)
	}
	return p
}

func buildContext(c, dir string) string {
	if filepath.IsAbs(c) || strings.Contains(c, "://") {
		return c
	}
	return filepath.Join(dir, c)
}
