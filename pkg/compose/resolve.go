package compose

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/go-kit/kit/log"
)

// ImageResolver produces the image reference a service should run,
// building it first if need be.
type ImageResolver interface {
	ResolveImage(ctx context.Context, svc Service) (string, error)
}

// ResolveImages sets the image of every service in the project, using
// the resolver given.
func ResolveImages(ctx context.Context, project *Project, resolver ImageResolver) error {
	for i := range project.Services {
		svc := &project.Services[i]
		image, err := resolver.ResolveImage(ctx, *svc)
		if err != nil {
			return ImageResolutionError(svc.Name, err)
		}
		svc.Image = image
	}
	return nil
}

// DeclaredImages resolves services to the image they declare, without
// building anything. Services that are only built get the name the
// image would be tagged with.
type DeclaredImages struct {
	Project string
}

func (d DeclaredImages) ResolveImage(_ context.Context, svc Service) (string, error) {
	if svc.Image != "" {
		return svc.Image, nil
	}
	return builtImageName(d.Project, svc.Name), nil
}

func builtImageName(project, service string) string {
	if project == "" {
		return service
	}
	return project + "_" + service
}

// CommandRunner runs an external command, returning its output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// DockerBuilder builds services that have a build section with the
// local docker daemon, optionally pushing the result.
type DockerBuilder struct {
	Project string
	// Prefixed to built image names, e.g., "gcr.io/my-project"
	Registry string
	Push     bool
	Logger   log.Logger
	// Defaults to running the command with os/exec
	Run CommandRunner
}

func (b DockerBuilder) ResolveImage(ctx context.Context, svc Service) (string, error) {
	if svc.Build == nil {
		return svc.Image, nil
	}
	logger := b.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	run := b.Run
	if run == nil {
		run = execCommand
	}

	tag := svc.Image
	if tag == "" {
		tag = builtImageName(b.Project, svc.Name)
	}
	if b.Registry != "" {
		tag = strings.TrimSuffix(b.Registry, "/") + "/" + tag
	}

	args := []string{"build", "--tag", tag}
	if svc.Build.Dockerfile != "" {
		args = append(args, "--file", svc.Build.Dockerfile)
	}
	args = append(args, svc.Build.Context)
	logger.Log("info", "building image", "service", svc.Name, "image", tag)
	if _, err := run(ctx, "docker", args...); err != nil {
		return "", err
	}
	if b.Push {
		logger.Log("info", "pushing image", "service", svc.Name, "image", tag)
		if _, err := run(ctx, "docker", "push", tag); err != nil {
			return "", err
		}
	}
	return tag, nil
}

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.Stdout = out
	cmd.Stderr = errOut

	err := cmd.Run()
	if err != nil {
		if errOut.Len() == 0 {
			return nil, err
		}
		return nil, errors.New(strings.TrimSpace(errOut.String()))
	}
	return out.Bytes(), nil
}
