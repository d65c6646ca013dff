package main

import (
	"fmt"
	"io/ioutil"

	"github.com/go-kit/kit/log"
	"github.com/spf13/cobra"

	"github.com/fluxcd/rz/pkg/compose"
	"github.com/fluxcd/rz/pkg/config"
	"github.com/fluxcd/rz/pkg/manifests"
	"github.com/fluxcd/rz/pkg/resource"
)

type buildOpts struct {
	*rootOpts
	revision int64
}

func newBuild(parent *rootOpts) *buildOpts {
	return &buildOpts{rootOpts: parent}
}

func (opts *buildOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "translate a docker-compose project into Kubernetes manifests",
		Example: makeExample(
			"rz build",
			"rz build -f docker-compose.prod.yml --builder local --registry gcr.io/my-project --push",
			"rz build --namespace staging -o - | kubectl apply -f -",
		),
		RunE: opts.RunE,
	}
	addComposeFlags(opts.rootOpts, cmd)
	cmd.Flags().Int64Var(&opts.revision, "revision", 0, "stamp the manifests with this revision; by default they are stamped when applied")
	return cmd
}

func (opts *buildOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	cfg := opts.Config

	project, err := compose.Load(cfg.ComposeFile, cfg.ProjectName)
	if err != nil {
		return err
	}

	var resolver compose.ImageResolver = compose.DeclaredImages{Project: project.Name}
	if cfg.Builder == config.BuilderLocal {
		resolver = compose.DockerBuilder{
			Project:  project.Name,
			Registry: cfg.Registry,
			Push:     cfg.Push,
			Logger:   log.With(opts.Logger, "component", "build"),
		}
	}
	if err := compose.ResolveImages(cmd.Context(), project, resolver); err != nil {
		return err
	}

	result, err := manifests.Synthesize(*project, manifests.Options{
		Namespace: cfg.Namespace,
		Revision:  opts.revision,
	})
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w)
	}

	artifact, err := resource.MarshalMultidoc(result.Objects)
	if err != nil {
		return err
	}
	if cfg.Artifact == "-" {
		_, err = cmd.OutOrStdout().Write(artifact)
		return err
	}
	if err := ioutil.WriteFile(cfg.Artifact, artifact, 0644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d objects for project %q to %s\n", len(result.Objects), project.Name, cfg.Artifact)
	return nil
}
