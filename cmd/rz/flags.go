package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxcd/rz/pkg/config"
)

// Flags shared between commands. Each is bound to the config field
// of the same meaning, so it can also be set in the config file.

func addComposeFlags(opts *rootOpts, cmd *cobra.Command) {
	defaults := config.Defaults()
	fs := cmd.Flags()
	fs.StringP("file", "f", defaults.ComposeFile, "path to the docker-compose file")
	fs.StringP("project-name", "p", "", "project name; defaults to the name of the directory holding the compose file")
	fs.StringP("output", "o", defaults.Artifact, `path to write the Kubernetes manifests to; "-" means stdout`)
	fs.String("builder", defaults.Builder, fmt.Sprintf("how to get images for services with a build section (one of {%s,%s})", config.BuilderNone, config.BuilderLocal))
	fs.String("registry", "", "registry to prefix built images with, e.g., gcr.io/my-project")
	fs.Bool("push", false, "push built images to the registry")
	opts.bind(cmd, "ComposeFile", "file")
	opts.bind(cmd, "ProjectName", "project-name")
	opts.bind(cmd, "Artifact", "output")
	opts.bind(cmd, "Builder", "builder")
	opts.bind(cmd, "Registry", "registry")
	opts.bind(cmd, "Push", "push")
}

func addDeployFlags(opts *rootOpts, cmd *cobra.Command) {
	defaults := config.Defaults()
	fs := cmd.Flags()
	fs.Bool("rollback", true, "roll back every deployment if any is unhealthy")
	fs.Duration("timeout", 0, "give up waiting for pods, or for a rollback, after this long; 0 means wait forever")
	fs.Duration("poll-interval", defaults.PollInterval, "period at which to look at pods")
	opts.bind(cmd, "Rollback", "rollback")
	opts.bind(cmd, "Timeout", "timeout")
	opts.bind(cmd, "PollInterval", "poll-interval")
}
