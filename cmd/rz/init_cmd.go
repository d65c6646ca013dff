package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fluxcd/rz/pkg/config"
)

type initOpts struct {
	*rootOpts
	force bool
}

func newInit(parent *rootOpts) *initOpts {
	return &initOpts{rootOpts: parent}
}

func (opts *initOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "save project settings given as flags to the config file",
		Example: makeExample(
			"rz init --builder local --registry gcr.io/my-project --push",
			"rz init -f deploy/docker-compose.yml --namespace staging --timeout 10m",
		),
		RunE: opts.RunE,
	}
	fs := cmd.Flags()
	fs.BoolVar(&opts.force, "force", false, "overwrite an existing config file")
	addComposeFlags(opts.rootOpts, cmd)
	addDeployFlags(opts.rootOpts, cmd)
	return cmd
}

func (opts *initOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	if _, err := os.Stat(opts.configPath); err == nil && !opts.force {
		return newUsageError(fmt.Sprintf("%s already exists; use --force to overwrite it", opts.configPath))
	}
	if err := config.Write(opts.configPath, opts.Config); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", opts.configPath)
	return nil
}
