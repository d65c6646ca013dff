package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/fluxcd/rz/pkg/cluster/kubernetes"
)

// Set when linking, with -ldflags "-X main.version=..."
var version string

type versionOpts struct {
	long bool
}

func newVersion() *versionOpts {
	return &versionOpts{}
}

func (opts *versionOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "print the version of rz",
		Example: makeExample(
			"rz version",
			"rz version --long",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().BoolVar(&opts.long, "long", false, "also print the Go version rz was built with, and the Kubernetes versions it can deploy to")
	return cmd
}

func (opts *versionOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	v := version
	if v == "" {
		v = "unversioned"
	}
	out := cmd.OutOrStdout()
	if !opts.long {
		fmt.Fprintln(out, v)
		return nil
	}
	w := newTabwriter(out)
	fmt.Fprintf(w, "rz\t%s\n", v)
	fmt.Fprintf(w, "go\t%s\n", runtime.Version())
	fmt.Fprintf(w, "kubernetes\t%s\n", kubernetes.MinimumServerVersion)
	return w.Flush()
}
