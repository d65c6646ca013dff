package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type rollbackOpts struct {
	*rootOpts
	toRevision int64
}

func newRollback(parent *rootOpts) *rollbackOpts {
	return &rollbackOpts{rootOpts: parent}
}

func (opts *rollbackOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "roll back every deployment rz manages in the namespace",
		Example: makeExample(
			"rz rollback",
			"rz rollback --namespace staging --to-revision 3",
		),
		RunE: opts.RunE,
	}
	fs := cmd.Flags()
	fs.Int64Var(&opts.toRevision, "to-revision", 0, "revision to roll back to; by default, the one before each deployment's current revision")
	fs.Duration("timeout", 0, "give up waiting for the outcome of a rollback after this long; 0 means wait forever")
	opts.bind(cmd, "Timeout", "timeout")
	return cmd
}

func (opts *rollbackOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	if opts.toRevision < 0 {
		return newUsageError("--to-revision must not be negative")
	}

	c, err := opts.connect()
	if err != nil {
		return err
	}
	results, err := opts.newDeployer(c).RollbackAll(cmd.Context(), opts.Config.Namespace, opts.toRevision)
	if len(results) > 0 {
		printRollbacks(cmd.OutOrStdout(), results)
	} else if err == nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "No deployments managed by rz in namespace %q\n", opts.Config.Namespace)
	}
	return err
}
