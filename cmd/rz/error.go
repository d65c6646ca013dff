package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	fluxerr "github.com/fluxcd/rz/pkg/errors"
)

type usageError struct {
	error
}

func newUsageError(msg string) usageError {
	return usageError{error: errors.New(msg)}
}

var errorWantedNoArgs = newUsageError("expected no (non-flag) arguments")

// printError explains err to the user: usage errors get the usage,
// errors with help text get the help text.
func printError(cmd *cobra.Command, err error) {
	var ue usageError
	if errors.As(err, &ue) {
		cmd.PrintErrln("Error: " + err.Error())
		cmd.PrintErrln("")
		cmd.PrintErrln(cmd.UsageString())
		return
	}
	if help := fluxerr.HelpOf(err); help != "" {
		cmd.PrintErrln("== Error ==\n\n" + help)
		return
	}
	cmd.PrintErrln("Error: " + err.Error())
	cmd.PrintErrln("Run '" + cmd.CommandPath() + " -h' for usage.")
}
