package main

import (
	"fmt"
	"io"
	"io/ioutil"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fluxcd/rz/pkg/resource"
	"github.com/fluxcd/rz/pkg/rollout"
)

type applyOpts struct {
	*rootOpts
	revision   int64
	rollbackTo int64
}

func newApply(parent *rootOpts) *applyOpts {
	return &applyOpts{rootOpts: parent}
}

func (opts *applyOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "deploy Kubernetes manifests as a new revision, rolling back if it goes wrong",
		Example: makeExample(
			"rz apply",
			"rz apply -f kube.yaml --timeout 5m",
			"rz apply --rollback=false",
		),
		RunE: opts.RunE,
	}
	fs := cmd.Flags()
	fs.StringP("file", "f", "kube.yaml", "path to the Kubernetes manifests, as written by rz build")
	opts.bind(cmd, "Artifact", "file")
	addDeployFlags(opts.rootOpts, cmd)
	fs.Int64Var(&opts.revision, "revision", 0, "revision to deploy as; by default, one more than the current revision")
	fs.Int64Var(&opts.rollbackTo, "rollback-to", 0, "revision to roll back to if the deploy fails; by default, the one before")
	return cmd
}

func (opts *applyOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	cfg := opts.Config

	data, err := ioutil.ReadFile(cfg.Artifact)
	if err != nil {
		return err
	}
	objs, err := resource.ParseMultidoc(data, cfg.Artifact)
	if err != nil {
		return err
	}
	namespace, err := namespaceOf(objs, cfg.Namespace)
	if err != nil {
		return err
	}

	c, err := opts.connect()
	if err != nil {
		return err
	}
	deployer := opts.newDeployer(c)
	report, err := deployer.Deploy(cmd.Context(), objs, rollout.Options{
		Namespace:  namespace,
		Rollback:   cfg.Rollback,
		Revision:   opts.revision,
		RollbackTo: opts.rollbackTo,
	})
	printReport(cmd.OutOrStdout(), report)
	if err != nil {
		return err
	}
	if !report.Healthy {
		if report.RolledBack {
			return fmt.Errorf("revision %d is unhealthy; rolled back to revision %d", report.Revision, rollbackTarget(report, opts.rollbackTo))
		}
		return fmt.Errorf("revision %d is unhealthy", report.Revision)
	}
	return nil
}

func rollbackTarget(report rollout.Report, rollbackTo int64) int64 {
	if rollbackTo > 0 {
		return rollbackTo
	}
	return report.PreviousRevision
}

// namespaceOf returns the namespace the objects are in. Objects
// written by rz build are all in one namespace; if there are none that
// live in a namespace, the fallback is used.
func namespaceOf(objs []resource.Object, fallback string) (string, error) {
	var namespace string
	for _, obj := range objs {
		ns := obj.Namespace()
		if obj.Kind() == resource.KindNamespace || ns == "" {
			continue
		}
		if namespace != "" && ns != namespace {
			return "", newUsageError(fmt.Sprintf("manifests are in more than one namespace (%s and %s)", namespace, ns))
		}
		namespace = ns
	}
	if namespace == "" {
		namespace = fallback
	}
	return namespace, nil
}

func printReport(out io.Writer, report rollout.Report) {
	if len(report.Applied) == 0 {
		return
	}
	fmt.Fprintf(out, "Revision %d (run %s)\n\n", report.Revision, report.RunID)

	w := newTabwriter(out)
	fmt.Fprintln(w, "KIND\tNAME\tACTION")
	for _, rec := range report.Applied {
		fmt.Fprintf(w, "%s\t%s\t%s\n", rec.Kind, rec.Name, rec.Action)
	}
	w.Flush()

	if len(report.Deployments) > 0 {
		fmt.Fprintln(out)
		w = newTabwriter(out)
		fmt.Fprintln(w, "DEPLOYMENT\tSTATUS\tDETAIL")
		for _, d := range report.Deployments {
			status := d.Status.Phase.String()
			if d.TimedOut {
				status = "timed out"
			}
			var details []string
			for _, p := range d.Status.FailedPods {
				details = append(details, p.Name+": "+p.Detail)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, status, strings.Join(details, "; "))
		}
		w.Flush()
		printLogs(out, report.Deployments)
	}

	if report.RolledBack {
		fmt.Fprintln(out)
		printRollbacks(out, report.Rollbacks)
	}
}

func printLogs(out io.Writer, deployments []rollout.DeploymentStatus) {
	for _, d := range deployments {
		for _, p := range d.Status.FailedPods {
			if p.Logs == "" {
				continue
			}
			fmt.Fprintf(out, "\nLast lines logged by container %s in pod %s:\n", p.Container, p.Name)
			for _, line := range strings.Split(strings.TrimRight(p.Logs, "\n"), "\n") {
				fmt.Fprintf(out, "    %s\n", line)
			}
		}
	}
}

func printRollbacks(out io.Writer, results []rollout.RollbackResult) {
	w := newTabwriter(out)
	fmt.Fprintln(w, "DEPLOYMENT\tROLLBACK\tMESSAGE")
	for _, r := range results {
		result := "ok"
		if !r.Outcome.Success {
			result = "failed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, result, r.Outcome.Message)
	}
	w.Flush()
}
