package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-kit/kit/log"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxcd/rz/pkg/cluster"
	"github.com/fluxcd/rz/pkg/cluster/kubernetes"
	"github.com/fluxcd/rz/pkg/config"
	"github.com/fluxcd/rz/pkg/rollout"
)

type rootOpts struct {
	configPath string
	viper      *viper.Viper
	bindings   map[*cobra.Command][]binding

	Config config.Config
	Logger log.Logger

	// Replaces connecting to a Kubernetes API server, in tests
	newCluster func(cfg config.Config, logger log.Logger) (cluster.Cluster, error)
}

func newRoot() *rootOpts {
	return &rootOpts{
		viper:    viper.New(),
		bindings: map[*cobra.Command][]binding{},
		Logger:   log.NewNopLogger(),
	}
}

var rootLongHelp = strings.TrimSpace(`
rz deploys a docker-compose project to Kubernetes.

Workflow:
  rz init --builder local --registry gcr.io/my-project  # Save project settings to .rz.yaml
  rz build                                              # Build images and write kube.yaml
  rz apply                                              # Deploy kube.yaml, rolling back if it fails
  rz rollback                                           # Roll back to the previous revision
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "rz",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}

	fs := cmd.PersistentFlags()
	fs.StringVar(&opts.configPath, "config", config.ConfigName, "path to the project config file")
	fs.String("kubeconfig", "", "path to the kubeconfig file; defaults to the usual lookup, i.e., $KUBECONFIG or ~/.kube/config")
	fs.String("context", "", "kubeconfig context to use; defaults to the current context")
	fs.StringP("namespace", "n", "default", "namespace to deploy to")
	fs.String("metrics-textfile", "", "if set, write metrics to this file in the prometheus textfile format on exit")
	fs.String("log-format", "fmt", "change the log format (one of {fmt,json})")
	opts.bind(cmd, "Kubeconfig", "kubeconfig")
	opts.bind(cmd, "Context", "context")
	opts.bind(cmd, "Namespace", "namespace")
	opts.bind(cmd, "MetricsTextfile", "metrics-textfile")
	opts.bind(cmd, "LogFormat", "log-format")

	cmd.AddCommand(
		newInit(opts).Command(),
		newBuild(opts).Command(),
		newApply(opts).Command(),
		newRollback(opts).Command(),
		newVersion().Command(),
	)
	return cmd
}

type binding struct {
	fieldName, flagName string
}

// bind ties a flag of the command to a config field. Commands share
// config keys, so the binding is only made for the command that runs.
func (opts *rootOpts) bind(cmd *cobra.Command, fieldName, flagName string) {
	opts.bindings[cmd] = append(opts.bindings[cmd], binding{fieldName, flagName})
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	bindings := append([]binding(nil), opts.bindings[cmd.Root()]...)
	if cmd != cmd.Root() {
		bindings = append(bindings, opts.bindings[cmd]...)
	}
	for _, b := range bindings {
		if err := config.Bind(opts.viper, cmd.Flags(), b.fieldName, b.flagName); err != nil {
			return err
		}
	}

	cfg, err := config.Load(opts.viper, opts.configPath)
	if err != nil {
		return err
	}
	opts.Config = cfg
	opts.Logger = newLogger(cfg.LogFormat, cmd.ErrOrStderr())
	return nil
}

func newLogger(format string, out io.Writer) log.Logger {
	var logger log.Logger
	switch format {
	case "json":
		logger = log.NewJSONLogger(log.NewSyncWriter(out))
	default:
		logger = log.NewLogfmtLogger(log.NewSyncWriter(out))
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)
	return logger
}

// connect returns the cluster named by the kubeconfig and context,
// having checked its API server is recent enough.
func (opts *rootOpts) connect() (cluster.Cluster, error) {
	logger := log.With(opts.Logger, "component", "cluster")
	if opts.newCluster != nil {
		return opts.newCluster(opts.Config, logger)
	}
	client, host, err := kubernetes.NewClientset(opts.Config.Kubeconfig, opts.Config.Context)
	if err != nil {
		return nil, err
	}
	logger.Log("host", host)
	c := kubernetes.NewCluster(client, logger)
	if err := c.CheckServerVersion(kubernetes.MinimumServerVersion); err != nil {
		return nil, err
	}
	return c, nil
}

// newDeployer returns a deployer for the cluster, with the waiting
// tuned as configured.
func (opts *rootOpts) newDeployer(c cluster.Cluster) *rollout.Deployer {
	d := rollout.NewDeployer(c, opts.Logger)
	d.Monitor.PollInterval = opts.Config.PollInterval
	d.Monitor.RestartBackoff = opts.Config.RestartBackoff
	d.Monitor.Timeout = opts.Config.Timeout
	d.Rollbacks.PollInterval = opts.Config.RollbackPollInterval
	d.Rollbacks.Timeout = opts.Config.Timeout
	return d
}

// writeMetrics saves everything registered with the default
// prometheus registry, if a textfile was asked for.
func (opts *rootOpts) writeMetrics() error {
	if opts.Config.MetricsTextfile == "" {
		return nil
	}
	if err := stdprometheus.WriteToTextfile(opts.Config.MetricsTextfile, stdprometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics to %s: %s", opts.Config.MetricsTextfile, err)
	}
	return nil
}
