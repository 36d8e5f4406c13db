// The buildstatsupload binary uploads a parsed build log to the metrics
// endpoint and retries any previously spooled uploads.
package main

import (
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"go.buildstats.org/infra/buildstats/go/ingest/format"
	"go.buildstats.org/infra/buildstats/go/uploadclient"
	"go.buildstats.org/infra/go/sklog"
)

var (
	url         string
	spoolDir    string
	projectName string
	machineName string
	userName    string
	tag         string
	isCI        bool
	skipHost    bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "buildstatsupload <log.json>",
		Short:        "Upload a parsed build log.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         run,
	}
	cmd.Flags().StringVar(&url, "url", "", "Upload endpoint, e.g. https://buildstats.example.org/v1/metrics.")
	cmd.Flags().StringVar(&spoolDir, "spool_dir", defaultSpoolDir(), "Directory holding uploads that keep failing.")
	cmd.Flags().StringVar(&projectName, "project", "", "Project name.")
	cmd.Flags().StringVar(&machineName, "machine", "", "Machine name override.")
	cmd.Flags().StringVar(&userName, "user", currentUser(), "User the build ran as.")
	cmd.Flags().StringVar(&tag, "tag", "", "Free-form tag attached to the build.")
	cmd.Flags().BoolVar(&isCI, "is_ci", false, "Mark the build as a CI build.")
	cmd.Flags().BoolVar(&skipHost, "skip_host", false, "Do not collect hardware facts.")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func defaultSpoolDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".buildstats-spool"
	}
	return home + "/.buildstats-spool"
}

func currentUser() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}

func run(cmd *cobra.Command, args []string) error {
	facts := format.RequestFacts{
		ExtraInfo: format.ExtraInfo{
			ProjectName: projectName,
			MachineName: machineName,
			User:        userName,
			IsCI:        isCI,
			Tag:         tag,
		},
	}
	if !skipHost {
		host, err := uploadclient.CollectHostInfo()
		if err != nil {
			sklog.Warningf("Skipping host facts: %s", err)
		} else {
			facts.Host = host
		}
	}
	c := uploadclient.New(url, spoolDir)
	if err := c.Upload(cmd.Context(), args[0], facts); err != nil {
		return err
	}
	// Piggyback on a successful run to drain the spool.
	if err := c.RetrySpooled(cmd.Context()); err != nil {
		sklog.Warningf("Some spooled uploads are still failing: %s", err)
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		sklog.Flush()
		os.Exit(1)
	}
}
