// Package cmd holds the sub-commands of the buildstatsserver binary.
package cmd

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"go.buildstats.org/infra/buildstats/go/builders"
	"go.buildstats.org/infra/buildstats/go/config"
	"go.buildstats.org/infra/buildstats/go/ingest"
	"go.buildstats.org/infra/go/httputils"
	"go.buildstats.org/infra/go/metrics2"
	"go.buildstats.org/infra/go/skerr"
	"go.buildstats.org/infra/go/sklog"
)

var (
	configFilename string
	port           string
	promPort       string
	applySchema    bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "buildstatsserver",
		Short:        "Ingests build logs and serves build metrics.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configFilename, "config", "buildstats.json", "Instance config file.")
	cmd.PersistentFlags().StringVar(&port, "port", ":8000", "Address the HTTP API listens on.")
	cmd.PersistentFlags().StringVar(&promPort, "prom_port", ":20000", "Address the standalone metrics endpoint listens on.")
	cmd.PersistentFlags().BoolVar(&applySchema, "apply_schema", false, "Apply the database schema at startup. Local mode only.")
	cmd.AddCommand(newFrontendCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newAllCmd())
	return cmd
}

// Execute runs the binary.
func Execute() error {
	return newRootCmd().Execute()
}

func loadConfig() (*config.InstanceConfig, error) {
	instanceConfig, err := config.InstanceConfigFromFile(configFilename)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return instanceConfig, nil
}

// newFrontend wires a Frontend and its router from the config.
func newFrontend(ctx context.Context, instanceConfig *config.InstanceConfig) (*chi.Mux, error) {
	builds, err := builders.NewBuildStoreFromConfig(ctx, instanceConfig, applySchema)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	jobs, err := builders.NewJobLogStoreFromConfig(ctx, instanceConfig, applySchema)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	files, err := builders.NewFileStoreFromConfig(ctx, instanceConfig)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	f, _, err := buildFrontend(ctx, instanceConfig, builds, jobs, files)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	router := chi.NewRouter()
	router.Use(httputils.LoggingRequestResponse)
	f.RegisterHandlers(router)
	return router, nil
}

func newFrontendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "frontend",
		Short: "Serve the HTTP API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			instanceConfig, err := loadConfig()
			if err != nil {
				return err
			}
			metrics2.InitPrometheus(promPort)
			router, err := newFrontend(ctx, instanceConfig)
			if err != nil {
				return err
			}
			sklog.Infof("Frontend listening on %q.", port)
			return skerr.Wrap(httputils.NewServer(port, router).ListenAndServe())
		},
	}
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run the asynchronous ingestion workers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			instanceConfig, err := loadConfig()
			if err != nil {
				return err
			}
			metrics2.InitPrometheus(promPort)
			worker, err := newWorker(ctx, instanceConfig)
			if err != nil {
				return err
			}
			return skerr.Wrap(worker.Start(ctx))
		},
	}
}

// newAllCmd runs the frontend and the workers in one process, which the
// in-memory queue requires. This is the local-mode entry point.
func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Serve the HTTP API and run the ingestion workers in one process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			instanceConfig, err := loadConfig()
			if err != nil {
				return err
			}
			metrics2.InitPrometheus(promPort)
			builds, err := builders.NewBuildStoreFromConfig(ctx, instanceConfig, applySchema)
			if err != nil {
				return err
			}
			jobs, err := builders.NewJobLogStoreFromConfig(ctx, instanceConfig, applySchema)
			if err != nil {
				return err
			}
			files, err := builders.NewFileStoreFromConfig(ctx, instanceConfig)
			if err != nil {
				return err
			}
			f, q, err := buildFrontend(ctx, instanceConfig, builds, jobs, files)
			if err != nil {
				return err
			}
			if q != nil {
				worker := ingest.New(q, files, builds, jobs, 0)
				go func() {
					if err := worker.Start(ctx); err != nil {
						sklog.Fatalf("Ingest workers exited: %s", err)
					}
				}()
			}
			router := chi.NewRouter()
			router.Use(httputils.LoggingRequestResponse)
			f.RegisterHandlers(router)
			sklog.Infof("Frontend listening on %q.", port)
			return skerr.Wrap(httputils.NewServer(port, router).ListenAndServe())
		},
	}
}
