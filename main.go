package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cyverse-de/configurate"
	l "github.com/cyverse-de/go-mod/logging"
	"github.com/cyverse-de/go-mod/otelutils"
	"github.com/cyverse-de/messaging/v9"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/salt-extensions/salt-extensions-metadata/cache"
	"github.com/salt-extensions/salt-extensions-metadata/client/pypi"
	"github.com/salt-extensions/salt-extensions-metadata/config"
	"github.com/salt-extensions/salt-extensions-metadata/extensions"
	"github.com/salt-extensions/salt-extensions-metadata/logging"
	"github.com/salt-extensions/salt-extensions-metadata/metadata"
)

var log = logging.Log.WithFields(logrus.Fields{"package": "main"})

const serviceName = "salt-extensions-metadata"

const otelName = "github.com/salt-extensions/salt-extensions-metadata"

var (
	cfgPath  string
	logLevel string

	cfg *config.Config
)

func loadConfig() (*config.Config, error) {
	var (
		v   *viper.Viper
		err error
	)
	if cfgPath != "" {
		if v, err = configurate.Init(cfgPath); err != nil {
			return nil, errors.Wrapf(err, "Failed reading %s", cfgPath)
		}
	} else {
		v = viper.New()
	}
	config.SetDefaults(v)
	return config.NewFromViper(v)
}

// fingerprint identifies the crawler build together with the extension lists.
// A change to either invalidates the per-package ETags.
func fingerprint(dataDir string) string {
	paths := extensions.ListFiles(dataDir)
	if exe, err := os.Executable(); err == nil {
		paths = append([]string{exe}, paths...)
	} else {
		log.Warn(errors.Wrap(err, "Failed locating the crawler executable"))
		return ""
	}
	fp, err := cache.Fingerprint(paths...)
	if err != nil {
		log.Warn(err)
		return ""
	}
	return fp
}

func newNotifier() (*Notifier, func(), error) {
	if !cfg.NotifyEnabled() {
		return nil, func() {}, nil
	}

	publishClient, err := messaging.NewClient(cfg.AMQPURI, true)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Unable to create the messaging publish client")
	}

	err = publishClient.SetupPublishing(cfg.AMQPExchangeName)
	if err != nil {
		publishClient.Close()
		return nil, nil, errors.Wrap(err, "Unable to set up message publishing")
	}

	return NewNotifier(publishClient), func() { publishClient.Close() }, nil
}

func queryCmd() *cobra.Command {
	var (
		fast       bool
		noProgress bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query PyPI for Salt Extensions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown := otelutils.TracerProviderFromEnv(ctx, serviceName, func(e error) { log.Fatal(e) })
			defer shutdown()

			classifier, err := extensions.LoadClassifier(cfg.DataPath)
			if err != nil {
				return err
			}
			store, err := cache.NewStore(cfg.CachePath)
			if err != nil {
				return err
			}
			state, err := cache.NewStateDir(cfg.StatePath)
			if err != nil {
				return err
			}

			notifier, closeNotifier, err := newNotifier()
			if err != nil {
				return err
			}
			defer closeNotifier()

			pc := pypi.NewPyPIClient(
				cfg.PyPIIndexURL,
				cfg.PyPIJSONURL,
				cfg.PyPIUserAgent,
				pypi.WithHTTPClient(&http.Client{Transport: pypi.NewTransport(cfg.PyPIConcurrency, cfg.PyPIKeepAlive)}),
				pypi.WithRequestTimeout(cfg.PyPIRequestTimeout),
			)

			crawler := NewCrawler(pc, classifier, store, state, notifier, CrawlSettings{
				Concurrency: cfg.PyPIConcurrency,
				Timeout:     cfg.CrawlTimeout,
				Fast:        fast || cfg.CrawlFast,
				NoProgress:  noProgress,
				IndexPath:   filepath.Join(cfg.CachePath, cache.IndexFile),
				Fingerprint: fingerprint(cfg.DataPath),
			})

			_, err = crawler.Run(ctx)
			return err
		},
	}

	_, ci := os.LookupEnv("CI")
	cmd.Flags().BoolVar(&fast, "fast", false, "Fast mode (only match package names)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", ci, "Disable progress bar")
	return cmd
}

func metadataCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Generate the extensions summary from the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cache.NewStore(cfg.CachePath)
			if err != nil {
				return err
			}
			summaries, err := metadata.Summarize(store)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return errors.Wrapf(err, "Failed creating %s", output)
				}
				defer f.Close()
				w = f
			}

			log.Infof("Writing %d extension summaries", len(summaries))
			return metadata.WriteYAML(w, summaries)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the summary to this file instead of stdout")
	return cmd
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Crawl PyPI for Salt Extensions and keep their metadata cached",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l.SetupLogging(logLevel)

			var err error
			cfg, err = loadConfig()
			return err
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "The path to the config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "One of trace, debug, info, warn, error, fatal, or panic.")

	root.AddCommand(queryCmd(), metadataCmd())
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
