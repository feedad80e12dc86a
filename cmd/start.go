/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/Dea1h/AtlasEngine/internal/circuitbreaker"
	"github.com/Dea1h/AtlasEngine/internal/common"
	"github.com/Dea1h/AtlasEngine/internal/config"
	"github.com/Dea1h/AtlasEngine/internal/decoder"
	"github.com/Dea1h/AtlasEngine/internal/dispatcher"
	"github.com/Dea1h/AtlasEngine/internal/dispatcher/handlers"
	"github.com/Dea1h/AtlasEngine/internal/events"
	"github.com/Dea1h/AtlasEngine/internal/kafka"
	"github.com/Dea1h/AtlasEngine/internal/metrics"
	"github.com/Dea1h/AtlasEngine/internal/sink"
	"github.com/Dea1h/AtlasEngine/internal/system"
	"github.com/Dea1h/AtlasEngine/internal/ui"
	"github.com/Dea1h/AtlasEngine/internal/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start [url...]",
	Short: "Start ingesting one or more streams",
	Long: `Start connects to every configured stream URL and runs until
interrupted. URLs given as arguments replace the configured ones.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	flags := startCmd.Flags()
	flags.Int("max-retries", 10, "consecutive failed attempts before giving up (negative retries forever)")
	flags.Bool("reconnect-on-close", false, "reconnect when the server closes the stream")
	flags.Bool("console", true, "print the last price of every event")
	flags.Bool("verbose", false, "print tickers as a table")
	flags.Bool("metrics", true, "serve Prometheus metrics")
	flags.String("metrics-addr", ":9090", "metrics server address")
	flags.Bool("kafka", false, "publish events to Kafka")
	flags.StringSlice("brokers", []string{"localhost:9092"}, "Kafka brokers")
	flags.String("cpuprofile", "", "write cpu profile to file")
	flags.String("memprofile", "", "write memory profile to file")
	flags.String("pprof-addr", "", "serve net/http/pprof on this address")

	bindings := map[string]string{
		"stream.max_retries":        "max-retries",
		"stream.reconnect_on_close": "reconnect-on-close",
		"console":                   "console",
		"console_verbose":           "verbose",
		"metrics.enabled":           "metrics",
		"metrics.addr":              "metrics-addr",
		"kafka.enabled":             "kafka",
		"kafka.brokers":             "brokers",
		"system.cpuprofile":         "cpuprofile",
		"system.memprofile":         "memprofile",
		"system.pprof_addr":         "pprof-addr",
	}
	for key, flag := range bindings {
		v.BindPFlag(key, flags.Lookup(flag))
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		v.Set("stream.urls", args)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logrus.WithField("component", "start")

	stopProfiling, err := system.StartProfiling(cfg.System.CPUProfile, cfg.System.MemProfile)
	if err != nil {
		return err
	}
	defer func() {
		if err := stopProfiling(); err != nil {
			log.WithError(err).Error("Failed to write profiles")
		}
	}()
	cfg.System.Apply()

	// Build every supervisor first so a bad config fails before any connection.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var recorder *metrics.MetricsRecorder
	bus := events.NewEventBus(events.WithDropHook(func(topic common.Topic) {
		recorder.RecordBusDrop(topic)
	}))
	recorder = metrics.NewMetricsRecorder(registry, bus)

	dec := decoder.New()
	supervisors := make([]*ws.Supervisor, 0, len(cfg.Stream.URLs))
	for _, sc := range cfg.Supervisors() {
		sup, err := ws.NewSupervisor(sc, ws.WithDecoder(dec), ws.WithObserver(recorder))
		if err != nil {
			return err
		}
		recorder.Track(sup.Name())
		supervisors = append(supervisors, sup)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go handleSignals(ctx, cancel)

	errChan := make(chan error, 64)
	disp := dispatcher.NewDispatcher(dispatcher.DispatcherConfig{EventBus: bus, ErrChan: errChan})
	stopKafka, err := registerHandlers(cfg.Kafka, disp, recorder)
	if err != nil {
		return err
	}
	defer stopKafka()
	go logErrors(disp.Done(), errChan)

	g, gctx := errgroup.WithContext(ctx)

	if err := recorder.Start(gctx); err != nil {
		return err
	}
	if cfg.Console {
		printer := ui.NewPrinter(bus, os.Stdout)
		printer.Verbose = cfg.ConsoleVerbose
		printer.Start(gctx)
	}
	if cfg.Metrics.Enabled {
		server := metrics.NewMetricsServer(cfg.Metrics.Addr, registry, recorder)
		g.Go(func() error { return server.Start(gctx) })
	}
	if cfg.System.PprofAddr != "" {
		g.Go(func() error { return system.ServePprof(gctx, cfg.System.PprofAddr) })
	}
	g.Go(func() error { return disp.Run(gctx) })

	var out sink.Sink = disp
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		out = sink.Multi{disp, sink.NewLogSink()}
	}

	streams, sctx := errgroup.WithContext(gctx)
	for _, sup := range supervisors {
		sup := sup
		streams.Go(func() error {
			if err := sup.Run(sctx, out); err != nil {
				return fmt.Errorf("stream %s: %w", sup.Name(), err)
			}
			log.WithField("stream", sup.Name()).Info("Stream finished")
			return nil
		})
	}
	g.Go(func() error {
		err := streams.Wait()
		// every stream is done, stop the consumers too
		cancel()
		return err
	})

	log.WithField("streams", len(supervisors)).Info("Engine started")
	err = g.Wait()
	bus.Shutdown()

	if err != nil {
		log.WithError(err).Error("Engine stopped with error")
		return err
	}
	log.WithField("bus_dropped", bus.Dropped()).Info("Engine shutdown complete")
	return nil
}

// registerHandlers wires the per-topic handlers. With Kafka enabled events
// are published; otherwise they are only traced. The returned func stops
// the producer pool.
func registerHandlers(cfg config.KafkaConfig, disp *dispatcher.Dispatcher, recorder *metrics.MetricsRecorder) (func(), error) {
	if !cfg.Enabled {
		debug := handlers.NewDebugHandler()
		disp.RegisterHandler(common.TopicTicker, debug)
		disp.RegisterHandler(common.TopicTrade, debug)
		disp.RegisterHandler(common.TopicDecodeError, handlers.NewDecodeErrorHandler(nil))
		return func() {}, nil
	}

	log := logrus.WithField("component", "kafka_setup")
	if err := kafka.CheckClusterAvailability(cfg.Brokers, cfg.CheckTimeout); err != nil {
		return nil, fmt.Errorf("kafka cluster unavailable: %w", err)
	}

	topics := map[common.Topic]string{
		common.TopicTicker:      cfg.Topic(string(common.TopicTicker)),
		common.TopicTrade:       cfg.Topic(string(common.TopicTrade)),
		common.TopicDecodeError: cfg.Topic(string(common.TopicDecodeError)),
	}
	if cfg.EnsureTopics {
		names := []string{topics[common.TopicTicker], topics[common.TopicTrade]}
		if cfg.DeadLetter {
			names = append(names, topics[common.TopicDecodeError])
		}
		if err := kafka.EnsureTopics(cfg.Brokers, names, cfg.Partitions, cfg.Replication, cfg.CheckTimeout); err != nil {
			return nil, err
		}
	}

	pool, err := kafka.NewProducerPool(kafka.ProducerConfig{
		BrokerList:  cfg.Brokers,
		PoolSize:    cfg.PoolSize,
		ClientID:    cfg.ClientID,
		SendTimeout: cfg.SendTimeout,
		Metrics:     recorder,
	})
	if err != nil {
		return nil, err
	}
	if err := pool.Start(); err != nil {
		return nil, err
	}

	breaker := circuitbreaker.NewCircuitBreaker("kafka", cfg.BreakerThreshold, cfg.BreakerTimeout,
		circuitbreaker.WithStateChangeHook(recorder.BreakerStateChanged))

	disp.RegisterHandler(common.TopicTicker,
		handlers.NewEventHandler(handlers.NewBaseHandler(pool, topics[common.TopicTicker], breaker)))
	disp.RegisterHandler(common.TopicTrade,
		handlers.NewEventHandler(handlers.NewBaseHandler(pool, topics[common.TopicTrade], breaker)))

	var deadLetter *handlers.BaseHandler
	if cfg.DeadLetter {
		deadLetter = handlers.NewBaseHandler(pool, topics[common.TopicDecodeError], breaker)
	}
	disp.RegisterHandler(common.TopicDecodeError, handlers.NewDecodeErrorHandler(deadLetter))

	log.WithField("brokers", cfg.Brokers).Info("Publishing events to Kafka")
	return func() {
		if err := pool.Stop(); err != nil {
			log.WithError(err).Error("Failed to stop producer pool")
		}
	}, nil
}
