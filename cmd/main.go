// Agent Message Bus demo server.
//
// Starts an in-process agent bus with one registered demo agent (the
// analyzer), whose handler CBP-encodes each message it receives, and serves
// until interrupted. The demo sends no messages of its own. This binary is
// a wiring demonstration, not a network listener: the bus itself is
// in-process (§1 Non-goals), so there is no socket to bind.
//
// Usage:
//
//	go run ./cmd                           # default config
//	go run ./cmd -config ./agentbus.yaml   # load tunables from file
//	go build -o agentbus-demo ./cmd && ./agentbus-demo
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeeves-cluster-organization/cbp-bus/agentbus"
	"github.com/jeeves-cluster-organization/cbp-bus/cbp"
	"github.com/jeeves-cluster-organization/cbp-bus/commbus"
	"github.com/jeeves-cluster-organization/cbp-bus/message"
	"github.com/jeeves-cluster-organization/cbp-bus/schema"
)

// stdLogger implements commbus.BusLogger using the standard library log
// package.
type stdLogger struct{}

func (l *stdLogger) Debug(msg string, keysAndValues ...any) {
	log.Printf("[DEBUG] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Info(msg string, keysAndValues ...any) {
	log.Printf("[INFO] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Warn(msg string, keysAndValues ...any) {
	log.Printf("[WARN] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Error(msg string, keysAndValues ...any) {
	log.Printf("[ERROR] %s %v", msg, keysAndValues)
}

func main() {
	configPath := flag.String("config", "", "path to a YAML/JSON agentbus config file")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP gRPC collector endpoint (tracing disabled if empty)")
	flag.Parse()

	logger := &stdLogger{}
	logger.Info("agentbus_demo_starting", "config", *configPath)

	fileCfg, err := agentbus.LoadFileConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	codecOpts, breakerCfg, _, _, historyLimit := fileCfg.Resolve()

	if *otlpEndpoint != "" {
		shutdown, err := agentbus.InitTracer("agentbus-demo", *otlpEndpoint)
		if err != nil {
			log.Fatalf("failed to init tracer: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
		logger.Info("tracing_enabled", "endpoint", *otlpEndpoint)
	}

	diagBus := commbus.NewInMemoryCommBusWithLogger(5*time.Second, logger)
	diagBus.AddMiddleware(commbus.NewLoggingMiddleware("info"))
	diagBus.AddMiddleware(commbus.NewCircuitBreakerMiddleware(5, 30*time.Second, nil))
	for _, eventType := range []string{
		"BusStarted", "BusStopped", "AgentRegistered", "AgentUnregistered",
		"CapabilityRegistered", "CircuitBreakerTransitioned", "DedupCacheHit",
	} {
		diagBus.Subscribe(eventType, func(ctx context.Context, m commbus.Message) (any, error) {
			logger.Info("diagnostic_event", "type", commbus.GetMessageType(m))
			return nil, nil
		})
	}

	bus := agentbus.New(agentbus.Config{
		Logger:        logger,
		HistoryLimit:  historyLimit,
		BreakerConfig: breakerCfg,
		Diagnostics:   diagBus,
	})

	_ = diagBus.RegisterHandler("GetBusStats", func(ctx context.Context, m commbus.Message) (any, error) {
		s := bus.Stats()
		return &commbus.BusStatsResponse{
			MessagesSent:      s.MessagesSent,
			MessagesDelivered: s.MessagesDelivered,
			HandlerErrors:     s.HandlerErrors,
			Timeouts:          s.Timeouts,
		}, nil
	})

	encoder := cbp.NewEncoder(codecOpts)

	bus.Register(schema.AgentAnalyzer, func(ctx context.Context, m message.Message) (*message.Message, error) {
		frame, err := encoder.Encode(m, nil)
		if err != nil {
			return nil, err
		}
		logger.Info("analyzer_received", "message_id", m.MessageID, "encoded_bytes", len(frame))
		reply := message.NewResponse(m.Receiver, m, map[string]any{"status": "analyzed"})
		return &reply, nil
	})

	bus.Start()
	logger.Info("bus_started", "history_limit", historyLimit, "breaker_failure_threshold", breakerCfg.FailureThreshold)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("\nAgent Message Bus demo running in-process")
	fmt.Println("Press Ctrl+C to stop")

	sig := <-sigCh
	logger.Info("shutdown_signal_received", "signal", sig.String())

	if stats, err := diagBus.QuerySync(context.Background(), &commbus.GetBusStats{}); err != nil {
		logger.Warn("final_stats_query_failed", "error", err.Error())
	} else {
		logger.Info("final_stats", "stats", fmt.Sprintf("%+v", stats))
	}

	bus.Stop()
	logger.Info("agentbus_demo_stopped")
}
