package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/synoptiq/go-tractus"
)

// This example drives the tracker the way an event-driven pipeline host
// would: messages enter over HTTP, get split into fragments, fan out to
// workers and converge on a switch, while the tracker correlates every step
// into one trace per logical message.

// --- 1. Pipeline topology ---

var (
	ingress  = tractus.Step{ID: "n1", Type: tractus.StepHTTPIn, Name: "orders ingress", Flow: "f1"}
	splitter = tractus.Step{ID: "n2", Type: tractus.StepSplit, Name: "split order lines", Flow: "f1"}
	worker   = tractus.Step{ID: "n3", Type: tractus.StepHTTPRequest, Name: "price lookup", Flow: "f1"}
	router   = tractus.Step{ID: "n4", Type: tractus.StepSwitch, Name: "route by total", Flow: "f1"}
	audit    = tractus.Step{ID: "n5", Type: tractus.StepLink, Name: "audit", Flow: "f1"}
)

func main() {
	ctx := context.Background()

	// --- 2. Logging and configuration ---

	zlog, err := zap.NewDevelopment()
	if err != nil {
		fmt.Printf("❌ failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zlog.Sync() }()
	stdLog := zap.NewStdLog(zlog)

	cfg := tractus.DefaultConfig()
	cfg.Protocol = tractus.ProtocolNoop // Swap for grpc/http/zipkin against a collector
	cfg.ServiceName = "orders-pipeline"
	cfg.RootPrefix = "order"
	cfg.IgnoredTypes = "link"
	cfg.PropagateHeadersTypes = "http-request"
	cfg.Logging = true
	cfg.TimeoutMs = 250
	cfg.AttributeMappings = []tractus.AttributeMapping{
		{Key: "order.total", Path: "order.total"},
		{Key: "order.customer", Path: "order.customer"},
		{Key: "order.lines", Path: "order.lines", After: true},
	}

	fmt.Println("🔧 Building tracker...")
	// A local SDK provider gives the demo real span contexts without needing
	// a collector. Configure grpc/http/zipkin above to export for real.
	tracker, err := tractus.NewTrackerFromConfig(ctx, cfg,
		tractus.WithLogger(stdLog),
		tractus.WithMetricsCollector(tractus.NewLoggingMetricsCollector(stdLog)),
		tractus.WithTracerProvider(sdktrace.NewTracerProvider()),
	)
	if err != nil {
		zlog.Fatal("tracker construction failed", zap.Error(err))
	}
	if err := tracker.Start(ctx); err != nil {
		zlog.Fatal("tracker start failed", zap.Error(err))
	}
	defer func() {
		if stopErr := tracker.Stop(context.Background()); stopErr != nil {
			zlog.Warn("tracker stop", zap.Error(stopErr))
		}
	}()

	// --- 3. One message enters over HTTP with an upstream trace context ---

	order := tractus.NewMessage(map[string]any{
		"order": map[string]any{
			"total":    99.50,
			"customer": "c-7",
			"lines":    []any{"sku-1", "sku-2"},
		},
	})
	order.Headers = http.Header{}
	order.Headers.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

	fmt.Printf("📦 Message %s enters the pipeline\n", order.ID)

	// The ingress emits: journey span plus the ingress step span appear.
	tracker.OnSend(ctx, []tractus.Event{{Msg: order, Source: ingress, Dest: splitter}})
	tracker.Complete(ctx, order, nil, ingress)

	// Entering the splitter stamps the shared root id before fragments exist.
	tracker.OnReceive(ctx, tractus.Event{Msg: order, Source: ingress, Dest: splitter})
	fmt.Printf("🔱 Root id stamped: %s\n", order.RootID)

	tracker.OnSend(ctx, []tractus.Event{{Msg: order, Source: splitter, Dest: worker}})
	tracker.Complete(ctx, order, nil, splitter)

	// --- 4. Fragments fan out; each keeps the inherited root id ---

	fragments := make([]*tractus.Message, 0, 2)
	for i := 0; i < 2; i++ {
		frag := tractus.NewMessage(map[string]any{
			"order": map[string]any{"total": 49.75, "customer": "c-7"},
		})
		frag.RootID = order.RootID
		fragments = append(fragments, frag)
	}

	for i, frag := range fragments {
		stepCopy := worker
		stepCopy.ID = fmt.Sprintf("n3-%d", i)
		tracker.OnSend(ctx, []tractus.Event{{Msg: frag, Source: stepCopy, Dest: router}})

		// Outbound delivery: context is injected for the allow-listed type,
		// then stripped again once the handoff finished.
		tracker.PreDeliver(ctx, tractus.Event{Msg: frag, Source: stepCopy, Dest: worker})
		fmt.Printf("   ➡️  fragment %d traceparent: %s\n", i, frag.Headers.Get("traceparent"))
		tracker.PostDeliver(ctx, tractus.Event{Msg: frag, Source: stepCopy, Dest: worker})

		frag.Status = http.StatusOK
		var fault error
		if i == 1 {
			fault = errors.New("price service returned 502")
			frag.Status = http.StatusBadGateway
		}
		tracker.Complete(ctx, frag, fault, stepCopy)
	}

	// --- 5. Branching steps resolve as orphans once a sibling completes ---

	branch := tractus.NewMessage(map[string]any{"order": map[string]any{"total": 10.0}})
	tracker.OnSend(ctx, []tractus.Event{
		{Msg: branch, Source: router, Dest: audit},
		{Msg: branch, Source: audit, Dest: audit},
	})
	// Completing the audit hop leaves only the switch pending; being
	// branching-prone it is force-ended and the journey closes.
	tracker.Complete(ctx, branch, nil, audit)

	fmt.Printf("📒 Registry now tracks %d entries\n", tracker.Registry().Len())

	// --- 6. The sweeper reclaims whatever the host abandoned ---

	abandoned := tractus.NewMessage(map[string]any{"order": map[string]any{"total": 1.0}})
	tracker.OnSend(ctx, []tractus.Event{{Msg: abandoned, Source: ingress, Dest: splitter}})
	time.Sleep(300 * time.Millisecond)

	reclaimed := tracker.DeleteOutdatedSpans(ctx)
	fmt.Printf("🧹 Sweep reclaimed %d entries (threshold %v)\n", reclaimed, cfg.SweepTimeout())
	fmt.Println("✅ Done. Point the exporter at a collector to see the traces.")
}
