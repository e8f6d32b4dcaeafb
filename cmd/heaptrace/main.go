// Command heaptrace drives a synthetic allocation workload through the
// tracer and renders live snapshots to a terminal, standing in for both the
// allocation-interception glue (internal/hookabi) and the renderer
// (internal/snapshot's only consumer) that production deployments would
// supply out of band. No network or wire protocol is exposed, per the
// tracer's scope.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
	"unsafe"

	heaptrace "github.com/heaptrace/heaptrace"
	"github.com/heaptrace/heaptrace/internal/cli"
	"github.com/heaptrace/heaptrace/internal/config"
	"github.com/heaptrace/heaptrace/internal/hookabi"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		configFile  = flag.String("config", "", "path to a JSON tunables file (defaults used if empty/missing)")
		threads     = flag.Int("threads", 4, "number of synthetic workload goroutines")
		duration    = flag.Duration("duration", 10*time.Second, "how long to run the synthetic workload")
		interval    = flag.Duration("interval", time.Second, "renderer poll interval")
		top         = flag.Int("top", 10, "number of functions to show per render")
		filter      = flag.String("filter", "", "substring filter applied to the by-function view")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Drives a synthetic allocation workload through heaptrace and renders live snapshots.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		cli.PrintVersion("heaptrace", *jsonOutput)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		cli.ExitWithError("loading config: %v", err)
	}

	tr := heaptrace.New(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tr.Init(ctx)

	renderer := newRenderer(tr, *top, *filter)

	var wg sync.WaitGroup

	runCtx, runCancel := context.WithTimeout(ctx, *duration)
	defer runCancel()

	for i := 0; i < *threads; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()
			runWorkload(runCtx, tr, heaptrace.ThreadID(id))
		}(i)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

renderLoop:
	for {
		select {
		case <-runCtx.Done():
			break renderLoop
		case <-ticker.C:
			renderer.render()
		}
	}

	wg.Wait()
	tr.Flush()
	renderer.render()

	if err := tr.Exit(); err != nil {
		cli.ExitWithError("shutting down: %v", err)
	}
}

// tracerHooks adapts a Tracer + fixed thread ID to hookabi.Hooks, standing
// in for the real allocation-interception glue a C/C++ host would install
// as an operator-new override: Go cannot intercept its own allocator, so
// the host calls through to the tracer directly.
type tracerHooks struct {
	tr *heaptrace.Tracer
	id heaptrace.ThreadID
}

func (h tracerHooks) OnAlloc(userSize uintptr) unsafe.Pointer { return h.tr.Alloc(h.id, userSize) }
func (h tracerHooks) OnFree(ptr unsafe.Pointer)                 { h.tr.Free(h.id, ptr) }
func (h tracerHooks) OnRealloc(ptr unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	return h.tr.Realloc(h.id, ptr, newSize)
}

var _ hookabi.Hooks = tracerHooks{}

// runWorkload repeatedly allocates and frees through a handful of distinct
// named call sites, so the rendered call graph has more than one leaf, then
// exits when ctx is done.
func runWorkload(ctx context.Context, tr *heaptrace.Tracer, id heaptrace.ThreadID) {
	hooks := tracerHooks{tr: tr, id: id}
	rng := rand.New(rand.NewSource(int64(id) + 1))

	var live []unsafe.Pointer

	for {
		select {
		case <-ctx.Done():
			for _, p := range live {
				hooks.OnFree(p)
			}

			return
		default:
		}

		switch rng.Intn(3) {
		case 0:
			live = append(live, allocateSessionBuffer(hooks, rng))
		case 1:
			live = append(live, allocateRequestScratch(hooks, rng))
		default:
			if len(live) > 0 {
				i := rng.Intn(len(live))
				hooks.OnFree(live[i])
				live = append(live[:i], live[i+1:]...)
			}
		}

		if len(live) > 256 {
			hooks.OnFree(live[0])
			live = live[1:]
		}
	}
}

func allocateSessionBuffer(h tracerHooks, rng *rand.Rand) unsafe.Pointer {
	return h.OnAlloc(uintptr(64 + rng.Intn(512)))
}

func allocateRequestScratch(h tracerHooks, rng *rand.Rand) unsafe.Pointer {
	return h.OnAlloc(uintptr(16 + rng.Intn(128)))
}

// renderer polls the snapshot API on its own schedule and keeps its own
// history of rendered frames, per spec.md section 4.F: "the core performs
// no history retention itself". The history is an append-only slice with
// one entry per poll; it is not bounded.
type renderer struct {
	tr     *heaptrace.Tracer
	top    int
	filter string

	mu      sync.Mutex
	history []renderFrame
}

type renderFrame struct {
	at   time.Time
	rows []rowSnapshot
}

type rowSnapshot struct {
	name  string
	bytes int64
}

func newRenderer(tr *heaptrace.Tracer, top int, filter string) *renderer {
	return &renderer{tr: tr, top: top, filter: filter}
}

// previousTotal sums the bytes shown in the last rendered frame, or 0 if
// this is the first render. Caller must hold r.mu.
func (r *renderer) previousTotal() int64 {
	if len(r.history) == 0 {
		return 0
	}

	var total int64
	for _, row := range r.history[len(r.history)-1].rows {
		total += row.bytes
	}

	return total
}

func (r *renderer) render() {
	rows := r.tr.Snapshot().ByFunction(r.filter)

	sort.Slice(rows, func(i, j int) bool { return rows[i].TotalBytes > rows[j].TotalBytes })

	if len(rows) > r.top {
		rows = rows[:r.top]
	}

	snap := make([]rowSnapshot, len(rows))
	for i, row := range rows {
		snap[i] = rowSnapshot{name: row.Name, bytes: row.TotalBytes}
	}

	r.mu.Lock()
	prev := r.previousTotal()
	r.history = append(r.history, renderFrame{at: time.Now(), rows: snap})
	r.mu.Unlock()

	var total int64
	for _, row := range snap {
		total += row.bytes
	}

	fmt.Printf("--- %s (Δ %+d B since last poll) ---\n", time.Now().Format("15:04:05"), total-prev)

	for _, row := range snap {
		fmt.Printf("%10d B  %s\n", row.bytes, row.name)
	}

	stats := r.tr.Snapshot().Stats()
	fmt.Printf("dictionaries: symbols %d/%d stacks %d/%d tree %d/%d\n",
		stats.SymbolLen, stats.SymbolCap, stats.StackLen, stats.StackCap, stats.EdgeLen, stats.EdgeCap)
}
