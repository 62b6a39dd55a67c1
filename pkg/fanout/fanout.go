// Package fanout runs one function over many inputs with a selectable
// concurrency strategy and collects the results in input order.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/yt-comments/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Strategy selects how tasks are scheduled.
type Strategy string

const (
	// StrategyPool drains a queue with a fixed number of workers.
	StrategyPool Strategy = "pool"

	// StrategyTasks launches one goroutine per input and gathers them.
	StrategyTasks Strategy = "tasks"
)

// ErrPanic wraps a panic recovered from a task.
var ErrPanic = errors.New("task panicked")

var (
	tasksTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "yt_fanout_tasks_total",
		Help: "Total fan-out tasks by strategy and outcome",
	}, []string{"strategy", "status"})

	taskDuration = promauto.With(metrics.Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "yt_fanout_task_duration_seconds",
		Help:    "Fan-out task duration in seconds by strategy",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"strategy"})

	inFlight = promauto.With(metrics.Registry).NewGauge(prometheus.GaugeOpts{
		Name: "yt_fanout_in_flight",
		Help: "Fan-out tasks currently running",
	})
)

// ParseStrategy parses a strategy name. Matching is case-insensitive.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyPool:
		return StrategyPool, nil
	case StrategyTasks:
		return StrategyTasks, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want %q or %q)", s, StrategyPool, StrategyTasks)
	}
}

// Func processes one input.
type Func[In, Out any] func(ctx context.Context, in In) (Out, error)

// Result is the outcome for the input at Index.
type Result[Out any] struct {
	Index int
	Value Out
	Err   error
}

// Progress is notified once per finished input.
type Progress interface {
	Increment()
}

type options struct {
	progress Progress
	logger   zerolog.Logger
}

// Option configures Run.
type Option func(*options)

// WithProgress reports each finished input to p.
func WithProgress(p Progress) Option {
	return func(o *options) {
		o.progress = p
	}
}

// WithLogger sets the logger used for task failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Run applies fn to every input using strategy and returns one Result per
// input, in input order. A failing task does not stop the others. Inputs not
// started before ctx is done get ctx.Err().
//
// workers bounds concurrency. For StrategyPool values < 1 mean one worker;
// for StrategyTasks values < 1 mean unbounded.
func Run[In, Out any](ctx context.Context, strategy Strategy, workers int, inputs []In, fn Func[In, Out], opts ...Option) []Result[Out] {
	o := options{logger: log.With().Str("component", "fanout").Logger()}
	for _, opt := range opts {
		opt(&o)
	}

	r := &runner[In, Out]{
		strategy: strategy,
		fn:       fn,
		opts:     o,
		results:  make([]Result[Out], len(inputs)),
	}

	start := time.Now()
	switch strategy {
	case StrategyTasks:
		r.runTasks(ctx, workers, inputs)
	default:
		r.strategy = StrategyPool
		r.runPool(ctx, workers, inputs)
	}

	o.logger.Debug().
		Str("strategy", string(r.strategy)).
		Int("inputs", len(inputs)).
		Dur("duration", time.Since(start)).
		Msg("Fan-out complete")

	return r.results
}

type runner[In, Out any] struct {
	strategy Strategy
	fn       Func[In, Out]
	opts     options
	results  []Result[Out]
}

// runPool starts a fixed worker pool draining a queue of input indexes.
func (r *runner[In, Out]) runPool(ctx context.Context, workers int, inputs []In) {
	if workers < 1 {
		workers = 1
	}
	if workers > len(inputs) {
		workers = len(inputs)
	}

	queue := make(chan int, len(inputs))
	for i := range inputs {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			processed := 0

			for i := range queue {
				if err := ctx.Err(); err != nil {
					r.results[i] = Result[Out]{Index: i, Err: err}
					continue
				}
				r.results[i] = r.call(ctx, i, inputs[i], workerID)
				processed++
			}

			r.opts.logger.Debug().
				Int("worker_id", workerID).
				Int("processed", processed).
				Msg("Worker completed")
		}(w)
	}
	wg.Wait()
}

// runTasks launches one goroutine per input, limited to workers when > 0.
func (r *runner[In, Out]) runTasks(ctx context.Context, workers int, inputs []In) {
	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i := range inputs {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(inputs); j++ {
				r.results[j] = Result[Out]{Index: j, Err: err}
			}
			break
		}

		i := i
		g.Go(func() error {
			r.results[i] = r.call(ctx, i, inputs[i], -1)
			return nil
		})
	}

	// Task errors live in the results, never in the group.
	_ = g.Wait()
}

// call runs fn for one input, converting a panic into an error.
func (r *runner[In, Out]) call(ctx context.Context, index int, in In, workerID int) (res Result[Out]) {
	res.Index = index
	start := time.Now()
	inFlight.Inc()

	defer func() {
		inFlight.Dec()
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("%w: %v", ErrPanic, p)
			r.opts.logger.Error().
				Str("stack", string(debug.Stack())).
				Msg("Recovered task panic")
		}

		status := "ok"
		if res.Err != nil {
			status = "error"
			event := r.opts.logger.Warn().
				Err(res.Err).
				Str("strategy", string(r.strategy)).
				Int("index", index)
			if workerID >= 0 {
				event = event.Int("worker_id", workerID)
			}
			event.Msg("Task failed")
		}
		tasksTotal.WithLabelValues(string(r.strategy), status).Inc()
		taskDuration.WithLabelValues(string(r.strategy)).Observe(time.Since(start).Seconds())

		if r.opts.progress != nil {
			r.opts.progress.Increment()
		}
	}()

	res.Value, res.Err = r.fn(ctx, in)
	return res
}

// Errors returns the non-nil errors in results.
func Errors[Out any](results []Result[Out]) []error {
	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errs
}
