package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrQuit фаза возвращает его, чтобы штатно завершить цикл
var ErrQuit = errors.New("engine: выход")

// Phase одна фаза кадра
type Phase func(ctx context.Context) error

// Loop кадровый цикл клиента: ввод, пользовательский обработчик и приём
// обновлений выполняются параллельно, отрисовка после их завершения.
type Loop struct {
	interval time.Duration
	input    Phase
	cycle    Phase
	receive  Phase
	render   Phase
	frames   atomic.Uint64
}

type LoopOption func(*Loop)

func WithInput(p Phase) LoopOption   { return func(l *Loop) { l.input = p } }
func WithOnCycle(p Phase) LoopOption { return func(l *Loop) { l.cycle = p } }
func WithReceive(p Phase) LoopOption { return func(l *Loop) { l.receive = p } }
func WithRender(p Phase) LoopOption  { return func(l *Loop) { l.render = p } }

// NewLoop создаёт цикл с периодом кадра interval
func NewLoop(interval time.Duration, opts ...LoopOption) *Loop {
	l := &Loop{interval: interval}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Frame выполняет один кадр
func (l *Loop) Frame(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range []Phase{l.input, l.cycle, l.receive} {
		if p == nil {
			continue
		}
		phase := p
		g.Go(func() error { return phase(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	l.frames.Add(1)
	if l.render != nil {
		return l.render(ctx)
	}
	return nil
}

// Frames количество завершённых кадров
func (l *Loop) Frames() uint64 {
	return l.frames.Load()
}

// Run выполняет кадры до отмены ctx или ErrQuit
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		if err := l.Frame(ctx); err != nil {
			if errors.Is(err, ErrQuit) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
