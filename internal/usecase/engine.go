package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zono819/tradecore/internal/adapter/gateway"
	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/domain/service"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
	"github.com/zono819/tradecore/internal/usecase/execution"
	"github.com/zono819/tradecore/internal/usecase/executor"
	"github.com/zono819/tradecore/internal/usecase/order"
	"github.com/zono819/tradecore/internal/usecase/position"
	"github.com/zono819/tradecore/internal/usecase/risk"
	"github.com/zono819/tradecore/internal/usecase/tracker"
)

// ErrNotRunning is returned by operations that need a started engine
var ErrNotRunning = errors.New("engine is not running")

// EngineConfig contains orchestration settings
type EngineConfig struct {
	Instruments       []string      `yaml:"instruments"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// Components are the collaborators wired by the engine
type Components struct {
	Exchange  gateway.ExchangeGateway
	Store     *order.Store
	Ledger    *position.Ledger
	Tracker   *tracker.Tracker
	Executor  *executor.Executor
	Gate      *risk.Gate
	Prices    *gateway.TickerCache
	Execution execution.Config
}

// Engine owns the trading lifecycle: connectivity, order tracking,
// position marking and the reconcile loop
type Engine struct {
	cfg EngineConfig
	c   Components
	log *logger.Logger

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates a new engine
func NewEngine(cfg EngineConfig, c Components, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Default()
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = time.Minute
	}
	if c.Prices == nil {
		c.Prices = gateway.NewTickerCache()
	}

	e := &Engine{
		cfg: cfg,
		c:   c,
		log: log.WithField("component", "engine"),
	}
	c.Ledger.OnClose(func(p *entity.Position) {
		c.Gate.RecordClose(p.RealizedPnl)
	})
	return e
}

// Start connects the venue, restores state and starts background loops
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine is already running")
	}
	e.running = true
	e.mu.Unlock()

	if err := e.start(ctx); err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return err
	}
	return nil
}

func (e *Engine) start(ctx context.Context) error {
	// a previous Stop shut the tracker down
	e.c.Tracker.Start()

	// Connect to exchange
	if err := e.c.Exchange.Connect(ctx); err != nil {
		return errors.Wrap(err, "failed to connect to exchange")
	}

	if _, err := e.c.Store.Warm(ctx); err != nil {
		e.c.Exchange.Disconnect(ctx)
		return errors.Wrap(err, "failed to load active orders")
	}
	if n, err := e.c.Tracker.Reconcile(ctx); err != nil {
		e.log.Warn("Initial reconcile failed: %v", err)
	} else if n > 0 {
		e.log.Info("Resumed tracking of %d orders", n)
	}

	// Subscribe to order updates; polling covers venues without a push feed
	if err := e.c.Exchange.SubscribeOrders(ctx, e.onOrderUpdate); err != nil {
		e.log.Warn("Order push updates unavailable, relying on polling: %v", err)
	}

	// Subscribe to ticker
	if len(e.cfg.Instruments) > 0 {
		if err := e.c.Exchange.SubscribeTickers(ctx, e.cfg.Instruments, e.onTicker); err != nil {
			e.c.Exchange.Disconnect(ctx)
			return errors.Wrap(err, "failed to subscribe market data")
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.reconcileLoop(loopCtx)

	e.log.Info("Engine started (instruments: %v)", e.cfg.Instruments)
	return nil
}

// Stop stops background loops, tracking and the venue connection
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.c.Tracker.StopAll()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.log.Warn("Shutdown deadline reached before background tasks finished")
	}

	// Disconnect from exchange
	if err := e.c.Exchange.Disconnect(ctx); err != nil {
		return errors.Wrap(err, "failed to disconnect")
	}

	e.log.Info("Engine stopped")
	return nil
}

// IsRunning returns true if the engine is running
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Submit converts a signal into a risk-checked market order
func (e *Engine) Submit(ctx context.Context, signal *entity.Signal, account *entity.Account, strategyID string) (*entity.Order, error) {
	if !e.IsRunning() {
		return nil, ErrNotRunning
	}
	return e.c.Executor.ExecuteSignal(ctx, signal, account, strategyID)
}

// Execute runs an execution strategy to completion in the caller's goroutine
func (e *Engine) Execute(ctx context.Context, kind service.ExecutionKind, params *entity.OrderParams) ([]*entity.Order, error) {
	if !e.IsRunning() {
		return nil, ErrNotRunning
	}
	strat, err := execution.New(kind, e.c.Executor, e.c.Execution, e.log)
	if err != nil {
		return nil, err
	}
	e.log.Info("Executing %s %s %s via %s", params.Side, params.Size, params.Instrument, kind)
	return strat.Execute(ctx, params)
}

// SyncPositions reconciles the ledger with the venue's positions
func (e *Engine) SyncPositions(ctx context.Context) (position.SyncReport, error) {
	remote, err := e.c.Exchange.GetPositions(ctx)
	if err != nil {
		return position.SyncReport{}, errors.Wrap(err, "fetch positions")
	}
	return e.c.Ledger.Sync(ctx, remote)
}

// ListAll lists positions from the ledger
func (e *Engine) ListAll(ctx context.Context, includeClosed bool) ([]*entity.Position, error) {
	return e.c.Ledger.ListAll(ctx, includeClosed)
}

// Status reports engine and risk state
func (e *Engine) Status() map[string]interface{} {
	return map[string]interface{}{
		"running":        e.IsRunning(),
		"tracked_orders": e.c.Tracker.Tracked(),
		"pending_orders": len(e.c.Executor.PendingOrders()),
		"risk":           e.c.Gate.Status(),
	}
}

func (e *Engine) reconcileLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := e.c.Tracker.Reconcile(ctx); err != nil {
				e.log.Warn("Reconcile failed: %v", err)
			} else if n > 0 {
				e.log.Info("Reconcile resumed %d orders", n)
			}
		}
	}
}

// onOrderUpdate handles pushed order updates
func (e *Engine) onOrderUpdate(state *gateway.OrderState) {
	if !e.IsRunning() {
		return
	}
	if err := e.c.Tracker.OnExternalUpdate(context.Background(), state); err != nil {
		e.log.Warn("Order update %s: %v", state.ExchangeOrderID, err)
	}
}

// onTicker handles ticker updates
func (e *Engine) onTicker(ticker *entity.Ticker) {
	e.c.Prices.Update(ticker)
	if !e.IsRunning() {
		return
	}
	if _, err := e.c.Ledger.MarkPrice(context.Background(), ticker.Instrument, ticker.MarkPrice()); err != nil {
		e.log.Warn("Mark %s: %v", ticker.Instrument, err)
	}
}
