package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/zono819/tradecore/internal/adapter/gateway"
	"github.com/zono819/tradecore/internal/domain/entity"
	"github.com/zono819/tradecore/internal/infrastructure/logger"
	"github.com/zono819/tradecore/internal/infrastructure/metrics"
	"github.com/zono819/tradecore/internal/usecase/order"
)

// Config holds tracker configuration
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// DefaultConfig polls every 5s for up to 5 minutes
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		MaxAttempts:  60,
	}
}

// OrderFetcher is the slice of the exchange gateway the tracker polls
type OrderFetcher interface {
	GetOrder(ctx context.Context, instrument, exchangeOrderID string) (*gateway.OrderState, error)
}

// PositionApplier receives synthesized fills
type PositionApplier interface {
	ApplyTrade(ctx context.Context, trade *entity.Trade) (*entity.Position, error)
}

// TradeRecorder persists synthesized fills
type TradeRecorder interface {
	Record(ctx context.Context, trade *entity.Trade) error
}

// Callback is invoked with the updated order after every applied change
type Callback func(*entity.Order)

var exchangeStatus = map[string]entity.OrderStatus{
	"live":             entity.OrderStatusLive,
	"partially_filled": entity.OrderStatusPartiallyFilled,
	"filled":           entity.OrderStatusFilled,
	"canceled":         entity.OrderStatusCancelled,
	"mmp_canceled":     entity.OrderStatusCancelled,
}

// MapStatus maps the exchange state vocabulary to the local status
func MapStatus(state string) (entity.OrderStatus, bool) {
	s, ok := exchangeStatus[state]
	return s, ok
}

type task struct {
	orderID         string
	exchangeOrderID string
	instrument      string
	callbacks       []Callback
	cancel          context.CancelFunc
}

// Tracker reconciles live orders with the exchange until they are terminal.
// Polling and pushed updates share one apply path, serialized per order.
type Tracker struct {
	cfg       Config
	fetcher   OrderFetcher
	store     *order.Store
	positions PositionApplier
	recorder  TradeRecorder
	log       *logger.Logger

	mu        sync.Mutex
	tasks     map[string]*task
	listeners []Callback
	baseCtx   context.Context
	stopAll   context.CancelFunc
	wg        sync.WaitGroup

	locks *keyLock
}

// New creates a new tracker. recorder may be nil.
func New(cfg Config, fetcher OrderFetcher, store *order.Store, positions PositionApplier, recorder TradeRecorder, log *logger.Logger) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if log == nil {
		log = logger.Default()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		cfg:       cfg,
		fetcher:   fetcher,
		store:     store,
		positions: positions,
		recorder:  recorder,
		log:       log.WithField("component", "order_tracker"),
		tasks:     make(map[string]*task),
		baseCtx:   baseCtx,
		stopAll:   cancel,
		locks:     newKeyLock(),
	}
}

// OnUpdate registers a callback for every tracked order
func (t *Tracker) OnUpdate(fn Callback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// StartTracking starts a polling task for an accepted order. Returns false
// if the order is already tracked or the tracker has been stopped.
func (t *Tracker) StartTracking(orderID, exchangeOrderID, instrument string, callbacks ...Callback) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.tasks[exchangeOrderID]; ok {
		t.log.Warn("Order %s is already being tracked", exchangeOrderID)
		return false
	}
	if t.baseCtx.Err() != nil {
		t.log.Warn("Tracker stopped, not tracking %s", exchangeOrderID)
		return false
	}

	ctx, cancel := context.WithCancel(t.baseCtx)
	tk := &task{
		orderID:         orderID,
		exchangeOrderID: exchangeOrderID,
		instrument:      instrument,
		callbacks:       callbacks,
		cancel:          cancel,
	}
	t.tasks[exchangeOrderID] = tk

	t.wg.Add(1)
	go t.poll(ctx, tk)

	metrics.TrackingStarted.Add(1)
	t.log.Info("Started tracking order %s", exchangeOrderID)
	return true
}

// StopTracking cancels the task for an order. Safe to call repeatedly.
func (t *Tracker) StopTracking(exchangeOrderID string) {
	t.mu.Lock()
	tk, ok := t.tasks[exchangeOrderID]
	if ok {
		delete(t.tasks, exchangeOrderID)
	}
	t.mu.Unlock()

	if ok {
		tk.cancel()
		t.log.Info("Stopped tracking order %s", exchangeOrderID)
	}
}

// IsTracking reports whether a task exists for the order
func (t *Tracker) IsTracking(exchangeOrderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tasks[exchangeOrderID]
	return ok
}

// Tracked returns the number of running tasks
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

// Start re-arms the tracker after StopAll. No-op while running.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.baseCtx.Err() == nil {
		return
	}
	t.baseCtx, t.stopAll = context.WithCancel(context.Background())
	t.log.Info("Tracker restarted")
}

// StopAll cancels every task and waits for them to exit
func (t *Tracker) StopAll() {
	t.mu.Lock()
	t.stopAll()
	tasks := t.tasks
	t.tasks = make(map[string]*task)
	t.mu.Unlock()

	for _, tk := range tasks {
		tk.cancel()
	}
	t.wg.Wait()
	t.log.Info("Stopped tracking %d orders", len(tasks))
}

func (t *Tracker) poll(ctx context.Context, tk *task) {
	defer t.wg.Done()
	defer t.release(tk)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		state, err := t.fetcher.GetOrder(ctx, tk.instrument, tk.exchangeOrderID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			t.log.Error("Error polling order %s (attempt %d): %v", tk.exchangeOrderID, attempt, err)
		} else {
			terminal, err := t.apply(ctx, state, tk)
			if err != nil {
				t.log.Error("Error applying update for %s: %v", tk.exchangeOrderID, err)
			}
			if terminal {
				t.StopTracking(tk.exchangeOrderID)
				return
			}
		}

		if attempt == t.cfg.MaxAttempts {
			break
		}
		timer.Reset(t.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	metrics.TrackingExhausted.Add(1)
	t.log.WithError(entity.ErrTrackingExhausted).Warn(
		"Gave up tracking order %s after %d attempts, left in last observed state",
		tk.exchangeOrderID, t.cfg.MaxAttempts)
}

// release drops the task entry if it still belongs to tk
func (t *Tracker) release(tk *task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.tasks[tk.exchangeOrderID]; ok && cur == tk {
		delete(t.tasks, tk.exchangeOrderID)
	}
}

// OnExternalUpdate applies a pushed order update through the same path as
// polling. Updates for unknown orders are ignored.
func (t *Tracker) OnExternalUpdate(ctx context.Context, state *gateway.OrderState) error {
	if state == nil || state.ExchangeOrderID == "" {
		return nil
	}

	t.mu.Lock()
	tk := t.tasks[state.ExchangeOrderID]
	t.mu.Unlock()

	terminal, err := t.apply(ctx, state, tk)
	if err != nil {
		return err
	}
	if terminal {
		t.StopTracking(state.ExchangeOrderID)
	}
	return nil
}

// Reconcile fetches every active accepted order once, applies the result
// and resumes tracking for orders that are still open but untracked.
func (t *Tracker) Reconcile(ctx context.Context) (int, error) {
	metrics.ReconcileRuns.Add(1)

	var firstErr error
	resumed := 0
	for _, o := range t.store.ListActive(ctx, "") {
		if o.ExchangeOrderID == "" {
			continue
		}
		state, err := t.fetcher.GetOrder(ctx, o.Instrument, o.ExchangeOrderID)
		if err != nil {
			metrics.ReconcileErrors.Add(1)
			t.log.Error("Reconcile: error fetching order %s: %v", o.ExchangeOrderID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		t.mu.Lock()
		tk := t.tasks[o.ExchangeOrderID]
		t.mu.Unlock()

		terminal, err := t.apply(ctx, state, tk)
		if err != nil {
			metrics.ReconcileErrors.Add(1)
			t.log.Error("Reconcile: error applying order %s: %v", o.ExchangeOrderID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if terminal {
			t.StopTracking(o.ExchangeOrderID)
			continue
		}
		if tk == nil && t.StartTracking(o.ID, o.ExchangeOrderID, o.Instrument) {
			resumed++
		}
	}
	return resumed, firstErr
}

// SettleCancel folds the venue's final view of an acknowledged cancel into
// the order, so fills that landed after the last poll reach the ledger
// before the order is closed. A venue that still reports the order as open
// is overridden; a venue that reports it filled wins.
func (t *Tracker) SettleCancel(ctx context.Context, orderID, exchangeOrderID, instrument string) (*entity.Order, error) {
	state, err := t.fetcher.GetOrder(ctx, instrument, exchangeOrderID)
	if err != nil || state == nil {
		t.log.Warn("Final state of cancelled order %s unavailable: %v", exchangeOrderID, err)
		state = &gateway.OrderState{Instrument: instrument}
	}
	final := *state
	final.ExchangeOrderID = exchangeOrderID
	if status, ok := MapStatus(final.State); !ok || status != entity.OrderStatusFilled {
		final.State = "canceled"
	}

	t.mu.Lock()
	tk := t.tasks[exchangeOrderID]
	t.mu.Unlock()

	if _, err := t.apply(ctx, &final, tk); err != nil {
		return nil, err
	}
	return t.store.Get(ctx, orderID)
}

// apply folds one exchange observation into the order store and any fill
// not yet applied into the trade log and position ledger. Returns true once
// the order is terminal with every fill applied.
func (t *Tracker) apply(ctx context.Context, state *gateway.OrderState, tk *task) (bool, error) {
	status, ok := MapStatus(state.State)
	if !ok {
		t.log.Warn("Unknown exchange status %q for order %s", state.State, state.ExchangeOrderID)
		return false, nil
	}

	orderID := ""
	if tk != nil {
		orderID = tk.orderID
	} else {
		o, err := t.store.GetByExchangeID(ctx, state.ExchangeOrderID)
		if errors.Is(err, entity.ErrOrderNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		orderID = o.ID
	}

	unlock := t.locks.lock(orderID)
	defer unlock()

	if ctx.Err() != nil {
		return false, nil
	}

	current, err := t.store.Get(ctx, orderID)
	if err != nil {
		return false, err
	}

	updated, changed, err := t.advance(ctx, current, status, state)
	if err != nil {
		return false, err
	}
	if changed {
		t.log.Info("Order %s updated: %s, filled: %s", state.ExchangeOrderID, updated.Status, updated.FilledSize)
	}

	if pending := updated.FilledSize.Sub(watermarkOf(updated).filled); pending.IsPositive() {
		settled, err := t.fill(ctx, updated, state, pending)
		if err != nil {
			// left unapplied; the next observation retries
			if changed {
				t.notify(updated, tk)
			}
			return false, err
		}
		updated, changed = settled, true
	}

	if changed {
		t.notify(updated, tk)
	}
	return updated.Status.IsTerminal(), nil
}

// advance moves the order to the observed status and cumulative fill.
// Reports whether the order changed.
func (t *Tracker) advance(ctx context.Context, current *entity.Order, status entity.OrderStatus, state *gateway.OrderState) (*entity.Order, bool, error) {
	filled, avg := state.CumFilledSize, state.AvgPrice
	if filled.GreaterThan(current.Size) {
		t.log.Warn("Order %s reports filled %s above size %s, clamping", current.ID, filled, current.Size)
		filled = current.Size
	}
	if filled.LessThan(current.FilledSize) {
		filled, avg = current.FilledSize, decimal.Zero
	}

	if current.Status.IsTerminal() {
		// a cancelled order may still report fills that raced the cancel
		if current.Status != entity.OrderStatusCancelled || status != entity.OrderStatusCancelled || filled.Equal(current.FilledSize) {
			return current, false, nil
		}
		updated, err := t.store.Annotate(ctx, current.ID, entity.WithFill(filled, avg))
		if err != nil {
			return current, false, err
		}
		t.log.Warn("Cancelled order %s reported a late fill, filled now %s", current.ID, filled)
		return updated, true, nil
	}

	if status == entity.OrderStatusLive && current.Status == entity.OrderStatusPartiallyFilled {
		status = entity.OrderStatusPartiallyFilled
	}
	if status == current.Status && filled.Equal(current.FilledSize) {
		return current, false, nil
	}

	updated, err := t.store.Transition(ctx, current.ID, status,
		entity.WithFill(filled, avg),
		entity.WithExchangeOrderID(state.ExchangeOrderID))
	if errors.Is(err, entity.ErrInvalidStateTransition) {
		t.log.Warn("Ignoring update for order %s: %v", current.ID, err)
		return current, false, nil
	}
	if err != nil {
		return current, false, err
	}
	return updated, true, nil
}

// Metadata keys holding what has reached the trade log and ledger
const (
	metaFillApplied = "fill_applied"
	metaAvgApplied  = "fill_applied_avg_px"
	metaFeeApplied  = "fee_applied"
)

type watermark struct {
	filled   decimal.Decimal
	avgPrice decimal.Decimal
	fee      decimal.Decimal
}

func watermarkOf(o *entity.Order) watermark {
	return watermark{
		filled:   metaDecimal(o.Metadata, metaFillApplied),
		avgPrice: metaDecimal(o.Metadata, metaAvgApplied),
		fee:      metaDecimal(o.Metadata, metaFeeApplied),
	}
}

func metaDecimal(m map[string]string, key string) decimal.Decimal {
	v, ok := m[key]
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// fill records the quantity between the applied watermark and the order's
// cumulative fill as one Trade, applies it to the ledger and advances the
// watermark. The trade id is derived from the cumulative fill, so a retry
// after a partial failure records the same trade.
func (t *Tracker) fill(ctx context.Context, o *entity.Order, state *gateway.OrderState, delta decimal.Decimal) (*entity.Order, error) {
	w := watermarkOf(o)
	executedAt := time.Now().UTC()
	if state.UpdatedAt > 0 {
		executedAt = time.UnixMilli(state.UpdatedAt).UTC()
	}

	// fees are cumulative on the venue and reported here as a positive cost
	cumFee := decimal.Max(w.fee, state.Fee.Abs())
	avg := fillPrice(o)

	tr := &entity.Trade{
		ID:          fmt.Sprintf("%s-%s", o.ExchangeOrderID, o.FilledSize.String()),
		OrderID:     o.ID,
		Instrument:  o.Instrument,
		Side:        o.Side,
		Price:       incrementalPrice(w, avg, o.FilledSize, delta),
		Size:        delta,
		Fee:         cumFee.Sub(w.fee),
		FeeCurrency: state.FeeCurrency,
		StrategyID:  o.StrategyID,
		ExecutedAt:  executedAt,
	}

	if t.recorder != nil {
		if err := t.recorder.Record(ctx, tr); err != nil {
			return o, errors.Wrap(err, "record fill")
		}
	}
	if _, err := t.positions.ApplyTrade(ctx, tr); err != nil {
		return o, errors.Wrap(err, "apply fill to position")
	}

	updated, err := t.store.Annotate(ctx, o.ID, entity.WithMetadata(map[string]string{
		metaFillApplied: o.FilledSize.String(),
		metaAvgApplied:  avg.String(),
		metaFeeApplied:  cumFee.String(),
	}))
	if err != nil {
		return o, errors.Wrap(err, "advance applied fill")
	}
	metrics.FillsApplied.Add(1)
	return updated, nil
}

func fillPrice(o *entity.Order) decimal.Decimal {
	if o.AvgFillPrice.IsPositive() {
		return o.AvgFillPrice
	}
	return o.Price
}

// incrementalPrice recovers the price of the newly filled quantity from the
// cumulative average prices before and after
func incrementalPrice(w watermark, avg, filled, delta decimal.Decimal) decimal.Decimal {
	if !w.filled.IsPositive() || !w.avgPrice.IsPositive() {
		return avg
	}
	p := avg.Mul(filled).Sub(w.avgPrice.Mul(w.filled)).Div(delta)
	if !p.IsPositive() {
		return avg
	}
	return p
}

func (t *Tracker) notify(o *entity.Order, tk *task) {
	t.mu.Lock()
	callbacks := append([]Callback{}, t.listeners...)
	t.mu.Unlock()
	if tk != nil {
		callbacks = append(callbacks, tk.callbacks...)
	}

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.log.Error("Order callback panicked: %v", r)
				}
			}()
			cb(o.Clone())
		}()
	}
}
