package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"

	"github.com/amirphl/sniper-trader/internal/candle"
	"github.com/amirphl/sniper-trader/internal/market"
	"github.com/amirphl/sniper-trader/internal/order"
)

// Mock is an in-memory venue for tests. Market orders fill immediately at
// the seeded price, stop orders rest until canceled, and positions follow
// one-way mode semantics. Errors can be injected per method name.
type Mock struct {
	mu sync.Mutex

	now func() time.Time

	prices    map[string]float64
	books     map[string]*market.OrderBook
	candles   map[string][]candle.Candle
	funding   map[string]market.FundingRate
	filters   map[string]market.SymbolFilters
	balance   market.Balance
	positions map[string]*market.PositionInfo
	resting   map[string][]order.Result

	submitted   []order.Request
	canceledAll []string
	leverage    map[string]int
	isolated    map[string]bool
	oneWay      bool

	errs   map[string]error
	nextID int64
}

// NewMock returns a venue with a 10k USDT wallet and permissive default
// symbol filters.
func NewMock() *Mock {
	return &Mock{
		now:       time.Now,
		prices:    make(map[string]float64),
		books:     make(map[string]*market.OrderBook),
		candles:   make(map[string][]candle.Candle),
		funding:   make(map[string]market.FundingRate),
		filters:   make(map[string]market.SymbolFilters),
		balance:   market.Balance{Asset: "USDT", Available: 10000, Total: 10000},
		positions: make(map[string]*market.PositionInfo),
		resting:   make(map[string][]order.Result),
		leverage:  make(map[string]int),
		isolated:  make(map[string]bool),
		errs:      make(map[string]error),
		nextID:    1000,
	}
}

// SetNow overrides the clock used for fill timestamps.
func (m *Mock) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetPrice seeds the mark/last price for a symbol.
func (m *Mock) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
	if pos, ok := m.positions[symbol]; ok {
		pos.MarkPrice = price
	}
}

// SetBook seeds a depth snapshot. Symbols without one get a synthetic
// tight book around the seeded price.
func (m *Mock) SetBook(symbol string, ob *market.OrderBook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[symbol] = ob
}

// SetCandles seeds kline history for a symbol and timeframe.
func (m *Mock) SetCandles(symbol, timeframe string, candles []candle.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[symbol+"|"+timeframe] = candles
}

// SetFunding seeds the funding rate for a symbol.
func (m *Mock) SetFunding(symbol string, fr market.FundingRate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funding[symbol] = fr
}

// SetFilters seeds precision rules for a symbol.
func (m *Mock) SetFilters(symbol string, f market.SymbolFilters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters[symbol] = f
}

// SetBalance seeds the wallet.
func (m *Mock) SetBalance(b market.Balance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = b
}

// SeedPosition plants a venue-side position, as if opened out of band.
func (m *Mock) SeedPosition(info market.PositionInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := info
	m.positions[info.Symbol] = &cp
}

// RemovePosition flattens a venue-side position out of band.
func (m *Mock) RemovePosition(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
}

// FailWith injects an error for a method name ("SubmitOrder",
// "FetchPosition", ...). The error persists until cleared with nil.
func (m *Mock) FailWith(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, method)
		return
	}
	m.errs[method] = err
}

// Submitted returns every order request seen, in order.
func (m *Mock) Submitted() []order.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]order.Request, len(m.submitted))
	copy(out, m.submitted)
	return out
}

// CanceledAll returns the symbols whose open orders were mass-canceled.
func (m *Mock) CanceledAll() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.canceledAll))
	copy(out, m.canceledAll)
	return out
}

// Leverage returns the last leverage applied to a symbol.
func (m *Mock) Leverage(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leverage[symbol]
}

func (m *Mock) take(method string) error {
	return m.errs[method]
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) ServerTime(ctx context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("ServerTime"); err != nil {
		return time.Time{}, err
	}
	return m.now(), nil
}

func (m *Mock) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]candle.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("FetchCandles"); err != nil {
		return nil, err
	}
	all, ok := m.candles[symbol+"|"+timeframe]
	if !ok {
		return nil, fmt.Errorf("mock: no candles for %s %s", symbol, timeframe)
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]candle.Candle, len(all))
	copy(out, all)
	return out, nil
}

func (m *Mock) FetchOrderBook(ctx context.Context, symbol string, depth int) (*market.OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("FetchOrderBook"); err != nil {
		return nil, err
	}
	if ob, ok := m.books[symbol]; ok {
		return ob, nil
	}
	px, ok := m.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("mock: no book or price for %s", symbol)
	}
	ob := &market.OrderBook{Symbol: symbol, Timestamp: m.now()}
	for i := 0; i < 5; i++ {
		off := px * 0.0001 * float64(i+1)
		ob.Bids = append(ob.Bids, [2]float64{px - off, 1000})
		ob.Asks = append(ob.Asks, [2]float64{px + off, 1000})
	}
	return ob, nil
}

func (m *Mock) FetchMarkPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("FetchMarkPrice"); err != nil {
		return 0, err
	}
	px, ok := m.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("mock: no price for %s", symbol)
	}
	return px, nil
}

func (m *Mock) FetchFundingRate(ctx context.Context, symbol string) (market.FundingRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("FetchFundingRate"); err != nil {
		return market.FundingRate{}, err
	}
	if fr, ok := m.funding[symbol]; ok {
		return fr, nil
	}
	return market.FundingRate{
		Symbol:    symbol,
		Rate:      0,
		MarkPrice: m.prices[symbol],
		NextTime:  m.now().Add(8 * time.Hour),
	}, nil
}

func (m *Mock) FetchLastPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("FetchLastPrice"); err != nil {
		return 0, err
	}
	px, ok := m.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("mock: no price for %s", symbol)
	}
	return px, nil
}

func (m *Mock) FetchBalance(ctx context.Context) (market.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("FetchBalance"); err != nil {
		return market.Balance{}, err
	}
	return m.balance, nil
}

func (m *Mock) FetchPositions(ctx context.Context) ([]market.PositionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("FetchPositions"); err != nil {
		return nil, err
	}
	var out []market.PositionInfo
	for _, pos := range m.positions {
		out = append(out, *pos)
	}
	return out, nil
}

func (m *Mock) FetchPosition(ctx context.Context, symbol string) (*market.PositionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("FetchPosition"); err != nil {
		return nil, err
	}
	pos, ok := m.positions[symbol]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

func (m *Mock) SubmitOrder(ctx context.Context, req order.Request) (order.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("SubmitOrder"); err != nil {
		return order.Result{}, err
	}
	m.submitted = append(m.submitted, req)

	m.nextID++
	res := order.Result{
		OrderID:       m.nextID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		StopPrice:     req.StopPrice,
		Time:          m.now(),
	}

	if req.Type != order.Market {
		res.Status = "NEW"
		m.resting[req.Symbol] = append(m.resting[req.Symbol], res)
		return res, nil
	}

	px, ok := m.prices[req.Symbol]
	if !ok {
		return order.Result{}, fmt.Errorf("mock: no price for %s", req.Symbol)
	}
	filled, err := m.fill(req, px)
	if err != nil {
		return order.Result{}, err
	}
	res.Status = "FILLED"
	res.ExecutedQty = filled
	res.AvgPrice = px
	return res, nil
}

// fill applies a market order to the one-way position book. Reduce-only
// orders against a flat book get the venue's -2022 rejection.
func (m *Mock) fill(req order.Request, px float64) (float64, error) {
	pos := m.positions[req.Symbol]

	if req.ClosePosition || req.ReduceOnly {
		if pos == nil {
			return 0, &common.APIError{Code: -2022, Message: "ReduceOnly Order is rejected."}
		}
		qty := pos.Size
		if !req.ClosePosition && req.Quantity < qty {
			qty = req.Quantity
		}
		pos.Size -= qty
		if pos.Size <= 1e-12 {
			delete(m.positions, req.Symbol)
		}
		return qty, nil
	}

	signed := req.Quantity
	if req.Side == order.Sell {
		signed = -signed
	}
	cur := 0.0
	if pos != nil {
		cur = pos.Size
		if pos.Side == "SHORT" {
			cur = -cur
		}
	}
	next := cur + signed

	switch {
	case next == 0:
		delete(m.positions, req.Symbol)
	case pos == nil || cur == 0 || (cur > 0) != (next > 0):
		side := "LONG"
		if next < 0 {
			side = "SHORT"
		}
		m.positions[req.Symbol] = &market.PositionInfo{
			Symbol:     req.Symbol,
			Side:       side,
			Size:       abs(next),
			EntryPrice: px,
			MarkPrice:  px,
			Leverage:   m.leverage[req.Symbol],
		}
	case abs(next) > abs(cur):
		added := abs(next) - abs(cur)
		pos.EntryPrice = (pos.EntryPrice*abs(cur) + px*added) / abs(next)
		pos.Size = abs(next)
		pos.MarkPrice = px
	default:
		pos.Size = abs(next)
		pos.MarkPrice = px
	}
	return req.Quantity, nil
}

func (m *Mock) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("CancelOrder"); err != nil {
		return err
	}
	rest := m.resting[symbol]
	for i, o := range rest {
		if o.OrderID == orderID {
			m.resting[symbol] = append(rest[:i], rest[i+1:]...)
			return nil
		}
	}
	return &common.APIError{Code: -2011, Message: "Unknown order sent."}
}

func (m *Mock) CancelAllOrders(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("CancelAllOrders"); err != nil {
		return err
	}
	m.canceledAll = append(m.canceledAll, symbol)
	delete(m.resting, symbol)
	return nil
}

func (m *Mock) OpenOrders(ctx context.Context, symbol string) ([]order.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("OpenOrders"); err != nil {
		return nil, err
	}
	if symbol == "" {
		var out []order.Result
		for _, rest := range m.resting {
			out = append(out, rest...)
		}
		return out, nil
	}
	rest := m.resting[symbol]
	out := make([]order.Result, len(rest))
	copy(out, rest)
	return out, nil
}

func (m *Mock) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("SetLeverage"); err != nil {
		return err
	}
	m.leverage[symbol] = leverage
	return nil
}

func (m *Mock) SetIsolatedMargin(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("SetIsolatedMargin"); err != nil {
		return err
	}
	m.isolated[symbol] = true
	return nil
}

func (m *Mock) SetOneWayMode(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("SetOneWayMode"); err != nil {
		return err
	}
	m.oneWay = true
	return nil
}

func (m *Mock) SymbolFilters(ctx context.Context, symbol string) (market.SymbolFilters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.take("SymbolFilters"); err != nil {
		return market.SymbolFilters{}, err
	}
	if f, ok := m.filters[symbol]; ok {
		return f, nil
	}
	return market.SymbolFilters{TickSize: 0.01, StepSize: 0.001, MinQty: 0.001, MinNotional: 5}, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
