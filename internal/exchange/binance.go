package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/amirphl/sniper-trader/internal/candle"
	"github.com/amirphl/sniper-trader/internal/market"
	"github.com/amirphl/sniper-trader/internal/order"
)

// Margin/position mode codes returned when the account is already in the
// requested state. Both are success for our purposes.
const (
	codeNoNeedChangeMargin   = -4046
	codeNoNeedChangePosition = -4059
)

// Binance is the USD-M futures client. Symbol filters are fetched once
// and cached for the process lifetime; everything else hits the venue.
type Binance struct {
	cli  *futures.Client
	name string

	mu      sync.RWMutex
	filters map[string]market.SymbolFilters
}

// NewBinance builds the futures client. Testnet routing is process-wide,
// matching how the SDK wires its base URLs.
func NewBinance(apiKey, apiSecret string, testnet bool) *Binance {
	futures.UseTestnet = testnet
	name := "binance-futures"
	if testnet {
		name = "binance-futures-testnet"
	}
	return &Binance{
		cli:     binance.NewFuturesClient(apiKey, apiSecret),
		name:    name,
		filters: make(map[string]market.SymbolFilters),
	}
}

func (b *Binance) Name() string { return b.name }

// ServerTime returns the venue clock, also used as the latency probe.
func (b *Binance) ServerTime(ctx context.Context) (time.Time, error) {
	ms, err := b.cli.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("server time: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// FetchCandles returns the most recent candles, oldest first. The last
// entry is the still-forming candle.
func (b *Binance) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]candle.Candle, error) {
	klines, err := b.cli.NewKlinesService().
		Symbol(symbol).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, timeframe, err)
	}

	out := make([]candle.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, candle.Candle{
			Timestamp: time.UnixMilli(k.OpenTime),
			Open:      f64(k.Open),
			High:      f64(k.High),
			Low:       f64(k.Low),
			Close:     f64(k.Close),
			Volume:    f64(k.Volume),
			Symbol:    symbol,
			Timeframe: timeframe,
		})
	}
	return out, nil
}

// FetchOrderBook returns a depth snapshot limited to the given levels.
func (b *Binance) FetchOrderBook(ctx context.Context, symbol string, depth int) (*market.OrderBook, error) {
	res, err := b.cli.NewDepthService().Symbol(symbol).Limit(depth).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("depth %s: %w", symbol, err)
	}

	ob := &market.OrderBook{Symbol: symbol, Timestamp: time.Now()}
	for _, bid := range res.Bids {
		ob.Bids = append(ob.Bids, [2]float64{f64(bid.Price), f64(bid.Quantity)})
	}
	for _, ask := range res.Asks {
		ob.Asks = append(ob.Asks, [2]float64{f64(ask.Price), f64(ask.Quantity)})
	}
	return ob, nil
}

func (b *Binance) premiumIndex(ctx context.Context, symbol string) (*futures.PremiumIndex, error) {
	res, err := b.cli.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("premium index %s: %w", symbol, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("premium index %s: empty response", symbol)
	}
	return res[0], nil
}

// FetchMarkPrice returns the mark price used for PnL and stop triggers.
func (b *Binance) FetchMarkPrice(ctx context.Context, symbol string) (float64, error) {
	idx, err := b.premiumIndex(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return f64(idx.MarkPrice), nil
}

// FetchFundingRate returns the current funding for a perpetual.
func (b *Binance) FetchFundingRate(ctx context.Context, symbol string) (market.FundingRate, error) {
	idx, err := b.premiumIndex(ctx, symbol)
	if err != nil {
		return market.FundingRate{}, err
	}
	return market.FundingRate{
		Symbol:    symbol,
		Rate:      f64(idx.LastFundingRate),
		MarkPrice: f64(idx.MarkPrice),
		NextTime:  time.UnixMilli(idx.NextFundingTime),
	}, nil
}

// FetchLastPrice returns the last traded price.
func (b *Binance) FetchLastPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.cli.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("last price %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("last price %s: empty response", symbol)
	}
	return f64(prices[0].Price), nil
}

// FetchBalance returns the USDT futures wallet.
func (b *Binance) FetchBalance(ctx context.Context) (market.Balance, error) {
	acct, err := b.cli.NewGetAccountService().Do(ctx)
	if err != nil {
		return market.Balance{}, fmt.Errorf("account: %w", err)
	}
	for _, a := range acct.Assets {
		if a.Asset != "USDT" {
			continue
		}
		avail := f64(a.AvailableBalance)
		total := f64(a.WalletBalance)
		return market.Balance{
			Asset:     a.Asset,
			Available: avail,
			Locked:    total - avail,
			Total:     total,
		}, nil
	}
	return market.Balance{}, fmt.Errorf("account: no USDT asset")
}

func positionFromRisk(r *futures.PositionRisk) (market.PositionInfo, bool) {
	amt := f64(r.PositionAmt)
	if amt == 0 {
		return market.PositionInfo{}, false
	}
	side := "LONG"
	size := amt
	if amt < 0 {
		side = "SHORT"
		size = -amt
	}
	return market.PositionInfo{
		Symbol:        r.Symbol,
		Side:          side,
		Size:          size,
		EntryPrice:    f64(r.EntryPrice),
		MarkPrice:     f64(r.MarkPrice),
		UnrealizedPnL: f64(r.UnRealizedProfit),
		Leverage:      int(f64(r.Leverage)),
	}, true
}

// FetchPositions returns every open position on the account.
func (b *Binance) FetchPositions(ctx context.Context) ([]market.PositionInfo, error) {
	risks, err := b.cli.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("position risk: %w", err)
	}
	var out []market.PositionInfo
	for _, r := range risks {
		if info, ok := positionFromRisk(r); ok {
			out = append(out, info)
		}
	}
	return out, nil
}

// FetchPosition returns the open position for one symbol, nil when flat.
func (b *Binance) FetchPosition(ctx context.Context, symbol string) (*market.PositionInfo, error) {
	risks, err := b.cli.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("position risk %s: %w", symbol, err)
	}
	for _, r := range risks {
		if info, ok := positionFromRisk(r); ok {
			return &info, nil
		}
	}
	return nil, nil
}

// SubmitOrder places an order. Stop and take-profit types trigger on mark
// price with price protection; close-position orders carry no quantity.
func (b *Binance) SubmitOrder(ctx context.Context, req order.Request) (order.Result, error) {
	svc := b.cli.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)

	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	switch {
	case req.ClosePosition:
		svc = svc.ClosePosition(true)
	case req.Quantity > 0:
		svc = svc.Quantity(fmtFloat(req.Quantity))
		if req.ReduceOnly {
			svc = svc.ReduceOnly(true)
		}
	}
	if req.StopPrice > 0 {
		svc = svc.StopPrice(fmtFloat(req.StopPrice)).
			WorkingType(futures.WorkingTypeMarkPrice).
			PriceProtect(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return order.Result{}, fmt.Errorf("submit %s %s %s: %w", req.Symbol, req.Side, req.Type, err)
	}
	return order.Result{
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Side:          order.Side(res.Side),
		Type:          order.Type(res.Type),
		Status:        string(res.Status),
		ExecutedQty:   f64(res.ExecutedQuantity),
		AvgPrice:      f64(res.AvgPrice),
		StopPrice:     f64(res.StopPrice),
		Time:          time.UnixMilli(res.UpdateTime),
	}, nil
}

// CancelOrder cancels one order by ID.
func (b *Binance) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	_, err := b.cli.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return fmt.Errorf("cancel %s #%d: %w", symbol, orderID, err)
	}
	return nil
}

// CancelAllOrders cancels every open order on a symbol.
func (b *Binance) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := b.cli.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return fmt.Errorf("cancel all %s: %w", symbol, err)
	}
	return nil
}

// OpenOrders lists the open orders on a symbol, or account-wide when
// symbol is empty.
func (b *Binance) OpenOrders(ctx context.Context, symbol string) ([]order.Result, error) {
	svc := b.cli.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("open orders %q: %w", symbol, err)
	}
	out := make([]order.Result, 0, len(orders))
	for _, o := range orders {
		out = append(out, order.Result{
			OrderID:       o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Side:          order.Side(o.Side),
			Type:          order.Type(o.Type),
			Status:        string(o.Status),
			ExecutedQty:   f64(o.ExecutedQuantity),
			AvgPrice:      f64(o.AvgPrice),
			StopPrice:     f64(o.StopPrice),
			Time:          time.UnixMilli(o.Time),
		})
	}
	return out, nil
}

// SetLeverage applies the configured leverage to a symbol.
func (b *Binance) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := b.cli.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return fmt.Errorf("set leverage %s %dx: %w", symbol, leverage, err)
	}
	return nil
}

// SetIsolatedMargin switches a symbol to isolated margin. Already-isolated
// responses are success.
func (b *Binance) SetIsolatedMargin(ctx context.Context, symbol string) error {
	err := b.cli.NewChangeMarginTypeService().
		Symbol(symbol).
		MarginType(futures.MarginTypeIsolated).
		Do(ctx)
	if err != nil {
		if apiErr, ok := apiError(err); ok && apiErr.Code == codeNoNeedChangeMargin {
			return nil
		}
		return fmt.Errorf("set isolated margin %s: %w", symbol, err)
	}
	return nil
}

// SetOneWayMode disables hedge mode account-wide. Already-one-way
// responses are success.
func (b *Binance) SetOneWayMode(ctx context.Context) error {
	err := b.cli.NewChangePositionModeService().DualSide(false).Do(ctx)
	if err != nil {
		if apiErr, ok := apiError(err); ok && apiErr.Code == codeNoNeedChangePosition {
			return nil
		}
		return fmt.Errorf("set one-way mode: %w", err)
	}
	return nil
}

// SymbolFilters returns the precision and minimum rules for a symbol,
// loading the whole exchange info once on first use.
func (b *Binance) SymbolFilters(ctx context.Context, symbol string) (market.SymbolFilters, error) {
	b.mu.RLock()
	f, ok := b.filters[symbol]
	b.mu.RUnlock()
	if ok {
		return f, nil
	}

	info, err := b.cli.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return market.SymbolFilters{}, fmt.Errorf("exchange info: %w", err)
	}

	b.mu.Lock()
	for _, s := range info.Symbols {
		b.filters[s.Symbol] = parseSymbolFilters(s.Filters)
	}
	f, ok = b.filters[symbol]
	b.mu.Unlock()

	if !ok {
		return market.SymbolFilters{}, fmt.Errorf("exchange info: no filters for %s", symbol)
	}
	return f, nil
}

func parseSymbolFilters(raw []map[string]interface{}) market.SymbolFilters {
	var f market.SymbolFilters
	for _, entry := range raw {
		switch asString(entry["filterType"]) {
		case "PRICE_FILTER":
			f.TickSize = f64(asString(entry["tickSize"]))
		case "LOT_SIZE":
			f.StepSize = f64(asString(entry["stepSize"]))
			f.MinQty = f64(asString(entry["minQty"]))
		case "MIN_NOTIONAL":
			f.MinNotional = f64(asString(entry["notional"]))
		}
	}
	return f
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// f64 parses the venue's string-encoded numbers; malformed fields read as
// zero rather than poisoning a whole response.
func f64(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
