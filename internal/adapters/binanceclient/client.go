package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"

	"github.com/Noobiez16/Kiwi-AI/internal/domain"
	"github.com/Noobiez16/Kiwi-AI/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements the ports.MarketDataStream and ports.Broker interfaces
// using the go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger

	reconnectMin time.Duration
	reconnectMax time.Duration
	maxAttempts  int
	quiescent    time.Duration
	connecting   atomic.Bool // forbids concurrent reconnect attempts
}

// Config holds configuration specific to the Binance adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	ReconnectMinDelay    time.Duration // first backoff step (default 5s)
	ReconnectMaxDelay    time.Duration // backoff cap (default 60s)
	MaxReconnectAttempts int           // attempts before surfacing a fatal error (default 3)
	QuiescentDelay       time.Duration // settle time between closing and redialing (default 3s)
}

// New creates a new Binance adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	if cfg.ReconnectMinDelay <= 0 {
		cfg.ReconnectMinDelay = 5 * time.Second
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = 60 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 3
	}
	if cfg.QuiescentDelay <= 0 {
		cfg.QuiescentDelay = 3 * time.Second
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		reconnectMin:  cfg.ReconnectMinDelay,
		reconnectMax:  cfg.ReconnectMaxDelay,
		maxAttempts:   cfg.MaxReconnectAttempts,
		quiescent:     cfg.QuiescentDelay,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Invalid signature
			mappedErr = ports.ErrAuthenticationFailed
		case -2010, -2022: // Order rejected
			mappedErr = ports.ErrOrderRejected
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API key invalid / permissions
			mappedErr = ports.ErrInvalidAPIKeys
		case -2019, -3005, -3041, -4047: // Margin / balance insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// --- ports.MarketDataStream ---

// Subscribe opens the combined kline stream for the given symbols and keeps
// it alive with bounded exponential backoff. The upstream enforces
// connection caps, so prior connections are left a quiescent delay to close
// before redialing, and concurrent reconnect attempts are forbidden via the
// connecting latch. Exhausted attempts surface ports.ErrReconnectExhausted
// through errHandler and close doneCh.
func (c *Client) Subscribe(ctx context.Context, symbols []string, timeframe string,
	handler func(ports.StreamEvent), errHandler func(error)) (chan struct{}, chan struct{}, error) {

	op := "Subscribe"
	if len(symbols) == 0 {
		return nil, nil, fmt.Errorf("%w: no symbols to subscribe", ports.ErrInvalidRequest)
	}
	if !c.connecting.CompareAndSwap(false, true) {
		return nil, nil, ports.ErrReconnectInProgress
	}

	pairs := make(map[string]string, len(symbols))
	for _, s := range symbols {
		pairs[s] = timeframe
	}

	wsCtx, cancelWs := context.WithCancel(ctx)
	doneCh := make(chan struct{})
	stopCh := make(chan struct{}, 1)

	wsHandler := func(event *futures.WsKlineEvent) {
		bar, err := translateWsKline(event)
		if err != nil {
			errHandler(fmt.Errorf("%w: %w", ports.ErrBadPrice, err))
			return
		}
		evType := ports.EventBarUpdate
		if event.Kline.IsFinal {
			evType = ports.EventBarClose
		}
		handler(ports.StreamEvent{Type: evType, Bar: bar})
	}

	go func() {
		defer close(doneCh)
		defer c.connecting.Store(false)
		defer cancelWs()

		policy := &backoff.Backoff{
			Min:    c.reconnectMin,
			Max:    c.reconnectMax,
			Factor: 2,
			Jitter: true,
		}
		attempt := 0

		for {
			innerDoneCh, innerStopCh, err := futures.WsCombinedKlineServe(pairs, wsHandler, func(err error) {
				errHandler(fmt.Errorf("%w: %w", ports.ErrStreamTransient, err))
			})
			if err != nil {
				attempt++
				if isConnectionLimit(err) {
					c.logger.Error(wsCtx, err, op+": upstream refused the subscription (connection cap)")
					errHandler(fmt.Errorf("%w: %w", ports.ErrConnectionLimit, err))
					return
				}
				if attempt >= c.maxAttempts {
					c.logger.Error(wsCtx, err, op+": max reconnection attempts exceeded, giving up", map[string]interface{}{
						"maxAttempts": c.maxAttempts,
					})
					errHandler(fmt.Errorf("%w after %d attempts: %w", ports.ErrReconnectExhausted, attempt, err))
					return
				}
				delay := policy.Duration()
				c.logger.Info(wsCtx, op+": connection failed, retrying", map[string]interface{}{
					"attempt": attempt + 1,
					"delay":   delay.String(),
				})
				select {
				case <-time.After(delay):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			c.logger.Info(wsCtx, op+": WebSocket connection established", map[string]interface{}{
				"symbols":   symbols,
				"timeframe": timeframe,
			})
			attempt = 0
			policy.Reset()

			select {
			case <-innerDoneCh:
				c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly, reconnecting")
				handlerNotify(errHandler, ports.ErrStreamTransient)
				// Let the dropped connection fully close before redialing.
				select {
				case <-time.After(c.quiescent):
				case <-wsCtx.Done():
					return
				}
			case <-wsCtx.Done():
				c.logger.Info(wsCtx, op+": context cancelled, stopping WebSocket")
				select {
				case innerStopCh <- struct{}{}:
				default:
				}
				return
			}
		}
	}()

	// Link the external stop channel to the internal context cancellation.
	go func() {
		select {
		case <-stopCh:
			c.logger.Info(ctx, op+": received external stop signal, cancelling WebSocket context")
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	return doneCh, stopCh, nil
}

func handlerNotify(errHandler func(error), err error) {
	if errHandler != nil {
		errHandler(err)
	}
}

func isConnectionLimit(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code == -1003 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too many") || strings.Contains(msg, "connection limit")
}

// GetBars retrieves historical bars to warm the buffers before streaming.
func (c *Client) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Bar, error) {
	op := "GetBars"
	klines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(timeframe).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	bars := make([]domain.Bar, 0, len(klines))
	for _, k := range klines {
		bar, err := translateKline(k, symbol)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// --- ports.Broker ---

// PlaceOrder submits a market or limit order.
func (c *Client) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderAck, error) {
	op := "PlaceOrder"
	if req.Side != domain.Buy && req.Side != domain.Sell {
		return nil, fmt.Errorf("%w: unsupported side %q", ports.ErrInvalidRequest, req.Side)
	}

	side := futures.SideTypeBuy
	if req.Side == domain.Sell {
		side = futures.SideTypeSell
	}

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Quantity(formatQuantity(req.Quantity))

	switch req.Type {
	case ports.OrderLimit:
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(formatPrice(req.LimitPrice))
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	avgPrice, _ := strconv.ParseFloat(res.AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	ack := &ports.OrderAck{
		OrderID:      req.Symbol + ":" + strconv.FormatInt(res.OrderID, 10),
		AvgFillPrice: avgPrice,
		FilledQty:    execQty,
		Status:       string(res.Status),
		Timestamp:    time.UnixMilli(res.UpdateTime),
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":  req.Symbol,
		"side":    string(req.Side),
		"qty":     req.Quantity,
		"orderID": ack.OrderID,
		"status":  ack.Status,
	})
	return ack, nil
}

// GetPositions lists non-flat positions.
func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	op := "GetPositions"
	risks, err := c.futuresClient.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	var positions []domain.Position
	for _, pr := range risks {
		amt, _ := strconv.ParseFloat(pr.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(pr.EntryPrice, 64)
		side := domain.Long
		qty := amt
		if amt < 0 {
			side = domain.Short
			qty = -amt
		}
		positions = append(positions, domain.Position{
			Symbol:        pr.Symbol,
			Side:          side,
			Quantity:      qty,
			AvgEntryPrice: entry,
		})
	}
	return positions, nil
}

// GetAccount returns the futures account valuation.
func (c *Client) GetAccount(ctx context.Context) (*domain.AccountSnapshot, error) {
	op := "GetAccount"
	acct, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	wallet, _ := strconv.ParseFloat(acct.TotalWalletBalance, 64)
	unrealized, _ := strconv.ParseFloat(acct.TotalUnrealizedProfit, 64)
	available, _ := strconv.ParseFloat(acct.AvailableBalance, 64)

	positions, err := c.GetPositions(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.AccountSnapshot{
		PortfolioValue: wallet + unrealized,
		Cash:           available,
		BuyingPower:    available,
		OpenPositions:  positions,
	}, nil
}

// ClosePosition flattens a position with a reduce-only market order.
func (c *Client) ClosePosition(ctx context.Context, symbol string) error {
	op := "ClosePosition"
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if pos.Symbol != symbol {
			continue
		}
		side := futures.SideTypeSell
		if pos.Side == domain.Short {
			side = futures.SideTypeBuy
		}
		_, err := c.futuresClient.NewCreateOrderService().
			Symbol(symbol).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(formatQuantity(pos.Quantity)).
			ReduceOnly(true).
			Do(ctx)
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "qty": pos.Quantity})
		return nil
	}
	return fmt.Errorf("%w: %s", ports.ErrPositionNotFound, symbol)
}

// OrderStatus reports the state of a previously placed order.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (*ports.OrderStatus, error) {
	op := "OrderStatus"
	// The futures API scopes order lookup by symbol, so acks from this
	// adapter carry ids in the form symbol:id.
	symbol, rawID, found := strings.Cut(orderID, ":")
	if !found {
		return nil, fmt.Errorf("%w: order id %q missing symbol prefix", ports.ErrInvalidRequest, orderID)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad order id %q", ports.ErrInvalidRequest, orderID)
	}
	res, err := c.futuresClient.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	filled, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	avg, _ := strconv.ParseFloat(res.AvgPrice, 64)
	return &ports.OrderStatus{
		OrderID:      orderID,
		State:        string(res.Status),
		FilledQty:    filled,
		AvgFillPrice: avg,
	}, nil
}

// --- Translation helpers ---

func translateWsKline(event *futures.WsKlineEvent) (domain.Bar, error) {
	if event == nil {
		return domain.Bar{}, errors.New("received nil kline event")
	}
	k := event.Kline
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing open price '%s': %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing high price '%s': %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing low price '%s': %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}
	vol, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing volume '%s': %w", k.Volume, err)
	}

	return domain.Bar{
		Symbol:   k.Symbol,
		OpenTime: time.UnixMilli(k.StartTime).UTC(),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    cls,
		Volume:   vol,
	}, nil
}

func translateKline(k *futures.Kline, symbol string) (domain.Bar, error) {
	if k == nil {
		return domain.Bar{}, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing open price '%s': %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing high price '%s': %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing low price '%s': %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}
	vol, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing volume '%s': %w", k.Volume, err)
	}

	return domain.Bar{
		Symbol:   symbol,
		OpenTime: time.UnixMilli(k.OpenTime).UTC(),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    cls,
		Volume:   vol,
	}, nil
}

// formatPrice formats a float64 price into a string suitable for the Binance API.
func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', 2, 64)
}

// formatQuantity formats a float64 quantity into a string suitable for the Binance API.
func formatQuantity(quantity float64) string {
	return strconv.FormatFloat(quantity, 'f', 3, 64)
}
