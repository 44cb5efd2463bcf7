package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kortrade_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// WebSocketConnectionsTotal is the gauge of active WebSocket connections per hub.
	WebSocketConnectionsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kortrade_websocket_connections",
		Help: "Number of active WebSocket connections",
	}, []string{"hub"})

	// OnlineTraders is the number of users this instance has announced online.
	OnlineTraders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kortrade_online_traders",
		Help: "Users with a live notification socket, as seen by this instance",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kortrade_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// MarketReconnects counts exchange stream reconnect attempts.
	MarketReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kortrade_market_stream_reconnects_total",
		Help: "Total number of exchange WebSocket reconnects",
	})

	// MarketEvents counts exchange stream events by type.
	MarketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kortrade_market_events_total",
		Help: "Exchange stream events processed by type",
	}, []string{"event"})

	// OrderBookResyncs counts order book resyncs by symbol and reason.
	OrderBookResyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kortrade_orderbook_resyncs_total",
		Help: "Order book snapshot reloads after a sequence gap",
	}, []string{"symbol", "reason"})

	// ExchangeRequestDuration records exchange REST latency by endpoint.
	ExchangeRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kortrade_exchange_request_duration_seconds",
		Help:    "Exchange REST request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "status"})

	// TradingOrders counts simulated orders by symbol and action.
	TradingOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kortrade_trading_orders_total",
		Help: "Simulated orders filled by action",
	}, []string{"symbol", "action"})

	// Liquidations counts forced closes by symbol and trigger.
	Liquidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kortrade_trading_forced_closes_total",
		Help: "Positions closed by the watcher (liquidation, take profit, stop loss)",
	}, []string{"symbol", "trigger"})

	// FundingSettlements counts funding payments applied.
	FundingSettlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kortrade_funding_settlements_total",
		Help: "Funding payments applied to open positions",
	}, []string{"symbol"})

	// CoinFlow tracks KOR-Coin credited and debited by ledger type.
	CoinFlow = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kortrade_coin_flow_total",
		Help: "Absolute KOR-Coin moved by ledger type and direction",
	}, []string{"type", "direction"})

	// SMSSent counts verification messages by provider and result.
	SMSSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kortrade_sms_sent_total",
		Help: "Verification SMS delivery attempts",
	}, []string{"provider", "result"})

	// ActivityLogQueue counts activity log deliveries by path and result.
	ActivityLogQueue = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kortrade_activity_logs_total",
		Help: "Activity log writes by path (direct, queue) and result",
	}, []string{"path", "result"})
)
