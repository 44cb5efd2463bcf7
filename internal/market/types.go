package market

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Number decodes Binance's quoted decimal strings as well as bare numbers.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parse number %q: %w", s, err)
		}
		*n = Number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

func (n Number) Float() float64 { return float64(n) }

// PriceLevel is one price and quantity of an order book side.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

type rawLevels [][2]Number

func (r rawLevels) levels() []PriceLevel {
	out := make([]PriceLevel, 0, len(r))
	for _, l := range r {
		out = append(out, PriceLevel{Price: l[0].Float(), Quantity: l[1].Float()})
	}
	return out
}

// DepthSnapshot is the REST /fapi/v1/depth response.
type DepthSnapshot struct {
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

type depthSnapshotWire struct {
	LastUpdateID int64     `json:"lastUpdateId"`
	Bids         rawLevels `json:"bids"`
	Asks         rawLevels `json:"asks"`
}

// DepthEvent is a diff-depth stream update.
type DepthEvent struct {
	Symbol        string
	EventTime     time.Time
	FirstUpdateID int64
	FinalUpdateID int64
	PrevFinalID   int64
	Bids          []PriceLevel
	Asks          []PriceLevel
}

// Stream payloads reuse letters in both cases ("e" and "E", "p" and "P").
// encoding/json falls back to case-insensitive matching, so every key in a
// frame needs its own field even when it is unused.
type depthEventWire struct {
	EventType     string    `json:"e"`
	EventTime     int64     `json:"E"`
	TxTime        int64     `json:"T"`
	Symbol        string    `json:"s"`
	FirstUpdateID int64     `json:"U"`
	FinalUpdateID int64     `json:"u"`
	PrevFinalID   int64     `json:"pu"`
	Bids          rawLevels `json:"b"`
	Asks          rawLevels `json:"a"`
}

func (w depthEventWire) event() DepthEvent {
	return DepthEvent{
		Symbol:        w.Symbol,
		EventTime:     time.UnixMilli(w.EventTime),
		FirstUpdateID: w.FirstUpdateID,
		FinalUpdateID: w.FinalUpdateID,
		PrevFinalID:   w.PrevFinalID,
		Bids:          w.Bids.levels(),
		Asks:          w.Asks.levels(),
	}
}

// MarkPrice is the latest mark/index price and funding state of a symbol.
type MarkPrice struct {
	Symbol          string    `json:"symbol"`
	MarkPrice       float64   `json:"mark_price"`
	IndexPrice      float64   `json:"index_price"`
	FundingRate     float64   `json:"funding_rate"`
	NextFundingTime time.Time `json:"next_funding_time"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type markPriceWire struct {
	EventType       string `json:"e"`
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	MarkPrice       Number `json:"p"`
	SettlePrice     Number `json:"P"`
	IndexPrice      Number `json:"i"`
	FundingRate     Number `json:"r"`
	NextFundingTime int64  `json:"T"`
}

func (w markPriceWire) mark() MarkPrice {
	return MarkPrice{
		Symbol:          w.Symbol,
		MarkPrice:       w.MarkPrice.Float(),
		IndexPrice:      w.IndexPrice.Float(),
		FundingRate:     w.FundingRate.Float(),
		NextFundingTime: time.UnixMilli(w.NextFundingTime),
		UpdatedAt:       time.UnixMilli(w.EventTime),
	}
}

// premiumIndexWire is the REST /fapi/v1/premiumIndex response.
type premiumIndexWire struct {
	Symbol          string `json:"symbol"`
	MarkPrice       Number `json:"markPrice"`
	IndexPrice      Number `json:"indexPrice"`
	LastFundingRate Number `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

func (w premiumIndexWire) mark() MarkPrice {
	return MarkPrice{
		Symbol:          w.Symbol,
		MarkPrice:       w.MarkPrice.Float(),
		IndexPrice:      w.IndexPrice.Float(),
		FundingRate:     w.LastFundingRate.Float(),
		NextFundingTime: time.UnixMilli(w.NextFundingTime),
		UpdatedAt:       time.UnixMilli(w.Time),
	}
}

// Trade is one aggregated trade.
type Trade struct {
	ID           int64     `json:"id"`
	Symbol       string    `json:"symbol"`
	Price        float64   `json:"price"`
	Quantity     float64   `json:"quantity"`
	BuyerIsMaker bool      `json:"buyer_is_maker"`
	Time         time.Time `json:"time"`
}

type aggTradeWire struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	ID           int64  `json:"a"`
	Price        Number `json:"p"`
	Quantity     Number `json:"q"`
	TradeTime    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

func (w aggTradeWire) trade() Trade {
	return Trade{
		ID:           w.ID,
		Symbol:       w.Symbol,
		Price:        w.Price.Float(),
		Quantity:     w.Quantity.Float(),
		BuyerIsMaker: w.BuyerIsMaker,
		Time:         time.UnixMilli(w.TradeTime),
	}
}

// Ticker is the rolling 24h statistics of a symbol.
type Ticker struct {
	Symbol             string    `json:"symbol"`
	LastPrice          float64   `json:"last_price"`
	PriceChange        float64   `json:"price_change"`
	PriceChangePercent float64   `json:"price_change_percent"`
	OpenPrice          float64   `json:"open_price"`
	HighPrice          float64   `json:"high_price"`
	LowPrice           float64   `json:"low_price"`
	Volume             float64   `json:"volume"`
	QuoteVolume        float64   `json:"quote_volume"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type tickerStreamWire struct {
	EventType          string `json:"e"`
	EventTime          int64  `json:"E"`
	Symbol             string `json:"s"`
	PriceChange        Number `json:"p"`
	PriceChangePercent Number `json:"P"`
	WeightedAvgPrice   Number `json:"w"`
	LastPrice          Number `json:"c"`
	LastQty            Number `json:"Q"`
	OpenPrice          Number `json:"o"`
	HighPrice          Number `json:"h"`
	LowPrice           Number `json:"l"`
	Volume             Number `json:"v"`
	QuoteVolume        Number `json:"q"`
	OpenTime           int64  `json:"O"`
	CloseTime          int64  `json:"C"`
	FirstTradeID       int64  `json:"F"`
	LastTradeID        int64  `json:"L"`
	TradeCount         int64  `json:"n"`
}

func (w tickerStreamWire) ticker() Ticker {
	return Ticker{
		Symbol:             w.Symbol,
		LastPrice:          w.LastPrice.Float(),
		PriceChange:        w.PriceChange.Float(),
		PriceChangePercent: w.PriceChangePercent.Float(),
		OpenPrice:          w.OpenPrice.Float(),
		HighPrice:          w.HighPrice.Float(),
		LowPrice:           w.LowPrice.Float(),
		Volume:             w.Volume.Float(),
		QuoteVolume:        w.QuoteVolume.Float(),
		UpdatedAt:          time.UnixMilli(w.EventTime),
	}
}

type ticker24hWire struct {
	Symbol             string `json:"symbol"`
	PriceChange        Number `json:"priceChange"`
	PriceChangePercent Number `json:"priceChangePercent"`
	LastPrice          Number `json:"lastPrice"`
	OpenPrice          Number `json:"openPrice"`
	HighPrice          Number `json:"highPrice"`
	LowPrice           Number `json:"lowPrice"`
	Volume             Number `json:"volume"`
	QuoteVolume        Number `json:"quoteVolume"`
	CloseTime          int64  `json:"closeTime"`
}

func (w ticker24hWire) ticker() Ticker {
	return Ticker{
		Symbol:             w.Symbol,
		LastPrice:          w.LastPrice.Float(),
		PriceChange:        w.PriceChange.Float(),
		PriceChangePercent: w.PriceChangePercent.Float(),
		OpenPrice:          w.OpenPrice.Float(),
		HighPrice:          w.HighPrice.Float(),
		LowPrice:           w.LowPrice.Float(),
		Volume:             w.Volume.Float(),
		QuoteVolume:        w.QuoteVolume.Float(),
		UpdatedAt:          time.UnixMilli(w.CloseTime),
	}
}

// Kline is one candlestick.
type Kline struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// UnmarshalJSON decodes Binance's positional kline array.
func (k *Kline) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) < 7 {
		return fmt.Errorf("kline: expected at least 7 fields, got %d", len(raw))
	}
	var openTime, closeTime int64
	var o, h, l, c, v Number
	targets := []any{&openTime, &o, &h, &l, &c, &v, &closeTime}
	for i, target := range targets {
		if err := json.Unmarshal(raw[i], target); err != nil {
			return fmt.Errorf("kline field %d: %w", i, err)
		}
	}
	*k = Kline{
		OpenTime:  time.UnixMilli(openTime),
		Open:      o.Float(),
		High:      h.Float(),
		Low:       l.Float(),
		Close:     c.Float(),
		Volume:    v.Float(),
		CloseTime: time.UnixMilli(closeTime),
	}
	return nil
}

// FundingRate is one historical funding settlement.
type FundingRate struct {
	Symbol      string    `json:"symbol"`
	FundingRate float64   `json:"funding_rate"`
	FundingTime time.Time `json:"funding_time"`
	MarkPrice   float64   `json:"mark_price"`
}

type fundingRateWire struct {
	Symbol      string `json:"symbol"`
	FundingRate Number `json:"fundingRate"`
	FundingTime int64  `json:"fundingTime"`
	MarkPrice   Number `json:"markPrice"`
}

// combinedFrame wraps every message on a combined stream.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}
