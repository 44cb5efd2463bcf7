package market

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumber_Unmarshal(t *testing.T) {
	var v struct {
		A Number `json:"a"`
		B Number `json:"b"`
		C Number `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"67123.40","b":1.5,"c":""}`), &v))
	assert.Equal(t, 67123.40, v.A.Float())
	assert.Equal(t, 1.5, v.B.Float())
	assert.Equal(t, 0.0, v.C.Float())

	assert.Error(t, json.Unmarshal([]byte(`{"a":"abc"}`), &v))
}

func TestKline_Unmarshal(t *testing.T) {
	raw := `[[1700000000000,"100.1","101.0","99.5","100.7","12.5",1700000059999,"1250.0",42,"6.0","600.0","0"]]`
	var klines []Kline
	require.NoError(t, json.Unmarshal([]byte(raw), &klines))
	require.Len(t, klines, 1)
	k := klines[0]
	assert.Equal(t, int64(1700000000000), k.OpenTime.UnixMilli())
	assert.Equal(t, 100.1, k.Open)
	assert.Equal(t, 101.0, k.High)
	assert.Equal(t, 99.5, k.Low)
	assert.Equal(t, 100.7, k.Close)
	assert.Equal(t, 12.5, k.Volume)

	assert.Error(t, json.Unmarshal([]byte(`[[1,2]]`), &klines))
}

func TestDepthEventWire(t *testing.T) {
	raw := `{"e":"depthUpdate","E":1700000000123,"T":1700000000120,"s":"BTCUSDT","U":157,"u":160,"pu":149,"b":[["7403.89","0.002"]],"a":[["7405.96","3.340"],["7406.63","0"]]}`
	var w depthEventWire
	require.NoError(t, json.Unmarshal([]byte(raw), &w))
	ev := w.event()
	assert.Equal(t, "BTCUSDT", ev.Symbol)
	assert.Equal(t, int64(1700000000123), ev.EventTime.UnixMilli())
	assert.Equal(t, int64(157), ev.FirstUpdateID)
	assert.Equal(t, int64(160), ev.FinalUpdateID)
	assert.Equal(t, int64(149), ev.PrevFinalID)
	assert.Equal(t, []PriceLevel{{Price: 7403.89, Quantity: 0.002}}, ev.Bids)
	assert.Len(t, ev.Asks, 2)
	assert.Equal(t, 0.0, ev.Asks[1].Quantity)
}

func TestMarkPriceWire(t *testing.T) {
	raw := `{"e":"markPriceUpdate","E":1562305380000,"s":"BTCUSDT","p":"11794.15000000","i":"11784.62659091","P":"11784.25641265","r":"0.00038167","T":1562306400000}`
	var w markPriceWire
	require.NoError(t, json.Unmarshal([]byte(raw), &w))
	mp := w.mark()
	assert.Equal(t, "BTCUSDT", mp.Symbol)
	assert.Equal(t, 11794.15, mp.MarkPrice)
	assert.Equal(t, 11784.62659091, mp.IndexPrice)
	assert.Equal(t, 0.00038167, mp.FundingRate)
	assert.Equal(t, int64(1562306400000), mp.NextFundingTime.UnixMilli())
	assert.Equal(t, int64(1562305380000), mp.UpdatedAt.UnixMilli())
}

func TestTickerStreamWire(t *testing.T) {
	raw := `{"e":"24hrTicker","E":123456789,"s":"BTCUSDT","p":"0.0015","P":"250.00","w":"0.0018","c":"0.0025","Q":"10","o":"0.0010","h":"0.0025","l":"0.0010","v":"10000","q":"18","O":0,"C":86400000,"F":0,"L":18150,"n":18151}`
	var w tickerStreamWire
	require.NoError(t, json.Unmarshal([]byte(raw), &w))
	tk := w.ticker()
	assert.Equal(t, 0.0025, tk.LastPrice)
	assert.Equal(t, 0.0015, tk.PriceChange)
	assert.Equal(t, 250.0, tk.PriceChangePercent)
	assert.Equal(t, 0.0010, tk.OpenPrice)
	assert.Equal(t, 0.0025, tk.HighPrice)
	assert.Equal(t, 0.0010, tk.LowPrice)
	assert.Equal(t, 10000.0, tk.Volume)
	assert.Equal(t, 18.0, tk.QuoteVolume)
	assert.Equal(t, int64(123456789), tk.UpdatedAt.UnixMilli())
}

func TestAggTradeWire(t *testing.T) {
	raw := `{"e":"aggTrade","E":123456789,"s":"BTCUSDT","a":5933014,"p":"0.001","q":"100","f":100,"l":105,"T":123456785,"m":true}`
	var w aggTradeWire
	require.NoError(t, json.Unmarshal([]byte(raw), &w))
	tr := w.trade()
	assert.Equal(t, int64(5933014), tr.ID)
	assert.Equal(t, 0.001, tr.Price)
	assert.Equal(t, 100.0, tr.Quantity)
	assert.True(t, tr.BuyerIsMaker)
	assert.Equal(t, int64(123456785), tr.Time.UnixMilli())
}
