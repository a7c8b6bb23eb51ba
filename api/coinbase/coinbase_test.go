package coinbase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-trader-go/api"
)

// base64 编码的测试密钥
var testSecret = base64.StdEncoding.EncodeToString([]byte("super-secret"))

func newTestDriver(t *testing.T, handler http.HandlerFunc) *Driver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	d := New("test-key", testSecret, "test-pass", srv.URL, nil)
	d.Pacer = api.NewPacer(0)
	return d
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	raw, _ := json.Marshal(v)
	w.Write(raw)
}

func TestAccessHeaders(t *testing.T) {
	var headers http.Header
	var path, body string
	d := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		writeJSON(w, rawOrder{ID: "abc", Side: "buy", Size: "1", Status: "open", Type: "limit"})
	})

	timeNow = func() time.Time { return time.Unix(1700000000, 0) }
	defer func() { timeNow = time.Now }()

	_, err := d.LimitOrder("BTC-USD", 1, 30000, api.Buy, true, false)
	require.NoError(t, err)

	assert.Equal(t, "test-key", headers.Get("CB-ACCESS-KEY"))
	assert.Equal(t, "test-pass", headers.Get("CB-ACCESS-PASSPHRASE"))
	assert.Equal(t, "1700000000", headers.Get("CB-ACCESS-TIMESTAMP"))

	// 与服务器侧重算的签名一致
	mac := hmac.New(sha256.New, []byte("super-secret"))
	mac.Write([]byte("1700000000" + http.MethodPost + path + body))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, headers.Get("CB-ACCESS-SIGN"))
}

func TestPublicEndpointsUnsigned(t *testing.T) {
	d := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("CB-ACCESS-KEY"), "public calls must not carry credentials")
		writeJSON(w, rawTicker{Bid: "30000", Ask: "30050", Price: "30020"})
	})

	tick, err := d.Ticker("btc-usd")
	require.NoError(t, err)
	assert.Equal(t, 30000.0, tick.Bid)
	assert.Equal(t, 30050.0, tick.Ask)
	assert.Equal(t, 30020.0, tick.LastPrice)
}

func TestWalletBalances(t *testing.T) {
	d := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []rawAccount{
			{Currency: "BTC", Balance: "1.5", Available: "1.2"},
			{Currency: "USD", Balance: "10000", Available: "8000"},
		})
	})

	balances, err := d.WalletBalances()
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "btc", balances[0].Currency, "currencies are normalized to lower case")
	assert.Equal(t, 1.5, balances[0].Amount)
	assert.Equal(t, 8000.0, balances[1].Available)
}

func TestStopOrderDirection(t *testing.T) {
	var payloads []map[string]interface{}
	d := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		var p map[string]interface{}
		json.NewDecoder(r.Body).Decode(&p)
		payloads = append(payloads, p)
		writeJSON(w, rawOrder{ID: "s1", Side: p["side"].(string), Size: "1", Status: "pending", Type: "market", Stop: p["stop"].(string)})
	})

	sell, err := d.StopOrder("BTC-USD", 1, 29000, api.Sell, "")
	require.NoError(t, err)
	buy, err := d.StopOrder("BTC-USD", 1, 31000, api.Buy, "")
	require.NoError(t, err)

	assert.Equal(t, "loss", payloads[0]["stop"], "sell stops protect the downside")
	assert.Equal(t, "entry", payloads[1]["stop"], "buy stops arm above the market")
	assert.Equal(t, "29000", payloads[0]["stop_price"])
	assert.Equal(t, "stop_market", sell.Type)
	assert.True(t, buy.Open)
}

func TestCancelOrdersTolerant(t *testing.T) {
	var deleted []string
	d := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		id := r.URL.Path[len("/orders/"):]
		if id == "bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		deleted = append(deleted, id)
		writeJSON(w, []string{id})
	})

	err := d.CancelOrders([]api.Order{{ID: "1"}, {ID: "bad"}, {ID: "3"}})
	require.NoError(t, err, "one failed cancel must not abort the batch")
	assert.Equal(t, []string{"1", "3"}, deleted)
}

func TestOrderDegradedFallback(t *testing.T) {
	d := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	got, err := d.Order(api.Order{ID: "gone", Side: api.Buy, Amount: 2})
	require.NoError(t, err, "lookup failure degrades instead of erroring")
	assert.Equal(t, "gone", got.ID)
	assert.False(t, got.Open)
	assert.False(t, got.Filled)
	assert.Equal(t, 2.0, got.Executed)
	assert.Equal(t, 0.0, got.Remaining)
}

func TestUpdateOrderPriceCancelReplace(t *testing.T) {
	var requests []string
	d := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodGet:
			writeJSON(w, rawOrder{ID: "old", Side: "buy", Size: "1.5", Status: "open",
				Type: "limit", Price: "30000", PostOnly: true, ProductID: "BTC-USD"})
		case r.Method == http.MethodDelete:
			writeJSON(w, []string{"old"})
		default:
			var p map[string]interface{}
			json.NewDecoder(r.Body).Decode(&p)
			assert.Equal(t, "31000", p["price"])
			assert.Equal(t, "1.5", p["size"])
			assert.Equal(t, true, p["post_only"], "replacement keeps the original post-only flag")
			writeJSON(w, rawOrder{ID: "new", Side: "buy", Size: "1.5", Status: "open", Type: "limit", Price: "31000"})
		}
	})

	updated, err := d.UpdateOrderPrice(api.Order{ID: "old", Side: api.Buy}, 31000)
	require.NoError(t, err)
	assert.Equal(t, "new", updated.ID, "cancel+replace yields a fresh order id")
	assert.Equal(t, []string{
		"GET /orders/old",
		"DELETE /orders/old",
		"POST /orders",
	}, requests)
}

func TestUpdateStopOrderReplacesAsStop(t *testing.T) {
	var replacement map[string]interface{}
	d := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, rawOrder{ID: "old", Side: "sell", Size: "2", Status: "active",
				Type: "market", Stop: "loss", StopPrice: "29000", ProductID: "BTC-USD"})
		case http.MethodDelete:
			writeJSON(w, []string{"old"})
		default:
			json.NewDecoder(r.Body).Decode(&replacement)
			writeJSON(w, rawOrder{ID: "new", Side: "sell", Size: "2", Status: "pending", Type: "market", Stop: "loss"})
		}
	})

	_, err := d.UpdateOrderPrice(api.Order{ID: "old", Side: api.Sell}, 28500)
	require.NoError(t, err)
	assert.Equal(t, "loss", replacement["stop"], "a stop order is replaced as a stop, not a limit")
	assert.Equal(t, "28500", replacement["stop_price"])
}

func TestActiveOrdersSideFilter(t *testing.T) {
	d := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTC-USD", r.URL.Query().Get("product_id"))
		writeJSON(w, []rawOrder{
			{ID: "1", Side: "buy", Size: "1", Status: "open", Type: "limit"},
			{ID: "2", Side: "sell", Size: "1", Status: "open", Type: "limit"},
		})
	})

	sells, err := d.ActiveOrders("BTC-USD", api.Sell)
	require.NoError(t, err)
	require.Len(t, sells, 1)
	assert.Equal(t, "2", sells[0].ID)

	all, err := d.ActiveOrders("BTC-USD", api.SideAll)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAddSymbolAndDetails(t *testing.T) {
	d := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []productInfo{
			{ID: "BTC-USD", BaseMinSize: "0.001", BaseIncrement: "0.00000001", QuoteIncrement: "0.01"},
		})
	})

	require.NoError(t, d.AddSymbol("btc-usd"))
	info, err := d.SymbolDetails("BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 0.001, info.MinOrderSize)
	assert.Equal(t, 8, info.AssetPrecision)
	assert.Equal(t, 2, info.PricePrecision)

	// 未知符号不致命
	assert.NoError(t, d.AddSymbol("NOPE-USD"))
	_, err = d.SymbolDetails("NOPE-USD")
	assert.Error(t, err)
}

func TestRemapOrder(t *testing.T) {
	stop := remapOrder(rawOrder{ID: "1", Side: "sell", Size: "2", FilledSize: "0", Status: "active", Type: "market", Stop: "loss"})
	assert.Equal(t, "stop_market", stop.Type)
	assert.True(t, stop.Open)

	filled := remapOrder(rawOrder{ID: "2", Side: "buy", Size: "2", FilledSize: "2", Status: "done", Type: "limit"})
	assert.True(t, filled.Filled)
	assert.False(t, filled.Open)
	assert.Equal(t, 0.0, filled.Remaining)

	empty := remapOrder(rawOrder{ID: "3", Side: "buy", Size: "0", FilledSize: "0", Status: "open", Type: "limit"})
	assert.False(t, empty.Filled, "zero size never counts as filled")
}

func TestDecimalsOfStep(t *testing.T) {
	cases := map[string]int{
		"1":          0,
		"0.01":       2,
		"0.00000001": 8,
		"0.250":      2,
	}
	for step, want := range cases {
		assert.Equal(t, want, decimalsOfStep(step), step)
	}
}
