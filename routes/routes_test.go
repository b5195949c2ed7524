package routes

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b-open-io/cellindex/indexer"
	"github.com/b-open-io/cellindex/internal/chaintest"
	"github.com/b-open-io/cellindex/pending"
	"github.com/b-open-io/cellindex/pubsub"
	"github.com/b-open-io/cellindex/subscriber"
	"github.com/b-open-io/cellindex/types"
	"github.com/b-open-io/cellindex/ulogger"
)

var (
	alice = chaintest.LockScript("0xa1")
	bob   = chaintest.LockScript("0xb0")

	alicePath = "/" + chaintest.LockCodeHash + "/type/0xa1"
)

func setup(t *testing.T) (*chaintest.Chain, *pending.Manager, *fiber.App) {
	t.Helper()
	chain := chaintest.New()
	idx := indexer.New(chain, chain, indexer.WithLogger(ulogger.TestLogger{}))
	m := pending.NewManager(chain, idx, pending.WithLogger(ulogger.TestLogger{}))

	app := NewApp()
	RegisterRoutes(app, &RoutesConfig{Pending: m, Logger: ulogger.TestLogger{}})
	RegisterTransactionRoutes(app, &TransactionRoutesConfig{Pending: m, Logger: ulogger.TestLogger{}})
	return chain, m, app
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func getCells(t *testing.T, app *fiber.App, path string) []types.Cell {
	t.Helper()
	status, body := do(t, app, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, status, string(body))
	var cells []types.Cell
	require.NoError(t, json.Unmarshal(body, &cells))
	return cells
}

func cellKeys(cells []types.Cell) []string {
	keys := make([]string, len(cells))
	for k := range cells {
		keys[k] = cells[k].Key()
	}
	return keys
}

func TestCellsRoute(t *testing.T) {
	chain, m, app := setup(t)
	c1 := chain.AddCell(chaintest.Confirmed(alice, 1, 0, 1))
	c2 := chain.AddCell(chaintest.Confirmed(alice, 2, 0, 2))

	assert.Equal(t, []string{c1.Key(), c2.Key()}, cellKeys(getCells(t, app, "/cells"+alicePath)))

	tx := chaintest.Transfer([]types.OutPoint{*c1.OutPoint},
		chaintest.Output(bob, 60*types.ShannonsPerCKB), chaintest.Output(alice, 39*types.ShannonsPerCKB))
	hash, err := m.SendTransaction(context.Background(), tx)
	require.NoError(t, err)
	change := types.OutPoint{TxHash: hash, Index: "0x1"}

	assert.Equal(t, []string{c2.Key(), change.Key()}, cellKeys(getCells(t, app, "/cells"+alicePath)))
	assert.Equal(t, []string{change.Key(), c2.Key()}, cellKeys(getCells(t, app, "/cells"+alicePath+"?order=desc")))
	assert.Equal(t, []string{c2.Key()}, cellKeys(getCells(t, app, "/cells"+alicePath+"?pending=false")))
	assert.Equal(t, []string{change.Key()}, cellKeys(getCells(t, app, "/cells"+alicePath+"?skip=1")))
	assert.Equal(t, []string{c2.Key()}, cellKeys(getCells(t, app, "/cells"+alicePath+"?limit=1")))
}

func TestCellsRouteTypeFilter(t *testing.T) {
	chain, _, app := setup(t)
	token := chaintest.TypeScript("0x01")
	plain := chain.AddCell(chaintest.Confirmed(alice, 1, 0, 1))
	typed := chain.AddCell(chaintest.Confirmed(alice, 2, 0, 2, chaintest.WithType(token)))

	assert.Equal(t, []string{plain.Key()}, cellKeys(getCells(t, app, "/cells"+alicePath+"?type=none")))
	assert.Equal(t, []string{typed.Key()},
		cellKeys(getCells(t, app, "/cells"+alicePath+"?type="+chaintest.TypeCodeHash+":type:0x01")))
}

func TestCellsRouteBadRequest(t *testing.T) {
	_, _, app := setup(t)

	for _, path := range []string{
		"/cells" + alicePath + "?order=sideways",
		"/cells" + alicePath + "?skip=-1",
		"/cells" + alicePath + "?type=bogus",
		"/cells/" + chaintest.LockCodeHash + "/sometimes/0xa1",
		"/balance/" + chaintest.LockCodeHash + "/sometimes/0xa1",
	} {
		status, _ := do(t, app, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, status, path)
	}
}

func TestBalanceRoute(t *testing.T) {
	chain, m, app := setup(t)
	c1 := chain.AddCell(chaintest.Confirmed(alice, 1, 0, 1))
	chain.AddCell(chaintest.Confirmed(alice, 2, 0, 2))
	chain.AddCell(chaintest.Confirmed(alice, 3, 0, 3, chaintest.WithData("0x1234")))
	chain.AddCell(chaintest.Confirmed(alice, 4, 0, 4, chaintest.WithType(chaintest.TypeScript("0x01"))))

	tx := chaintest.Transfer([]types.OutPoint{*c1.OutPoint},
		chaintest.Output(bob, 60*types.ShannonsPerCKB), chaintest.Output(alice, 39*types.ShannonsPerCKB))
	_, err := m.SendTransaction(context.Background(), tx)
	require.NoError(t, err)

	status, body := do(t, app, http.MethodGet, "/balance"+alicePath, "")
	require.Equal(t, http.StatusOK, status)

	var got struct {
		Capacity string `json:"capacity"`
		CKB      string `json:"ckb"`
		Cells    int    `json:"cells"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, types.Uint64ToHex(139*types.ShannonsPerCKB), got.Capacity)
	assert.Equal(t, "139", got.CKB)
	assert.Equal(t, 2, got.Cells)
}

func TestTransactionRoutes(t *testing.T) {
	chain, _, app := setup(t)
	c1 := chain.AddCell(chaintest.Confirmed(alice, 1, 0, 1))

	tx := chaintest.Transfer([]types.OutPoint{*c1.OutPoint}, chaintest.Output(bob, 99*types.ShannonsPerCKB))
	body, err := json.Marshal(tx)
	require.NoError(t, err)

	status, resp := do(t, app, http.MethodPost, "/transactions", string(body))
	require.Equal(t, http.StatusOK, status, string(resp))
	var sent struct {
		TxHash string `json:"tx_hash"`
	}
	require.NoError(t, json.Unmarshal(resp, &sent))
	assert.Equal(t, chaintest.Hash(chaintest.SentHashBase+1), sent.TxHash)

	status, _ = do(t, app, http.MethodPost, "/transactions", string(body))
	assert.Equal(t, http.StatusConflict, status)

	status, resp = do(t, app, http.MethodGet, "/transactions/pending", "")
	require.Equal(t, http.StatusOK, status)
	var txs []types.Transaction
	require.NoError(t, json.Unmarshal(resp, &txs))
	require.Len(t, txs, 1)
	assert.Equal(t, sent.TxHash, txs[0].Hash)

	status, _ = do(t, app, http.MethodDelete, "/transactions/"+sent.TxHash, "")
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = do(t, app, http.MethodDelete, "/transactions/"+sent.TxHash, "")
	assert.Equal(t, http.StatusNotFound, status)

	// the input is free again once the transaction is dropped
	status, _ = do(t, app, http.MethodPost, "/transactions", string(body))
	assert.Equal(t, http.StatusOK, status)
}

func TestSubmitRejectsBadBodies(t *testing.T) {
	chain, _, app := setup(t)

	status, _ := do(t, app, http.MethodPost, "/transactions", "{not json")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPost, "/transactions", `{"version":"0x0","inputs":[],"outputs":[]}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Empty(t, chain.Sent)
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	cell := chaintest.Confirmed(alice, 1, 0, 7)

	require.NoError(t, writeEvent(w, subscriber.ChangeEvent{
		SubscriptionID: "sub",
		FromBlock:      "0x6",
		ToBlock:        "0x7",
		Cells:          []types.Cell{cell},
	}))

	lines := strings.Split(buf.String(), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "event: cells", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], `data: {"subscription_id":"sub","from_block":"0x6","to_block":"0x7"`))
	assert.Equal(t, "id: 0x7", lines[2])
	assert.Empty(t, lines[3])
	assert.Empty(t, lines[4])
}

func TestResumeFrom(t *testing.T) {
	assert.Equal(t, "", resumeFrom(""))
	assert.Equal(t, "", resumeFrom("yesterday"))
	assert.Equal(t, "0x8", resumeFrom("0x7"))
}

func TestSSERouteRejectsBadQuery(t *testing.T) {
	chain := chaintest.New()
	idx := indexer.New(chain, chain, indexer.WithLogger(ulogger.TestLogger{}))
	ps := pubsub.NewChannelPubSub(ulogger.TestLogger{})
	defer ps.Close()
	subs := subscriber.New(idx, chain, ps, subscriber.WithLogger(ulogger.TestLogger{}))

	app := NewApp()
	RegisterSSERoutes(app, &SSERoutesConfig{Subscriber: subs, Context: context.Background(), Logger: ulogger.TestLogger{}})

	status, _ := do(t, app, http.MethodGet, "/subscribe"+alicePath+"?order=sideways", "")
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = do(t, app, http.MethodGet, "/subscribe/"+chaintest.LockCodeHash+"/sometimes/0xa1", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Zero(t, subs.Subscriptions())
}
