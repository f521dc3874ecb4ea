package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/fiscal-sync/internal/config"
	"github.com/rezonia/fiscal-sync/internal/model"
)

func TestRenderTo(t *testing.T) {
	defer func(f string) { outputFormat = f }(outputFormat)
	rows := []string{"a", "b"}
	table := func(tw *tabwriter.Writer) {
		for _, r := range rows {
			_, _ = tw.Write([]byte("ROW\t" + r + "\n"))
		}
	}

	var buf bytes.Buffer
	outputFormat = "json"
	require.NoError(t, renderTo(&buf, rows, table))
	assert.JSONEq(t, `["a","b"]`, buf.String())

	buf.Reset()
	outputFormat = "table"
	require.NoError(t, renderTo(&buf, rows, table))
	assert.Equal(t, "ROW  a\nROW  b\n", buf.String())

	outputFormat = "csv"
	assert.Error(t, renderTo(&buf, rows, table))
}

func TestInvoiceTable(t *testing.T) {
	inv := model.InvoiceRecord{
		VendorName:  "PROVEEDOR SA",
		VendorTaxID: "PRO010101AAA",
		Folio:       "F-10",
		Date:        time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		Total:       decimal.RequireFromString("232"),
		LineItems: []model.LineItem{
			{Description: "Servicio", Quantity: decimal.NewFromInt(2), Rate: decimal.NewFromInt(100)},
		},
		Taxes: []model.TaxTotal{
			{Category: model.TaxIVA, Rate: decimal.RequireFromString("0.16"), Amount: decimal.NewFromInt(32)},
		},
		CustomFields: []model.CustomField{{Label: model.FieldDocumentID, Value: "uuid-1"}},
	}

	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	invoiceTable(tw, []model.InvoiceRecord{inv})
	require.NoError(t, tw.Flush())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"UUID", "FOLIO", "DATE", "VENDOR", "RFC", "SUBTOTAL", "TAX", "TOTAL"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"uuid-1", "F-10", "2024-01-05", "PROVEEDOR", "SA", "PRO010101AAA", "200.00", "32.00", "232.00"},
		strings.Fields(lines[2]))
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "REQ-1")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	for _, name := range []string{"a.xml", "b.XML", "c.zip"} {
		require.NoError(t, os.WriteFile(filepath.Join(sub, name), []byte("x"), 0o644))
	}
	single := filepath.Join(dir, "d.txt")
	require.NoError(t, os.WriteFile(single, []byte("x"), 0o644))

	files, err := collectFiles([]string{dir})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join(sub, "a.xml"), filepath.Join(sub, "b.XML")}, files)

	files, err = collectFiles([]string{single})
	require.NoError(t, err)
	assert.Equal(t, []string{single}, files)

	_, err = collectFiles([]string{filepath.Join(dir, "missing.xml")})
	assert.Error(t, err)
}

func TestFirstPositive(t *testing.T) {
	assert.Equal(t, 7, firstPositive(0, 7, 4))
	assert.Equal(t, 4, firstPositive(0, -1, 4))
	assert.Equal(t, 0, firstPositive())
}

func TestSyncRange(t *testing.T) {
	defer func() { syncDays, syncStart, syncEnd = 0, "", "" }()

	syncDays = 3
	r, err := syncRange()
	require.NoError(t, err)
	assert.Equal(t, 4, r.Days())

	syncDays = 0
	_, err = syncRange()
	assert.Error(t, err)

	syncStart, syncEnd = "2024-01-01", "2024-01-31"
	r, err = syncRange()
	require.NoError(t, err)
	assert.Equal(t, "2024-01-31", r.End.Format("2006-01-02"))
}

func TestServerConfig(t *testing.T) {
	defer func(addr string, r, w time.Duration) {
		serverAddr, readTimeout, writeTimeout = addr, r, w
	}(serverAddr, readTimeout, writeTimeout)

	env := config.ServerConfig{Port: 8080, ReadTimeout: 15 * time.Second, WriteTimeout: 45 * time.Second}

	serverAddr, readTimeout, writeTimeout = "", 0, 0
	sc := serverConfig(env)
	assert.Equal(t, ":8080", sc.Address)
	assert.Equal(t, 15*time.Second, sc.ReadTimeout)
	assert.Equal(t, 45*time.Second, sc.WriteTimeout)

	serverAddr, readTimeout, writeTimeout = ":9090", time.Second, 2*time.Second
	sc = serverConfig(env)
	assert.Equal(t, ":9090", sc.Address)
	assert.Equal(t, time.Second, sc.ReadTimeout)
	assert.Equal(t, 2*time.Second, sc.WriteTimeout)
}
