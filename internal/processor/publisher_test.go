package processor_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/fiscal-sync/internal/ledger"
	"github.com/rezonia/fiscal-sync/internal/model"
	"github.com/rezonia/fiscal-sync/internal/processor"
	"github.com/rezonia/fiscal-sync/internal/tokens"
	"github.com/rezonia/fiscal-sync/internal/zoho"
)

type booksCall struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]interface{}
}

type fakeLedgerAPI struct {
	mu           sync.Mutex
	calls        []booksCall
	unauthorized bool
}

func (f *fakeLedgerAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	call := booksCall{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization")}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &call.Body)
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	reply := func(status int, body string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
	if f.unauthorized {
		reply(http.StatusUnauthorized, `{"code":57,"message":"not authorized"}`)
		return
	}

	switch r.Method + " " + r.URL.Path {
	case "GET /books/v3/bills":
		if r.URL.Query().Get("vendor_name") == "PROVEEDORA DEL NORTE" {
			reply(http.StatusOK, `{"bills":[{"bill_id":"existing","vendor_name":"Proveedora del Norte","date":"2024-01-17","total":500}]}`)
			return
		}
		reply(http.StatusOK, `{"bills":[]}`)
	case "GET /books/v3/contacts":
		reply(http.StatusOK, `{"contacts":[{"contact_id":"v1","contact_type":"vendor"}]}`)
	case "GET /books/v3/items":
		reply(http.StatusOK, `{"items":[]}`)
	case "POST /books/v3/items":
		reply(http.StatusCreated, `{"item":{"item_id":"i1","item_type":"sales_and_purchases"}}`)
	case "GET /books/v3/settings/taxes":
		reply(http.StatusOK, `{"taxes":[{"tax_id":"t16","tax_name":"IVA","tax_percentage":16}]}`)
	case "POST /books/v3/bills":
		reply(http.StatusCreated, `{"bill":{"bill_id":"bill-9"}}`)
	default:
		reply(http.StatusNotFound, `{"code":404,"message":"unexpected"}`)
	}
}

func (f *fakeLedgerAPI) posted(path string) []booksCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []booksCall
	for _, c := range f.calls {
		if c.Method == http.MethodPost && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func invoice(vendor, docID string, rate string, day int) model.InvoiceRecord {
	iva := model.TaxKey{Category: model.TaxIVA, Rate: decimal.NewFromInt(16)}
	r := decimal.RequireFromString(rate)
	return model.InvoiceRecord{
		VendorName:  vendor,
		VendorTaxID: "PNO010101AAA",
		Folio:       "F-" + docID,
		Date:        time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Total:       r.Mul(decimal.RequireFromString("1.16")),
		LineItems: []model.LineItem{
			{Description: "Servicio", Quantity: decimal.NewFromInt(1), Rate: r, Taxes: []model.TaxKey{iva}},
		},
		Taxes: []model.TaxTotal{
			{Category: model.TaxIVA, Rate: decimal.NewFromInt(16), Amount: r.Mul(decimal.RequireFromString("0.16"))},
		},
		CustomFields: []model.CustomField{
			{Label: model.FieldDocumentID, Value: docID},
			{Label: model.FieldUsage, Value: "G03"},
		},
	}
}

var ledgerProfile = model.TaxpayerProfile{
	RFC:    "AAA010101AAA",
	Tenant: "acme",
	Ledger: model.LedgerIntegration{
		OrgID:           "org-1",
		AccessToken:     "tok-1",
		RefreshToken:    "refresh",
		LastRefreshTime: time.Now(),
	},
}

func newPublisher(t *testing.T, api *fakeLedgerAPI) (*processor.Publisher, *ledger.Ledger) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	client := zoho.NewClient(zoho.WithBaseURL(srv.URL+"/books/v3"), zoho.WithAccountsURL(srv.URL+"/oauth"), zoho.WithRateLimit(0))
	ctrl := tokens.NewController(client, tokens.NewMemoryStore())
	lg := ledger.New(ledger.NewMemoryStore())

	_, err := lg.Commit(context.Background(), "batch-1", "acme", january(), []model.InvoiceRecord{
		invoice("PROVEEDORA DEL NORTE", "uuid-a", "500", 15),
		invoice("OTRO PROVEEDOR", "uuid-b", "200", 20),
	})
	require.NoError(t, err)
	return processor.NewPublisher(lg, client, ctrl), lg
}

func TestPublish_CreatesBillsAndSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	api := &fakeLedgerAPI{}
	pub, lg := newPublisher(t, api)

	report, err := pub.Publish(ctx, ledgerProfile, "batch-1")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Items, 2)
	assert.Equal(t, processor.PublishDuplicate, report.Items[0].Status)
	assert.Equal(t, "existing", report.Items[0].BillID)
	assert.Equal(t, processor.PublishCreated, report.Items[1].Status)
	assert.Equal(t, "bill-9", report.Items[1].BillID)

	bills := api.posted("/books/v3/bills")
	require.Len(t, bills, 1)
	body := bills[0].Body
	assert.Equal(t, "Zoho-oauthtoken tok-1", bills[0].Auth)
	assert.Equal(t, "v1", body["vendor_id"])
	assert.Equal(t, "F-uuid-b", body["bill_number"])
	assert.Equal(t, "2024-01-20", body["date"])

	lines := body["line_items"].([]interface{})
	require.Len(t, lines, 1)
	assert.Equal(t, "i1", lines[0].(map[string]interface{})["item_id"])
	assert.Equal(t, "t16", lines[0].(map[string]interface{})["tax_id"])

	taxes := body["taxes"].([]interface{})
	require.Len(t, taxes, 1)
	assert.Equal(t, "IVA (16%)", taxes[0].(map[string]interface{})["tax_name"])

	records, err := lg.Records(ctx, "batch-1")
	require.NoError(t, err)
	for _, r := range records {
		assert.Equal(t, model.DeliverySent, r.Status, r.DocumentID)
	}
}

func TestPublish_TaxAmountsRoundedToCents(t *testing.T) {
	api := &fakeLedgerAPI{}
	pub, lg := newPublisher(t, api)

	_, err := lg.Commit(context.Background(), "batch-2", "acme", january(), []model.InvoiceRecord{
		invoice("OTRO PROVEEDOR", "uuid-c", "333.333", 22),
	})
	require.NoError(t, err)

	report, err := pub.Publish(context.Background(), ledgerProfile, "batch-2")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)

	bills := api.posted("/books/v3/bills")
	require.Len(t, bills, 1)
	taxes, ok := bills[0].Body["taxes"].([]interface{})
	require.True(t, ok)
	require.Len(t, taxes, 1)
	// 333.333 * 0.16 = 53.33328
	assert.Equal(t, "53.33", fmt.Sprint(taxes[0].(map[string]interface{})["tax_amount"]))
}

func TestPublish_SecondRunSkipsSentRecords(t *testing.T) {
	ctx := context.Background()
	api := &fakeLedgerAPI{}
	pub, _ := newPublisher(t, api)

	_, err := pub.Publish(ctx, ledgerProfile, "batch-1")
	require.NoError(t, err)

	report, err := pub.Publish(ctx, ledgerProfile, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Skipped)
	assert.Len(t, api.posted("/books/v3/bills"), 1)
}

func TestPublish_UnauthorizedStopsRun(t *testing.T) {
	api := &fakeLedgerAPI{unauthorized: true}
	pub, lg := newPublisher(t, api)

	report, err := pub.Publish(context.Background(), ledgerProfile, "batch-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, report.Items, 1)

	records, err := lg.Records(context.Background(), "batch-1")
	require.NoError(t, err)
	for _, r := range records {
		assert.Equal(t, model.DeliveryNotSent, r.Status)
	}
}

func TestPublish_Errors(t *testing.T) {
	pub, _ := newPublisher(t, &fakeLedgerAPI{})

	_, err := pub.Publish(context.Background(), ledgerProfile, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	unconfigured := model.TaxpayerProfile{RFC: "AAA010101AAA", Tenant: "acme"}
	_, err = pub.Publish(context.Background(), unconfigured, "batch-1")
	assert.ErrorIs(t, err, processor.ErrLedgerNotConfigured)
}

func TestCheck_ReportsExistingBills(t *testing.T) {
	api := &fakeLedgerAPI{}
	pub, _ := newPublisher(t, api)

	results, err := pub.Check(context.Background(), ledgerProfile, "batch-1")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "uuid-a", results[0].DocumentID)
	assert.True(t, results[0].Exists)
	assert.Equal(t, "existing", results[0].BillID)
	assert.Equal(t, "uuid-b", results[1].DocumentID)
	assert.False(t, results[1].Exists)

	assert.Empty(t, api.posted("/books/v3/bills"), "checking never writes")
}
