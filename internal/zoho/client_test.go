package zoho_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/fiscal-sync/internal/model"
	"github.com/rezonia/fiscal-sync/internal/zoho"
)

type recorded struct {
	Method string
	Path   string
	Query  map[string][]string
	Body   map[string]interface{}
	Auth   string
	Org    string
}

type fakeBooks struct {
	mu       sync.Mutex
	requests []recorded
	handle   func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeBooks) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recorded{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Auth:   r.Header.Get("Authorization"),
		Org:    r.Header.Get("X-com-zoho-books-organizationid"),
	}
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			_ = json.Unmarshal(data, &rec.Body)
		}
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()
	f.handle(w, r)
}

func newBooks(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) (*zoho.Books, *fakeBooks) {
	t.Helper()
	fake := &fakeBooks{handle: handle}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c := zoho.NewClient(zoho.WithBaseURL(srv.URL+"/books/v3"), zoho.WithRateLimit(0))
	return c.Books("org-1", "tok-1"), fake
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestListBills(t *testing.T) {
	books, fake := newBooks(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"code":0,"bills":[{"bill_id":"b1","bill_number":"A-1","vendor_name":"Proveedora","date":"2024-03-05","total":1000.5,"status":"open"}]}`)
	})

	total := decimal.RequireFromString("1000.50")
	bills, err := books.ListBills(context.Background(), model.BillFilter{VendorName: "Proveedora", Total: &total})
	require.NoError(t, err)
	require.Len(t, bills, 1)

	assert.Equal(t, "b1", bills[0].ID)
	assert.True(t, bills[0].Total.Equal(total))
	assert.Equal(t, "2024-03-05", bills[0].Date.Format(model.DateLayout))

	req := fake.requests[0]
	assert.Equal(t, "/books/v3/bills", req.Path)
	assert.Equal(t, []string{"Proveedora"}, req.Query["vendor_name"])
	assert.Equal(t, []string{"1000.5"}, req.Query["total"])
	assert.Equal(t, []string{"org-1"}, req.Query["organization_id"])
	assert.Equal(t, "Zoho-oauthtoken tok-1", req.Auth)
	assert.Equal(t, "org-1", req.Org)
}

func TestUnauthorized(t *testing.T) {
	books, _ := newBooks(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"code":57,"message":"You are not authorized to perform this operation"}`)
	})

	_, err := books.ListBills(context.Background(), model.BillFilter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	var apiErr *zoho.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 57, apiErr.Code)
	assert.False(t, apiErr.Retryable())
}

func TestServerErrorIsRetryable(t *testing.T) {
	books, _ := newBooks(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := books.ListTaxes(context.Background())
	var apiErr *zoho.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable())
	assert.NotErrorIs(t, err, model.ErrUnauthorized)
}

func TestSearchOrCreateVendor_Existing(t *testing.T) {
	books, fake := newBooks(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"contacts":[{"contact_id":"c0","contact_type":"customer"},{"contact_id":"c1","contact_type":"vendor"}]}`)
	})

	id, err := books.SearchOrCreateVendor(context.Background(), "Proveedora")
	require.NoError(t, err)
	assert.Equal(t, "c1", id)
	assert.Len(t, fake.requests, 1)
	assert.Equal(t, []string{"Proveedora"}, fake.requests[0].Query["contact_name_contains"])
}

func TestSearchOrCreateVendor_Creates(t *testing.T) {
	books, fake := newBooks(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, `{"contacts":[]}`)
			return
		}
		writeJSON(w, http.StatusCreated, `{"contact":{"contact_id":"new-1","contact_type":"vendor"}}`)
	})

	id, err := books.SearchOrCreateVendor(context.Background(), "Proveedora")
	require.NoError(t, err)
	assert.Equal(t, "new-1", id)
	require.Len(t, fake.requests, 2)
	assert.Equal(t, "Proveedora (Vendor)", fake.requests[1].Body["contact_name"])
	assert.Equal(t, "vendor", fake.requests[1].Body["contact_type"])
}

func TestSearchOrCreateItem_PromotesSalesItem(t *testing.T) {
	books, fake := newBooks(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, `{"items":[{"item_id":"i1","name":"Widget","item_type":"sales"}]}`)
		case http.MethodPut:
			writeJSON(w, http.StatusOK, `{"item":{"item_id":"i1"}}`)
		}
	})

	id, err := books.SearchOrCreateItem(context.Background(), "Widget")
	require.NoError(t, err)
	assert.Equal(t, "i1", id)
	require.Len(t, fake.requests, 2)
	assert.Equal(t, "/books/v3/items/i1", fake.requests[1].Path)
	assert.Equal(t, "sales_and_purchases", fake.requests[1].Body["item_type"])
}

func TestSearchOrCreateItem_CreatesTruncated(t *testing.T) {
	books, fake := newBooks(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, `{"items":[]}`)
			return
		}
		writeJSON(w, http.StatusCreated, `{"item":{"item_id":"i2"}}`)
	})

	long := strings.Repeat("ñ", 150)
	id, err := books.SearchOrCreateItem(context.Background(), long)
	require.NoError(t, err)
	assert.Equal(t, "i2", id)

	name := fake.requests[1].Body["name"].(string)
	assert.Equal(t, 99, len([]rune(name)))
	assert.Equal(t, name, fake.requests[0].Query["name_startswith"][0])
}

func TestTruncateItemName(t *testing.T) {
	assert.Equal(t, "short", zoho.TruncateItemName("  short "))
	assert.Len(t, []rune(zoho.TruncateItemName(strings.Repeat("a", 120))), zoho.MaxItemNameLength)
}

func TestTaxCache(t *testing.T) {
	books, fake := newBooks(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, `{"taxes":[{"tax_id":"t16","tax_name":"IVA 16","tax_percentage":16}]}`)
			return
		}
		writeJSON(w, http.StatusCreated, `{"tax":{"tax_id":"t8","tax_name":"IEPS","tax_percentage":8}}`)
	})
	cache := zoho.NewTaxCache(books)
	ctx := context.Background()

	id, err := cache.FindOrCreate(ctx, model.TaxKey{Category: model.TaxIVA, Rate: decimal.RequireFromString("16.000000")})
	require.NoError(t, err)
	assert.Equal(t, "t16", id)

	id, err = cache.FindOrCreate(ctx, model.TaxKey{Category: model.TaxIEPS, Rate: decimal.NewFromInt(8)})
	require.NoError(t, err)
	assert.Equal(t, "t8", id)

	// Created tax is cached and the list is loaded once
	id, err = cache.FindOrCreate(ctx, model.TaxKey{Category: model.TaxIEPS, Rate: decimal.NewFromInt(8)})
	require.NoError(t, err)
	assert.Equal(t, "t8", id)
	require.Len(t, fake.requests, 2)
	assert.Equal(t, "rate", fake.requests[1].Body["tax_factor"])
	assert.Equal(t, "tax", fake.requests[1].Body["tax_type"])
}

func TestCreateBill(t *testing.T) {
	books, fake := newBooks(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, `{"bill":{"bill_id":"b9","bill_number":"A-1","total":"116.00"}}`)
	})

	bill, err := books.CreateBill(context.Background(), zoho.BillInput{
		VendorID:   "v1",
		BillNumber: "A-1",
		Date:       "2024-03-05",
		LineItems:  []zoho.BillLine{{ItemID: "i1", Quantity: decimal.NewFromInt(1), Rate: decimal.NewFromInt(100), TaxID: "t16"}},
		CustomFields: []model.CustomField{
			{Label: model.FieldDocumentID, Value: "uuid-1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "b9", bill.ID)
	assert.True(t, bill.Total.Equal(decimal.NewFromInt(116)))

	body := fake.requests[0].Body
	assert.Equal(t, "v1", body["vendor_id"])
	assert.Len(t, body["line_items"], 1)
}

func TestCreateBill_Rejected(t *testing.T) {
	books, _ := newBooks(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"code":13011,"message":"Bill number already exists"}`)
	})

	_, err := books.CreateBill(context.Background(), zoho.BillInput{})
	var apiErr *zoho.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Bill number already exists", apiErr.Message)
}

func TestRefreshAccessToken(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		writeJSON(w, http.StatusOK, `{"access_token":"fresh","expires_in":3600}`)
	}))
	defer srv.Close()

	c := zoho.NewClient(zoho.WithAccountsURL(srv.URL), zoho.WithRateLimit(0))
	tok, err := c.RefreshAccessToken(context.Background(), model.LedgerIntegration{ClientID: "id", ClientSecret: "secret", RefreshToken: "r-1"})
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, []string{"refresh_token"}, form["grant_type"])
	assert.Equal(t, []string{"r-1"}, form["refresh_token"])
}

func TestRefreshAccessToken_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"error":"invalid_code"}`)
	}))
	defer srv.Close()

	c := zoho.NewClient(zoho.WithAccountsURL(srv.URL), zoho.WithRateLimit(0))
	_, err := c.RefreshAccessToken(context.Background(), model.LedgerIntegration{RefreshToken: "r-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_code")

	_, err = c.RefreshAccessToken(context.Background(), model.LedgerIntegration{})
	assert.Error(t, err)
}
