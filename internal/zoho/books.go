package zoho

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	dec "github.com/rezonia/fiscal-sync/internal/decimal"
	"github.com/rezonia/fiscal-sync/internal/model"
)

// MaxItemNameLength is the longest item name the ledger accepts
const MaxItemNameLength = 99

type billJSON struct {
	BillID     string          `json:"bill_id"`
	BillNumber string          `json:"bill_number"`
	VendorID   string          `json:"vendor_id"`
	VendorName string          `json:"vendor_name"`
	Date       string          `json:"date"`
	Total      decimal.Decimal `json:"total"`
	Status     string          `json:"status"`
}

func (b billJSON) toModel() model.Bill {
	out := model.Bill{
		ID:         b.BillID,
		Number:     b.BillNumber,
		VendorID:   b.VendorID,
		VendorName: b.VendorName,
		Total:      b.Total,
		Status:     b.Status,
	}
	if t, err := time.Parse(model.DateLayout, b.Date); err == nil {
		out.Date = t
	}
	return out
}

// ListBills lists bills filtered by vendor name and total
func (b *Books) ListBills(ctx context.Context, f model.BillFilter) ([]model.Bill, error) {
	q := url.Values{}
	if f.VendorName != "" {
		q.Set("vendor_name", f.VendorName)
	}
	if f.Total != nil {
		q.Set("total", f.Total.String())
	}

	var resp struct {
		Bills []billJSON `json:"bills"`
	}
	if err := b.do(ctx, "list bills", http.MethodGet, "/bills", q, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Bill, 0, len(resp.Bills))
	for _, bill := range resp.Bills {
		out = append(out, bill.toModel())
	}
	return out, nil
}

// BillLine is one line of a bill to create
type BillLine struct {
	ItemID   string          `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Rate     decimal.Decimal `json:"rate"`
	TaxID    string          `json:"tax_id,omitempty"`
}

// BillTax is an accumulated tax line of a bill to create
type BillTax struct {
	TaxID     string          `json:"tax_id"`
	TaxName   string          `json:"tax_name"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
}

// BillInput is the payload of CreateBill
type BillInput struct {
	VendorID     string              `json:"vendor_id"`
	BillNumber   string              `json:"bill_number"`
	Date         string              `json:"date"`
	LineItems    []BillLine          `json:"line_items"`
	Taxes        []BillTax           `json:"taxes,omitempty"`
	CustomFields []model.CustomField `json:"custom_fields,omitempty"`
}

// CreateBill records a new bill
func (b *Books) CreateBill(ctx context.Context, in BillInput) (*model.Bill, error) {
	var resp struct {
		Bill billJSON `json:"bill"`
	}
	if err := b.do(ctx, "create bill", http.MethodPost, "/bills", nil, in, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	bill := resp.Bill.toModel()
	return &bill, nil
}

type contactJSON struct {
	ContactID   string `json:"contact_id"`
	ContactName string `json:"contact_name"`
	ContactType string `json:"contact_type"`
}

// SearchOrCreateVendor returns the id of the first vendor contact whose name
// contains name, creating "<name> (Vendor)" when there is none
func (b *Books) SearchOrCreateVendor(ctx context.Context, name string) (string, error) {
	var found struct {
		Contacts []contactJSON `json:"contacts"`
	}
	q := url.Values{"contact_name_contains": {name}}
	if err := b.do(ctx, "search vendor", http.MethodGet, "/contacts", q, nil, http.StatusOK, &found); err != nil {
		return "", err
	}
	for _, c := range found.Contacts {
		if c.ContactType == "vendor" {
			return c.ContactID, nil
		}
	}

	var created struct {
		Contact contactJSON `json:"contact"`
	}
	body := map[string]string{
		"contact_name": name + " (Vendor)",
		"contact_type": "vendor",
	}
	if err := b.do(ctx, "create vendor", http.MethodPost, "/contacts", nil, body, http.StatusCreated, &created); err != nil {
		return "", err
	}
	b.client.log.WithField("vendor", name).Info("vendor contact created")
	return created.Contact.ContactID, nil
}

type itemJSON struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	ItemType string `json:"item_type"`
}

// TruncateItemName shortens a description to the ledger's item name limit
func TruncateItemName(name string) string {
	name = strings.TrimSpace(name)
	runes := []rune(name)
	if len(runes) > MaxItemNameLength {
		return string(runes[:MaxItemNameLength])
	}
	return name
}

// SearchOrCreateItem returns the first item whose name starts with name.
// Sales-only items are promoted so they can appear on bills.
func (b *Books) SearchOrCreateItem(ctx context.Context, name string) (string, error) {
	name = TruncateItemName(name)

	var found struct {
		Items []itemJSON `json:"items"`
	}
	q := url.Values{"name_startswith": {name}}
	if err := b.do(ctx, "search item", http.MethodGet, "/items", q, nil, http.StatusOK, &found); err != nil {
		return "", err
	}

	if len(found.Items) > 0 {
		item := found.Items[0]
		if item.ItemType == "sales" {
			body := map[string]string{"item_type": "sales_and_purchases"}
			if err := b.do(ctx, "update item", http.MethodPut, "/items/"+url.PathEscape(item.ItemID), nil, body, http.StatusOK, nil); err != nil {
				// The item is still usable; only its type could not be widened
				b.client.log.WithError(err).WithField("item", name).Warn("failed to promote item to sales_and_purchases")
			}
		}
		return item.ItemID, nil
	}

	var created struct {
		Item itemJSON `json:"item"`
	}
	body := map[string]interface{}{
		"name":      name,
		"item_type": "sales_and_purchases",
		"rate":      0,
	}
	if err := b.do(ctx, "create item", http.MethodPost, "/items", nil, body, http.StatusCreated, &created); err != nil {
		return "", err
	}
	return created.Item.ItemID, nil
}

// Tax is a tax rate configured in the ledger
type Tax struct {
	ID         string          `json:"tax_id"`
	Name       string          `json:"tax_name"`
	Percentage decimal.Decimal `json:"tax_percentage"`
}

// ListTaxes lists configured taxes
func (b *Books) ListTaxes(ctx context.Context) ([]Tax, error) {
	var resp struct {
		Taxes []Tax `json:"taxes"`
	}
	if err := b.do(ctx, "list taxes", http.MethodGet, "/settings/taxes", nil, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Taxes, nil
}

// CreateTax creates a rate-based tax
func (b *Books) CreateTax(ctx context.Context, name string, percentage decimal.Decimal) (*Tax, error) {
	body := map[string]interface{}{
		"tax_name":       name,
		"tax_percentage": percentage,
		"tax_type":       "tax",
		"tax_factor":     "rate",
	}
	var resp struct {
		Tax Tax `json:"tax"`
	}
	if err := b.do(ctx, "create tax", http.MethodPost, "/settings/taxes", nil, body, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	return &resp.Tax, nil
}

var taxTolerance = decimal.RequireFromString("0.01")

// TaxCache resolves tax keys to ledger tax ids for one run, loading the
// tax list once and remembering taxes it creates
type TaxCache struct {
	books  *Books
	mu     sync.Mutex
	loaded bool
	taxes  []Tax
}

// NewTaxCache creates an empty cache over b
func NewTaxCache(b *Books) *TaxCache {
	return &TaxCache{books: b}
}

// FindOrCreate returns the id of a tax whose name contains the category and
// whose percentage is within 0.01 of the key's rate
func (c *TaxCache) FindOrCreate(ctx context.Context, key model.TaxKey) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		taxes, err := c.books.ListTaxes(ctx)
		if err != nil {
			return "", err
		}
		c.taxes = taxes
		c.loaded = true
	}

	for _, t := range c.taxes {
		if strings.Contains(t.Name, string(key.Category)) && dec.WithinTolerance(t.Percentage, key.Rate, taxTolerance) {
			return t.ID, nil
		}
	}

	created, err := c.books.CreateTax(ctx, string(key.Category), key.Rate)
	if err != nil {
		return "", err
	}
	c.taxes = append(c.taxes, *created)
	c.books.client.log.WithField("tax", key.Label()).Info("tax created")
	return created.ID, nil
}
