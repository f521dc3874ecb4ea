package cfdi

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	dec "github.com/rezonia/fiscal-sync/internal/decimal"
	"github.com/rezonia/fiscal-sync/internal/logger"
	"github.com/rezonia/fiscal-sync/internal/model"
)

// Perspective selects which party block is treated as the vendor
type Perspective int

const (
	// Received documents name the issuer as vendor
	Received Perspective = iota
	// Issued documents name the recipient as vendor
	Issued
)

// Extractor turns stamped documents into InvoiceRecords
type Extractor struct {
	perspective Perspective
	log         logrus.FieldLogger
}

// Option configures the extractor
type Option func(*Extractor)

// WithPerspective sets which party is the vendor
func WithPerspective(p Perspective) Option {
	return func(e *Extractor) {
		e.perspective = p
	}
}

// WithLogger sets the logger used for per-item failures
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Extractor) {
		e.log = l
	}
}

// NewExtractor creates an extractor reading received documents by default
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{perspective: Received}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logger.OrDiscard(e.log)
	return e
}

// Extract parses one document. Non-income documents return (nil, nil).
func (e *Extractor) Extract(ctx context.Context, r io.Reader) (*model.InvoiceRecord, error) {
	return e.extract(ctx, "", r)
}

// ExtractFile parses one document from disk
func (e *Extractor) ExtractFile(ctx context.Context, path string) (*model.InvoiceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, model.NewExtractError(path, "file", "failed to open document", err)
	}
	defer f.Close()
	return e.extract(ctx, path, f)
}

// ExtractDir parses every .xml file directly under dir, in name order.
// One bad document never stops its siblings; only cancellation does.
func (e *Extractor) ExtractDir(ctx context.Context, dir string) (*model.ExtractReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".xml") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	report := &model.ExtractReport{Items: make([]model.ItemResult, 0, len(names))}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		path := filepath.Join(dir, name)
		inv, err := e.ExtractFile(ctx, path)
		switch {
		case err != nil:
			e.log.WithFields(logrus.Fields{"path": path}).WithError(err).Warn("skipping malformed document")
			report.Add(model.ItemResult{Path: path, Err: err})
		case inv == nil:
			report.Add(model.ItemResult{Path: path, Skipped: true})
		default:
			report.Add(model.ItemResult{Path: path, Invoice: inv})
		}
	}
	return report, nil
}

func (e *Extractor) extract(ctx context.Context, path string, r io.Reader) (*model.InvoiceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc comprobante
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, model.NewExtractError(path, "xml", "failed to parse XML", err)
	}
	if doc.XMLName.Local != "Comprobante" || !supportedNamespace(doc.XMLName.Space) {
		return nil, model.NewExtractError(path, "root", "not a Comprobante in a supported namespace: {"+doc.XMLName.Space+"}"+doc.XMLName.Local, nil)
	}
	if doc.TipoDeComprobante != TypeIncome {
		return nil, nil
	}
	return e.convert(path, &doc)
}

func (e *Extractor) convert(path string, doc *comprobante) (*model.InvoiceRecord, error) {
	vendor := doc.Emisor
	if e.perspective == Issued {
		vendor = doc.Receptor
	}
	if vendor.Rfc == "" {
		return nil, model.NewExtractError(path, "Rfc", "vendor RFC is missing", nil)
	}

	date, err := parseDate(doc.Fecha)
	if err != nil {
		return nil, model.NewExtractError(path, "Fecha", "invalid date "+doc.Fecha, err)
	}

	uuid := doc.stampUUID()
	if uuid == "" {
		return nil, model.NewExtractError(path, "TimbreFiscalDigital", "fiscal stamp UUID is missing", nil)
	}

	total, err := dec.FromString(doc.Total)
	if err != nil {
		return nil, model.NewExtractError(path, "Total", "invalid total "+doc.Total, err)
	}

	result := &model.InvoiceRecord{
		VendorName:  vendor.Nombre,
		VendorTaxID: vendor.Rfc,
		Folio:       doc.Folio,
		Date:        date,
		Total:       total,
		LineItems:   make([]model.LineItem, 0, len(doc.Conceptos)),
		Taxes:       []model.TaxTotal{},
		CustomFields: []model.CustomField{
			{Label: model.FieldDocumentID, Value: uuid},
			{Label: model.FieldUsage, Value: doc.Receptor.UsoCFDI},
		},
	}
	if result.VendorName == "" {
		result.VendorName = vendor.Rfc
	}
	if result.Folio == "" {
		result.Folio = defaultFolio
	}

	acc := newTaxAccumulator()
	for i, c := range doc.Conceptos {
		item, err := convertConcepto(path, i, c, acc)
		if err != nil {
			return nil, err
		}
		result.LineItems = append(result.LineItems, item)
	}
	result.Taxes = acc.totals()

	return result, nil
}

func convertConcepto(path string, idx int, c concepto, acc *taxAccumulator) (model.LineItem, error) {
	qty, err := dec.FromString(c.Cantidad)
	if err != nil {
		return model.LineItem{}, model.NewExtractError(path, fieldAt("Cantidad", idx), "invalid quantity "+c.Cantidad, err)
	}
	rate, err := dec.FromString(c.ValorUnitario)
	if err != nil {
		return model.LineItem{}, model.NewExtractError(path, fieldAt("ValorUnitario", idx), "invalid unit value "+c.ValorUnitario, err)
	}

	item := model.LineItem{
		Description: c.Descripcion,
		Quantity:    qty,
		Rate:        rate,
	}

	for _, t := range c.Traslados {
		fraction, err := dec.OrZero(t.TasaOCuota)
		if err != nil {
			return model.LineItem{}, model.NewExtractError(path, fieldAt("TasaOCuota", idx), "invalid rate "+t.TasaOCuota, err)
		}
		amount, err := dec.OrZero(t.Importe)
		if err != nil {
			return model.LineItem{}, model.NewExtractError(path, fieldAt("Importe", idx), "invalid tax amount "+t.Importe, err)
		}

		percent := dec.RatePercent(fraction)
		if percent.IsZero() || amount.IsZero() {
			continue
		}

		key := model.TaxKey{Category: model.TaxCategoryFromCode(t.Impuesto), Rate: percent}
		acc.add(key, amount)
		item.Taxes = append(item.Taxes, key)
	}

	return item, nil
}

func fieldAt(attr string, idx int) string {
	return "Concepto[" + strconv.Itoa(idx) + "]." + attr
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	t, err := time.Parse(dateTimeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return model.TruncateDate(t), nil
}

// taxAccumulator keeps one total per (category, rate) in first-seen order
type taxAccumulator struct {
	entries []model.TaxTotal
}

func newTaxAccumulator() *taxAccumulator {
	return &taxAccumulator{}
}

func (a *taxAccumulator) add(key model.TaxKey, amount decimal.Decimal) {
	for i := range a.entries {
		if a.entries[i].Key().Equal(key) {
			a.entries[i].Amount = a.entries[i].Amount.Add(amount)
			return
		}
	}
	a.entries = append(a.entries, model.TaxTotal{Category: key.Category, Rate: key.Rate, Amount: amount})
}

func (a *taxAccumulator) totals() []model.TaxTotal {
	out := make([]model.TaxTotal, len(a.entries))
	copy(out, a.entries)
	return out
}
