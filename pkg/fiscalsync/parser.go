package fiscalsync

import (
	"context"
	"io"

	"github.com/rezonia/fiscal-sync/internal/parser/cfdi"
	"github.com/rezonia/fiscal-sync/internal/reconcile"
)

// Parser reads stamped documents into invoice records. Non-income documents
// return a nil record and no error.
type Parser struct {
	extractor *cfdi.Extractor
}

// ParserOption configures a Parser
type ParserOption func(*parserOptions)

type parserOptions struct {
	issued bool
}

// Issued treats documents as issued by the taxpayer, so the recipient
// becomes the vendor
func Issued() ParserOption {
	return func(o *parserOptions) {
		o.issued = true
	}
}

// NewParser creates a parser for received documents unless Issued is given
func NewParser(opts ...ParserOption) *Parser {
	var o parserOptions
	for _, opt := range opts {
		opt(&o)
	}
	perspective := cfdi.Received
	if o.issued {
		perspective = cfdi.Issued
	}
	return &Parser{extractor: cfdi.NewExtractor(cfdi.WithPerspective(perspective))}
}

// Parse reads one document
func (p *Parser) Parse(ctx context.Context, r io.Reader) (*InvoiceRecord, error) {
	return p.extractor.Extract(ctx, r)
}

// ParseFile reads one document from disk
func (p *Parser) ParseFile(ctx context.Context, path string) (*InvoiceRecord, error) {
	return p.extractor.ExtractFile(ctx, path)
}

// ParseDir reads every .xml document directly under dir
func (p *Parser) ParseDir(ctx context.Context, dir string) (*ExtractReport, error) {
	return p.extractor.ExtractDir(ctx, dir)
}

// Matches reports whether one of bills is the same transaction as inv: equal
// vendor name and amount, dated within toleranceDays. With normalized set,
// vendor names are compared ignoring case and repeated whitespace.
func Matches(inv *InvoiceRecord, bills []Bill, toleranceDays int, normalized bool) bool {
	names := reconcile.ExactNames
	if normalized {
		names = reconcile.NormalizedNames
	}
	return reconcile.Matches(inv, bills, toleranceDays, names)
}
