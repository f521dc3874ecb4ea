package fiscalsync_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/fiscal-sync/pkg/fiscalsync"
)

const invoiceXML = `<?xml version="1.0" encoding="UTF-8"?>
<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" xmlns:tfd="http://www.sat.gob.mx/TimbreFiscalDigital"
	Version="4.0" Folio="77" Fecha="2024-03-05T13:45:10" SubTotal="700.00" Total="812.00" TipoDeComprobante="I">
	<cfdi:Emisor Rfc="PNO010101AAA" Nombre="PROVEEDORA DEL NORTE"/>
	<cfdi:Receptor Rfc="CLI020202BBB" Nombre="CLIENTE SA" UsoCFDI="G03"/>
	<cfdi:Conceptos>
		<cfdi:Concepto Cantidad="2" ValorUnitario="300.00" Importe="600.00" Descripcion="Widget">
			<cfdi:Impuestos>
				<cfdi:Traslados>
					<cfdi:Traslado Base="600.00" Impuesto="002" TipoFactor="Tasa" TasaOCuota="0.160000" Importe="96.00"/>
				</cfdi:Traslados>
			</cfdi:Impuestos>
		</cfdi:Concepto>
		<cfdi:Concepto Cantidad="1" ValorUnitario="400.00" Importe="400.00" Descripcion="Gadget"/>
	</cfdi:Conceptos>
	<cfdi:Complemento>
		<tfd:TimbreFiscalDigital UUID="0F0E0D0C-0000-4000-8000-000000000077"/>
	</cfdi:Complemento>
</cfdi:Comprobante>`

func TestParser_Parse(t *testing.T) {
	inv, err := fiscalsync.NewParser().Parse(context.Background(), strings.NewReader(invoiceXML))
	require.NoError(t, err)
	require.NotNil(t, inv)

	assert.Equal(t, "PROVEEDORA DEL NORTE", inv.VendorName)
	assert.Equal(t, "77", inv.Folio)
	assert.Equal(t, "0F0E0D0C-0000-4000-8000-000000000077", inv.Field(fiscalsync.FieldDocumentID))
	require.Len(t, inv.Taxes, 1)
	assert.Equal(t, fiscalsync.TaxIVA, inv.Taxes[0].Category)
}

func TestParser_Issued(t *testing.T) {
	inv, err := fiscalsync.NewParser(fiscalsync.Issued()).Parse(context.Background(), strings.NewReader(invoiceXML))
	require.NoError(t, err)
	assert.Equal(t, "CLIENTE SA", inv.VendorName)
}

func TestParser_Malformed(t *testing.T) {
	_, err := fiscalsync.NewParser().Parse(context.Background(), strings.NewReader("<not-closed"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fiscalsync.ErrMalformedDocument))
}

func TestParser_ParseDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.xml"), []byte(invoiceXML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.xml"), []byte("garbage"), 0o644))

	report, err := fiscalsync.NewParser().ParseDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, report.Invoices(), 1)
	assert.Len(t, report.Failures(), 1)
}

func TestMatches(t *testing.T) {
	inv, err := fiscalsync.NewParser().Parse(context.Background(), strings.NewReader(invoiceXML))
	require.NoError(t, err)

	bills := []fiscalsync.Bill{{
		ID:         "B1",
		VendorName: "proveedora  del norte",
		Date:       time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
		Total:      decimal.NewFromInt(700),
	}}

	assert.True(t, fiscalsync.Matches(inv, bills, 5, true))
	assert.False(t, fiscalsync.Matches(inv, bills, 5, false), "exact names are case sensitive")
	assert.False(t, fiscalsync.Matches(inv, bills, 2, true), "bill is three days away")
}

func TestParseDateRange(t *testing.T) {
	r, err := fiscalsync.ParseDateRange("2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.Equal(t, 2024, r.Start.Year())

	_, err = fiscalsync.ParseDateRange("2024-02-01", "2024-01-01")
	assert.Error(t, err)
}
