package cfdi

import "encoding/xml"

// Namespaces a stamped income document is accepted in
const (
	NamespaceV4  = "http://www.sat.gob.mx/cfd/4"
	NamespaceV3  = "http://www.sat.gob.mx/cfd/3"
	NamespaceTFD = "http://www.sat.gob.mx/TimbreFiscalDigital"
)

// TypeIncome is the TipoDeComprobante of an income document
const TypeIncome = "I"

// dateTimeLayout is the fixed layout of the Fecha attribute
const dateTimeLayout = "2006-01-02T15:04:05"

// defaultFolio is used when the issuer left Folio empty
const defaultFolio = "N/A"

// Wire structures. Child elements are matched by local name; the root and
// stamp namespaces are checked explicitly after decoding.
type comprobante struct {
	XMLName           xml.Name
	Version           string       `xml:"Version,attr"`
	Serie             string       `xml:"Serie,attr"`
	Folio             string       `xml:"Folio,attr"`
	Fecha             string       `xml:"Fecha,attr"`
	SubTotal          string       `xml:"SubTotal,attr"`
	Total             string       `xml:"Total,attr"`
	Moneda            string       `xml:"Moneda,attr"`
	TipoDeComprobante string       `xml:"TipoDeComprobante,attr"`
	Emisor            party        `xml:"Emisor"`
	Receptor          party        `xml:"Receptor"`
	Conceptos         []concepto   `xml:"Conceptos>Concepto"`
	Complemento       *complemento `xml:"Complemento"`
}

type party struct {
	Rfc     string `xml:"Rfc,attr"`
	Nombre  string `xml:"Nombre,attr"`
	UsoCFDI string `xml:"UsoCFDI,attr"`
}

type concepto struct {
	Descripcion   string     `xml:"Descripcion,attr"`
	Cantidad      string     `xml:"Cantidad,attr"`
	ValorUnitario string     `xml:"ValorUnitario,attr"`
	Importe       string     `xml:"Importe,attr"`
	Traslados     []traslado `xml:"Impuestos>Traslados>Traslado"`
}

type traslado struct {
	Base       string `xml:"Base,attr"`
	Impuesto   string `xml:"Impuesto,attr"`
	TipoFactor string `xml:"TipoFactor,attr"`
	TasaOCuota string `xml:"TasaOCuota,attr"`
	Importe    string `xml:"Importe,attr"`
}

type complemento struct {
	Timbres []timbre `xml:"TimbreFiscalDigital"`
}

type timbre struct {
	XMLName xml.Name
	UUID    string `xml:"UUID,attr"`
}

func supportedNamespace(space string) bool {
	return space == NamespaceV4 || space == NamespaceV3
}

// stampUUID returns the UUID of the first stamp in the TFD namespace
func (c *comprobante) stampUUID() string {
	if c.Complemento == nil {
		return ""
	}
	for _, t := range c.Complemento.Timbres {
		if t.XMLName.Space == NamespaceTFD && t.UUID != "" {
			return t.UUID
		}
	}
	return ""
}
