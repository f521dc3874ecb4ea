package sat

import (
	"crypto"
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/rezonia/fiscal-sync/internal/fiel"
)

// XML namespaces used by the service
const (
	nsSOAP      = "http://schemas.xmlsoap.org/soap/envelope/"
	nsUtility   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	nsSecurity  = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	nsDescarga  = "http://DescargaMasivaTerceros.sat.gob.mx"
	nsAuth      = "http://DescargaMasivaTerceros.gob.mx"
	x509Token   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-x509-token-profile-1.0#X509v3"
	base64Token = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
)

// SOAP actions
const (
	actionAuth     = "http://DescargaMasivaTerceros.gob.mx/IAutenticacion/Autentica"
	actionRequest  = "http://DescargaMasivaTerceros.sat.gob.mx/ISolicitaDescargaService/SolicitaDescarga"
	actionVerify   = "http://DescargaMasivaTerceros.sat.gob.mx/IVerificaSolicitudDescargaService/VerificaSolicitudDescarga"
	actionDownload = "http://DescargaMasivaTerceros.sat.gob.mx/IDescargaMasivaTercerosService/Descargar"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// signingContext signs with RSA-SHA1 and exclusive C14N, which is what the
// service verifies against
func signingContext(f *fiel.FIEL) *dsig.SigningContext {
	ctx := dsig.NewDefaultSigningContext(f)
	ctx.Hash = crypto.SHA1
	ctx.Prefix = ""
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	return ctx
}

// newEnvelope returns an empty envelope and its header and body
func newEnvelope() (*etree.Document, *etree.Element, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("s:Envelope")
	env.CreateAttr("xmlns:s", nsSOAP)
	header := env.CreateElement("s:Header")
	body := env.CreateElement("s:Body")
	return doc, header, body
}

// signEnveloped appends an enveloped signature to el, adding the issuer and
// serial number next to the certificate
func signEnveloped(f *fiel.FIEL, el *etree.Element) (*etree.Element, error) {
	signed, err := signingContext(f).SignEnveloped(el)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", el.Tag, err)
	}

	sig := signed.SelectElement("Signature")
	if sig == nil {
		return nil, fmt.Errorf("failed to sign %s: signature missing", el.Tag)
	}
	if x509Data := sig.FindElement("KeyInfo/X509Data"); x509Data != nil {
		issuerSerial := x509Data.CreateElement("X509IssuerSerial")
		issuerSerial.CreateElement("X509IssuerName").SetText(f.IssuerName())
		issuerSerial.CreateElement("X509SerialNumber").SetText(f.SerialNumber())
	}
	return signed, nil
}

// replaceChild swaps old for replacement under old's parent
func replaceChild(old, replacement *etree.Element) {
	parent := old.Parent()
	idx := old.Index()
	parent.RemoveChildAt(idx)
	parent.InsertChildAt(idx, replacement)
}

// authEnvelope builds the WS-Security envelope whose signed timestamp is
// exchanged for a token
func authEnvelope(f *fiel.FIEL, created, tokenID string, expires string) (*etree.Document, error) {
	doc, header, body := newEnvelope()
	doc.Root().CreateAttr("xmlns:u", nsUtility)

	security := header.CreateElement("o:Security")
	security.CreateAttr("xmlns:o", nsSecurity)
	security.CreateAttr("s:mustUnderstand", "1")

	ts := security.CreateElement("u:Timestamp")
	ts.CreateAttr("xmlns:u", nsUtility)
	ts.CreateAttr("u:Id", "_0")
	ts.CreateElement("u:Created").SetText(created)
	ts.CreateElement("u:Expires").SetText(expires)

	_, certDER, err := f.GetKeyPair()
	if err != nil {
		return nil, err
	}
	bst := security.CreateElement("o:BinarySecurityToken")
	bst.CreateAttr("u:Id", tokenID)
	bst.CreateAttr("ValueType", x509Token)
	bst.CreateAttr("EncodingType", base64Token)
	bst.SetText(base64.StdEncoding.EncodeToString(certDER))

	sctx := signingContext(f)
	sctx.IdAttribute = "u:Id"
	sig, err := sctx.ConstructSignature(ts, false)
	if err != nil {
		return nil, fmt.Errorf("failed to sign timestamp: %w", err)
	}
	// The token is referenced instead of embedding the certificate twice
	if keyInfo := sig.SelectElement("KeyInfo"); keyInfo != nil {
		sig.RemoveChild(keyInfo)
	}
	keyInfo := sig.CreateElement("KeyInfo")
	ref := keyInfo.CreateElement("o:SecurityTokenReference").CreateElement("o:Reference")
	ref.CreateAttr("ValueType", x509Token)
	ref.CreateAttr("URI", "#"+tokenID)
	security.AddChild(sig)

	auth := body.CreateElement("Autentica")
	auth.CreateAttr("xmlns", nsAuth)
	return doc, nil
}

// signedRequestEnvelope wraps a signed des:solicitud-style element in
// <des:wrapper> inside the body
func signedRequestEnvelope(f *fiel.FIEL, wrapper, inner string, attrs [][2]string) (*etree.Document, error) {
	doc, _, body := newEnvelope()
	doc.Root().CreateAttr("xmlns:des", nsDescarga)

	outer := body.CreateElement("des:" + wrapper)
	el := outer.CreateElement("des:" + inner)
	// Declared again so the element canonicalizes on its own
	el.CreateAttr("xmlns:des", nsDescarga)
	for _, a := range attrs {
		if a[1] != "" {
			el.CreateAttr(a[0], a[1])
		}
	}

	signed, err := signEnveloped(f, el)
	if err != nil {
		return nil, err
	}
	replaceChild(el, signed)
	return doc, nil
}
