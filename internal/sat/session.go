package sat

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/fiscal-sync/internal/fiel"
	"github.com/rezonia/fiscal-sync/internal/model"
)

// codeSuccess is the CodEstatus of an accepted call
const codeSuccess = "5000"

const (
	rangeStartLayout = "2006-01-02T00:00:00"
	rangeEndLayout   = "2006-01-02T23:59:59"
)

// Session is one taxpayer's signed view of the service. Tokens are never
// cached; every call to Authenticate signs a fresh timestamp.
type Session struct {
	client *Client
	fiel   *fiel.FIEL
	rfc    string
}

// RFC returns the taxpayer the session signs for
func (s *Session) RFC() string {
	return s.rfc
}

// Authenticate exchanges a signed timestamp for a short-lived token
func (s *Session) Authenticate(ctx context.Context) (string, error) {
	now := s.client.now().UTC()
	doc, err := authEnvelope(s.fiel,
		now.Format(timestampLayout),
		"uuid-"+uuid.NewString()+"-1",
		now.Add(tokenLifetime).Format(timestampLayout))
	if err != nil {
		return "", err
	}

	resp, err := s.client.call(ctx, "authenticate", s.client.endpoints.Auth, actionAuth, "", doc)
	if err != nil {
		return "", err
	}
	result := resp.FindElement("//AutenticaResult")
	if result == nil || strings.TrimSpace(result.Text()) == "" {
		return "", &ServiceError{Op: "authenticate", StatusCode: 200, Message: "response carries no token"}
	}
	return strings.TrimSpace(result.Text()), nil
}

// RequestDownload files a bulk request and returns the authority's id for it
func (s *Session) RequestDownload(ctx context.Context, token string, q model.DownloadQuery) (string, error) {
	kind := q.Kind
	if kind == "" {
		kind = model.KindCFDI
	}
	attrs := [][2]string{
		{"RfcSolicitante", s.rfc},
		{"FechaInicial", q.Range.Start.Format(rangeStartLayout)},
		{"FechaFinal", q.Range.End.Format(rangeEndLayout)},
		{"TipoSolicitud", string(kind)},
	}
	if q.Issued {
		attrs = append(attrs, [2]string{"RfcEmisor", q.RFC})
	} else {
		attrs = append(attrs, [2]string{"RfcReceptor", q.RFC})
	}

	doc, err := signedRequestEnvelope(s.fiel, "SolicitaDescarga", "solicitud", attrs)
	if err != nil {
		return "", err
	}
	resp, err := s.client.call(ctx, "request download", s.client.endpoints.Request, actionRequest, token, doc)
	if err != nil {
		return "", err
	}

	result := resp.FindElement("//SolicitaDescargaResult")
	if result == nil {
		return "", &ServiceError{Op: "request download", StatusCode: 200, Message: "response carries no result"}
	}
	if err := checkCode("request download", result); err != nil {
		return "", err
	}
	id := result.SelectAttrValue("IdSolicitud", "")
	if id == "" {
		return "", &ServiceError{Op: "request download", StatusCode: 200, Message: "response carries no request id"}
	}
	return id, nil
}

// CheckStatus asks how far a request has progressed
func (s *Session) CheckStatus(ctx context.Context, token, requestID string) (*model.RequestStatus, error) {
	doc, err := signedRequestEnvelope(s.fiel, "VerificaSolicitudDescarga", "solicitud", [][2]string{
		{"IdSolicitud", requestID},
		{"RfcSolicitante", s.rfc},
	})
	if err != nil {
		return nil, err
	}
	resp, err := s.client.call(ctx, "check status", s.client.endpoints.Verify, actionVerify, token, doc)
	if err != nil {
		return nil, err
	}

	result := resp.FindElement("//VerificaSolicitudDescargaResult")
	if result == nil {
		return nil, &ServiceError{Op: "check status", StatusCode: 200, Message: "response carries no result"}
	}

	status := &model.RequestStatus{
		StatusCode:  result.SelectAttrValue("CodEstatus", ""),
		RequestCode: result.SelectAttrValue("CodigoEstadoSolicitud", ""),
		Message:     result.SelectAttrValue("Mensaje", ""),
	}
	if v := result.SelectAttrValue("EstadoSolicitud", ""); v != "" {
		if status.StateCode, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("sat check status: invalid EstadoSolicitud %q", v)
		}
	}
	if v := result.SelectAttrValue("NumeroCFDIs", ""); v != "" {
		status.DocumentCnt, _ = strconv.Atoi(v)
	}
	for _, p := range result.SelectElements("IdsPaquetes") {
		if id := strings.TrimSpace(p.Text()); id != "" {
			status.PackageIDs = append(status.PackageIDs, id)
		}
	}

	s.client.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"state":      status.StateCode,
		"code":       status.RequestCode,
		"packages":   len(status.PackageIDs),
	}).Debug("verification answered")
	return status, nil
}

// FetchPackage downloads one package as the base64 payload the service sends
func (s *Session) FetchPackage(ctx context.Context, token, packageID string) (string, error) {
	doc, err := signedRequestEnvelope(s.fiel, "PeticionDescargaMasivaTercerosEntrada", "peticionDescarga", [][2]string{
		{"IdPaquete", packageID},
		{"RfcSolicitante", s.rfc},
	})
	if err != nil {
		return "", err
	}
	resp, err := s.client.call(ctx, "fetch package", s.client.endpoints.Download, actionDownload, token, doc)
	if err != nil {
		return "", err
	}

	if header := resp.FindElement("//respuesta"); header != nil {
		if err := checkCode("fetch package", header); err != nil {
			return "", err
		}
	}
	pkg := resp.FindElement("//Paquete")
	if pkg == nil {
		return "", &ServiceError{Op: "fetch package", StatusCode: 200, Message: "response carries no package"}
	}
	return strings.TrimSpace(pkg.Text()), nil
}

func checkCode(op string, el *etree.Element) error {
	code := el.SelectAttrValue("CodEstatus", "")
	if code == "" || code == codeSuccess {
		return nil
	}
	return &ServiceError{
		Op:         op,
		StatusCode: 200,
		Code:       code,
		Message:    el.SelectAttrValue("Mensaje", ""),
	}
}
