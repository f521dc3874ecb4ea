package model

import "errors"

// ItemResult is the outcome for one unpacked document
type ItemResult struct {
	Path    string         `json:"path"`
	Invoice *InvoiceRecord `json:"-"`
	Skipped bool           `json:"skipped,omitempty"`
	Err     error          `json:"-"`
	Error   string         `json:"error,omitempty"`
}

// ExtractReport collects per-item results for a whole directory
type ExtractReport struct {
	Items []ItemResult `json:"items"`
}

// Add appends an item, copying the error text for serialization
func (r *ExtractReport) Add(item ItemResult) {
	if item.Err != nil {
		item.Error = item.Err.Error()
	}
	r.Items = append(r.Items, item)
}

// Invoices returns every successfully extracted record in report order
func (r *ExtractReport) Invoices() []InvoiceRecord {
	out := make([]InvoiceRecord, 0, len(r.Items))
	for _, item := range r.Items {
		if item.Invoice != nil {
			out = append(out, *item.Invoice)
		}
	}
	return out
}

// Failures returns the per-item errors
func (r *ExtractReport) Failures() []error {
	var out []error
	for _, item := range r.Items {
		if item.Err != nil {
			out = append(out, item.Err)
		}
	}
	return out
}

// SkippedCount counts non-income documents
func (r *ExtractReport) SkippedCount() int {
	n := 0
	for _, item := range r.Items {
		if item.Skipped {
			n++
		}
	}
	return n
}

// SyncResult is what runSync returns to its caller
type SyncResult struct {
	Success   bool            `json:"success"`
	BatchID   string          `json:"request_id,omitempty"`
	RequestID string          `json:"authority_request_id,omitempty"`
	Invoices  []InvoiceRecord `json:"invoices"`
	Warnings  []string        `json:"warnings,omitempty"`
	Stage     Stage           `json:"stage,omitempty"`
	Message   string          `json:"message,omitempty"`
	Report    *ExtractReport  `json:"report,omitempty"`
}

// Failure builds a failed result from a stage error
func Failure(batchID string, err error) *SyncResult {
	res := &SyncResult{
		Success:  false,
		BatchID:  batchID,
		Invoices: []InvoiceRecord{},
		Message:  err.Error(),
	}
	var se *StageError
	if errors.As(err, &se) {
		res.Stage = se.Stage
	}
	return res
}
