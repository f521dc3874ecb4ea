package model

import "time"

// DefaultToleranceDays is used when a profile does not set its own window
const DefaultToleranceDays = 5

// TaxpayerProfile describes where a taxpayer's signing material lives and
// how its downstream ledger is reached
type TaxpayerProfile struct {
	RFC    string `json:"rfc" yaml:"rfc"`
	Tenant string `json:"tenant" yaml:"tenant"`

	CertPath   string `json:"cer_path,omitempty" yaml:"cer_path"`
	KeyPath    string `json:"key_path,omitempty" yaml:"key_path"`
	CertURL    string `json:"cer_url,omitempty" yaml:"cer_url"`
	KeyURL     string `json:"key_url,omitempty" yaml:"key_url"`
	Passphrase string `json:"-" yaml:"passphrase"`

	DailySync     bool `json:"daily_sync" yaml:"daily_sync"`
	ToleranceDays int  `json:"tolerance_days" yaml:"tolerance_days"`

	Ledger LedgerIntegration `json:"ledger" yaml:"ledger"`
}

// Tolerance returns the reconciliation day window for the profile
func (p *TaxpayerProfile) Tolerance() int {
	if p.ToleranceDays <= 0 {
		return DefaultToleranceDays
	}
	return p.ToleranceDays
}

// TaxpayerCredential is resolved signing material for one request.
// It is never mutated after resolution.
type TaxpayerCredential struct {
	RFC         string
	Certificate []byte
	PrivateKey  []byte
	Passphrase  string

	// Locators the bytes were fetched from, empty when read locally
	CertURL string
	KeyURL  string
}

// Complete reports whether both byte streams are present
func (c TaxpayerCredential) Complete() bool {
	return len(c.Certificate) > 0 && len(c.PrivateKey) > 0
}

// LedgerIntegration holds a tenant's OAuth material for the downstream ledger
type LedgerIntegration struct {
	OrgID           string    `json:"org_id" yaml:"org_id"`
	ClientID        string    `json:"client_id" yaml:"client_id"`
	ClientSecret    string    `json:"-" yaml:"client_secret"`
	RefreshToken    string    `json:"-" yaml:"refresh_token"`
	AccessToken     string    `json:"-" yaml:"access_token"`
	LastRefreshTime time.Time `json:"last_refresh_time" yaml:"last_refresh_time"`
}

// Configured reports whether the integration can reach a ledger at all
func (l LedgerIntegration) Configured() bool {
	return l.OrgID != "" && (l.AccessToken != "" || l.RefreshToken != "")
}

// LedgerToken is a bearer token and the moment it was obtained
type LedgerToken struct {
	AccessToken string    `json:"access_token"`
	RefreshedAt time.Time `json:"refreshed_at"`
}
