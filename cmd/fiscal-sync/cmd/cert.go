package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/fiscal-sync/internal/fiel"
	"github.com/rezonia/fiscal-sync/internal/model"
)

var (
	certKeyPath    string
	certPassphrase string
	certOCSP       bool
)

var certCmd = &cobra.Command{
	Use:   "cert <certificate.cer> --key <private.key>",
	Short: "Show and check a FIEL certificate",
	Long: `Decrypt the private key, check it belongs to the certificate and display
the subject, issuer and validity window of the FIEL. With --ocsp the
certificate is checked for revocation against the issuer configured in
SAT_OCSP_ISSUER.

Examples:
  fiscal-sync cert fiel.cer --key fiel.key --passphrase secret
  fiscal-sync cert fiel.cer --key fiel.key --passphrase secret --ocsp`,
	Args: cobra.ExactArgs(1),
	RunE: runCert,
}

func init() {
	rootCmd.AddCommand(certCmd)

	certCmd.Flags().StringVar(&certKeyPath, "key", "", "Encrypted private key (.key, required)")
	certCmd.Flags().StringVar(&certPassphrase, "passphrase", os.Getenv("FIEL_PASSPHRASE"), "Private key passphrase (env: FIEL_PASSPHRASE)")
	certCmd.Flags().BoolVar(&certOCSP, "ocsp", false, "Check revocation status")
	_ = certCmd.MarkFlagRequired("key")
}

// CertReport is what the cert command prints
type CertReport struct {
	fiel.Info
	Valid      bool   `json:"valid"`
	Revocation string `json:"revocation,omitempty"`
	Error      string `json:"error,omitempty"`
}

func runCert(cmd *cobra.Command, args []string) error {
	certData, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read certificate: %w", err)
	}
	keyData, err := os.ReadFile(certKeyPath)
	if err != nil {
		return fmt.Errorf("failed to read private key: %w", err)
	}
	cred := model.TaxpayerCredential{Certificate: certData, PrivateKey: keyData, Passphrase: certPassphrase}

	f, err := fiel.New(cred)
	if err != nil {
		return err
	}

	report := CertReport{Info: f.Info(), Valid: true}
	if err := f.CheckValidity(time.Now()); err != nil {
		report.Valid = false
		report.Error = err.Error()
	}

	if certOCSP {
		if err := requireConfig(); err != nil {
			return err
		}
		checker, err := revocationChecker()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		report.Revocation = "good"
		if err := checker.Check(ctx, f); err != nil {
			report.Revocation = err.Error()
		}
	}

	if err := render(report, func(tw *tabwriter.Writer) { certTable(tw, report) }); err != nil {
		return err
	}
	if !report.Valid {
		return fmt.Errorf("certificate is not usable: %s", report.Error)
	}
	return nil
}

func certTable(tw *tabwriter.Writer, r CertReport) {
	fmt.Fprintf(tw, "RFC\t%s\n", r.RFC)
	fmt.Fprintf(tw, "NAME\t%s\n", r.Name)
	if r.Organization != "" {
		fmt.Fprintf(tw, "ORGANIZATION\t%s\n", r.Organization)
	}
	fmt.Fprintf(tw, "CERTIFICATE\t%s\n", r.CertificateNumber)
	fmt.Fprintf(tw, "ISSUER\t%s\n", r.Issuer)
	fmt.Fprintf(tw, "VALID FROM\t%s\n", r.ValidFrom.Format(time.RFC3339))
	fmt.Fprintf(tw, "VALID TO\t%s\n", r.ValidTo.Format(time.RFC3339))
	fmt.Fprintf(tw, "VALID\t%t\n", r.Valid)
	if r.Revocation != "" {
		fmt.Fprintf(tw, "REVOCATION\t%s\n", r.Revocation)
	}
}
