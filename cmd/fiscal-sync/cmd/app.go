package cmd

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/rezonia/fiscal-sync/internal/config"
	"github.com/rezonia/fiscal-sync/internal/credential"
	"github.com/rezonia/fiscal-sync/internal/download"
	"github.com/rezonia/fiscal-sync/internal/fiel"
	"github.com/rezonia/fiscal-sync/internal/ledger"
	"github.com/rezonia/fiscal-sync/internal/logger"
	"github.com/rezonia/fiscal-sync/internal/processor"
	"github.com/rezonia/fiscal-sync/internal/reconcile"
	"github.com/rezonia/fiscal-sync/internal/sat"
	"github.com/rezonia/fiscal-sync/internal/tokens"
	"github.com/rezonia/fiscal-sync/internal/zoho"
)

// app holds the components a command needs, built from the configuration
type app struct {
	log      *logrus.Logger
	profiles *config.Profiles
	ledger   *ledger.Ledger
	closers  []func()
}

func newApp(ctx context.Context) (*app, error) {
	if err := requireConfig(); err != nil {
		return nil, err
	}
	a := &app{log: logger.New(logLevel, cfg.Log.Format)}

	profiles, err := config.LoadProfiles(profilesPath)
	if err != nil {
		return nil, err
	}
	a.profiles = profiles

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.ledger = ledger.New(store, ledger.WithLogger(a.log))
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) openStore(ctx context.Context) (ledger.Store, error) {
	switch cfg.Store.Backend {
	case "mongo":
		client, err := ledger.ConnectMongo(ctx, cfg.Store.MongoURI)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Disconnect(context.Background()) })
		return ledger.NewMongoStore(ctx, client.Database(cfg.Store.MongoDatabase), ledger.DefaultCollection)
	case "postgres":
		db, err := ledger.OpenPostgres(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		return ledger.NewPostgresStore(ctx, db, ledger.DefaultTable)
	default:
		a.log.Warn("using the in-memory ledger; batches are lost on exit")
		return ledger.NewMemoryStore(), nil
	}
}

func (a *app) resolver(ctx context.Context) (*credential.Resolver, error) {
	opts := []credential.Option{credential.WithLogger(a.log)}
	if cfg.Blob.Bucket != "" {
		blobs, err := credential.NewS3BlobStoreFromEnv(ctx, cfg.Blob.Region, cfg.Blob.Bucket, cfg.Blob.Endpoint)
		if err != nil {
			return nil, err
		}
		opts = append(opts, credential.WithBlobStore(blobs))
	}
	return credential.NewResolver(opts...), nil
}

func (a *app) satClient() (*sat.Client, error) {
	opts := []sat.ClientOption{
		sat.WithEndpoints(sat.Endpoints{
			Auth:     cfg.SAT.AuthURL,
			Request:  cfg.SAT.RequestURL,
			Verify:   cfg.SAT.VerifyURL,
			Download: cfg.SAT.DownloadURL,
		}),
		sat.WithTimeout(cfg.SAT.HTTPTimeout),
		sat.WithLogger(a.log),
	}
	if cfg.SAT.CheckOCSP {
		checker, err := revocationChecker()
		if err != nil {
			return nil, err
		}
		opts = append(opts, sat.WithRevocationChecker(checker))
	}
	return sat.NewClient(opts...), nil
}

func revocationChecker() (*fiel.RevocationChecker, error) {
	issuer, err := readCertificate(cfg.SAT.OCSPIssuer)
	if err != nil {
		return nil, fmt.Errorf("failed to load OCSP issuer: %w", err)
	}
	var opts []fiel.RevocationOption
	if cfg.SAT.OCSPSoftFail {
		opts = append(opts, fiel.WithSoftFail())
	}
	if cfg.SAT.OCSPURL != "" {
		opts = append(opts, fiel.WithResponder(cfg.SAT.OCSPURL))
	}
	return fiel.NewRevocationChecker(issuer, opts...), nil
}

func readCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	return x509.ParseCertificate(data)
}

func (a *app) pipeline(ctx context.Context, issued bool) (*processor.Pipeline, error) {
	resolver, err := a.resolver(ctx)
	if err != nil {
		return nil, err
	}
	client, err := a.satClient()
	if err != nil {
		return nil, err
	}

	opts := []processor.Option{
		processor.WithLogger(a.log),
		processor.WithMachineOptions(
			download.WithWorkDir(cfg.SAT.WorkDir),
			download.WithPolicy(download.Policy{
				Interval:    cfg.SAT.PollInterval,
				MaxAttempts: cfg.SAT.MaxAttempts,
				Deadline:    cfg.SAT.Deadline,
			}),
		),
	}
	if issued {
		opts = append(opts, processor.WithIssued())
	}
	return processor.NewPipeline(resolver, processor.SATOpener(client), a.ledger, opts...), nil
}

func (a *app) publisher(ctx context.Context) (*processor.Publisher, error) {
	names, err := reconcile.ParseNamePolicy(cfg.Zoho.NamePolicy)
	if err != nil {
		return nil, err
	}

	client := zoho.NewClient(
		zoho.WithBaseURL(cfg.Zoho.BaseURL),
		zoho.WithAccountsURL(cfg.Zoho.AccountsURL),
		zoho.WithRateLimit(cfg.Zoho.RequestsPerMinute),
		zoho.WithLogger(a.log),
	)

	var store tokens.Store = tokens.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		rdb, err := tokens.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		store = tokens.NewRedisStore(rdb)
	}
	ctrl := tokens.NewController(client, store,
		tokens.WithRefreshAfter(cfg.Zoho.RefreshAfter),
		tokens.WithLogger(a.log),
	)

	return processor.NewPublisher(a.ledger, client, ctrl,
		processor.WithNamePolicy(names),
		processor.WithPublisherLogger(a.log),
	), nil
}
