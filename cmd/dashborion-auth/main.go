// dashborion-auth is the authentication edge for the dashborion dashboard:
// it terminates the SAML login flow, mints encrypted sessions, protects
// every other route, and runs the device authorization flow for CLI
// clients.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/dashborion/pkg/config"
	"github.com/platinummonkey/dashborion/pkg/devicecode"
	"github.com/platinummonkey/dashborion/pkg/envelope"
	"github.com/platinummonkey/dashborion/pkg/httputil"
	"github.com/platinummonkey/dashborion/pkg/middleware"
	"github.com/platinummonkey/dashborion/pkg/observability"
	"github.com/platinummonkey/dashborion/pkg/saml"
	"github.com/platinummonkey/dashborion/pkg/session"
	"github.com/platinummonkey/dashborion/pkg/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("service exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	sealer, err := buildSealer(ctx, cfg)
	if err != nil {
		return err
	}
	logger.WithField("backend", sealer.Backend()).Info("crypto envelope ready")

	var pingers []observability.Pinger

	var sessionStore store.Store
	if cfg.Auth.Transport == config.TransportStore {
		sessionStore, err = buildSessionStore(ctx, cfg)
		if err != nil {
			return err
		}
		pingers = append(pingers, sessionStore)
	}

	deviceStore, sweeper, err := buildDeviceStore(cfg)
	if err != nil {
		return err
	}
	pingers = append(pingers, deviceStore)

	engine, metadataPath, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}

	manager := session.NewManager(cfg.Auth.SessionTTL, cfg.Auth.GroupPrefix)
	transport := buildTransport(cfg, sealer, sessionStore)

	deviceService := devicecode.NewService(deviceStore, devicecode.Config{
		CodeTTL:         cfg.Device.CodeTTL,
		PollInterval:    cfg.Device.PollInterval,
		TokenTTL:        cfg.Device.TokenTTL,
		VerificationURL: cfg.Device.VerificationURL,
	}, logger, metrics)

	protector := middleware.NewProtector(transport, engine, logger, metrics, cfg.Auth.ExcludedPaths, cfg.Auth.LogoutPath)

	router := mux.NewRouter()
	saml.NewHandlers(engine, manager, transport, logger, metrics, cfg.Auth.DefaultRedirectURL).RegisterRoutes(router)
	devicecode.NewHandlers(deviceService, logger).RegisterRoutes(router)
	router.PathPrefix("/").HandlerFunc(originEcho)

	chain := httputil.Chain(
		httputil.RequestIDMiddleware(),
		httputil.LoggerMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
	)
	var handler http.Handler = chain(protector.Protect(router))
	if cfg.Observability.MetricsEnabled {
		handler = observability.HTTPMetricsMiddleware(metrics)(handler)
	}
	if otelProviders != nil {
		handler = otelhttp.NewHandler(handler, "dashborion-auth")
	}

	appServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(pingers...))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, appServer, healthServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		return nil
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(otelProviders.Shutdown)
	}
	if closer, ok := sessionStore.(interface{ Close() error }); ok && sessionStore != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return closer.Close() })
	}

	if sweeper != nil {
		janitor := devicecode.NewJanitor(sweeper, logger, metrics)
		if err := janitor.Start(); err != nil {
			return err
		}
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			janitor.Stop()
			return nil
		})
	}

	if metadataPath != "" {
		go func() {
			defer observability.RecoverPanic(logger, "metadata watcher")
			if err := saml.WatchMetadata(ctx, engine, metadataPath, logger); err != nil {
				logger.WithError(err).Error("metadata watcher stopped")
			}
		}()
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("auth server listening on %s", appServer.Addr)
		if err := appServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(shutdown.WaitForShutdown)

	return g.Wait()
}

func buildSealer(ctx context.Context, cfg *config.Config) (envelope.Sealer, error) {
	switch cfg.Crypto.Backend {
	case config.CryptoKMS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Store.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		return envelope.NewKMSSealer(kms.NewFromConfig(awsCfg), cfg.Crypto.KMSKeyID)
	default:
		return envelope.NewLocalSealer(cfg.Crypto.LocalKey)
	}
}

func buildSessionStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreDynamo:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Store.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.Store.AWSEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Store.AWSEndpoint)
			}
		})
		return store.NewDynamoStore(client, cfg.Store.DynamoTable)
	case config.StoreRedis:
		return store.NewRedisStore(cfg.Store.RedisURL)
	default:
		return store.NewMemoryStore(), nil
	}
}

// buildDeviceStore picks the device-code store. Redis gets native TTL
// expiry; everything else falls back to the in-memory store plus the
// janitor returned as sweeper.
func buildDeviceStore(cfg *config.Config) (devicecode.Store, devicecode.Sweeper, error) {
	if cfg.Store.Backend == config.StoreRedis {
		s, err := devicecode.NewRedisStore(cfg.Store.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
	s := devicecode.NewMemoryStore()
	return s, s, nil
}

func buildTransport(cfg *config.Config, sealer envelope.Sealer, sessionStore store.Store) session.Transport {
	cookie := session.CookieConfig{
		Name:     cfg.Auth.CookieName,
		Domain:   cfg.Auth.CookieDomain,
		SameSite: cfg.Auth.CookieSameSite,
		Secure:   strings.HasPrefix(cfg.Server.BaseURL, "https://"),
		TTL:      cfg.Auth.SessionTTL,
	}

	if cfg.Auth.Transport == config.TransportStore {
		return session.NewStoreTransport(sealer, sessionStore, cookie, cfg.Crypto.ServiceName)
	}
	return session.NewCookieTransport(sealer, cookie, cfg.Crypto.ServiceName)
}

func buildEngine(cfg *config.Config, logger *observability.Logger) (*saml.Engine, string, error) {
	metadataXML := []byte(cfg.SAML.MetadataXML)
	metadataPath := ""
	if len(metadataXML) == 0 {
		data, err := os.ReadFile(cfg.SAML.MetadataPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read IdP metadata: %w", err)
		}
		metadataXML = data
		metadataPath = cfg.SAML.MetadataPath
	}

	opts := saml.Options{
		EntityID:     cfg.SAML.EntityID,
		ACSURL:       strings.TrimSuffix(cfg.Server.BaseURL, "/") + "/saml/acs",
		MetadataXML:  metadataXML,
		SignRequests: cfg.SAML.SignRequests,
		ClockSkew:    cfg.SAML.ClockSkew,
		Attributes: saml.AttributeNames{
			Email:       cfg.SAML.EmailAttribute,
			DisplayName: cfg.SAML.DisplayNameAttribute,
			Groups:      cfg.SAML.GroupsAttribute,
			MFA:         cfg.SAML.MFAAttribute,
		},
	}

	if cfg.SAML.SignRequests {
		certPEM, err := os.ReadFile(cfg.SAML.SPCertPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read SP certificate: %w", err)
		}
		keyPEM, err := os.ReadFile(cfg.SAML.SPKeyPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read SP private key: %w", err)
		}
		opts.SPCertPEM = certPEM
		opts.SPKeyPEM = keyPEM
	}

	engine, err := saml.NewEngine(opts, logger)
	if err != nil {
		return nil, "", err
	}
	return engine, metadataPath, nil
}

// originEcho stands in for the dashboard origin in single-binary
// deployments: it reflects the identity headers the interceptor injected,
// which doubles as a smoke test for the whole login path.
func originEcho(w http.ResponseWriter, r *http.Request) {
	identity := map[string]string{
		"user_id":      r.Header.Get(middleware.HeaderUserID),
		"email":        r.Header.Get(middleware.HeaderUserEmail),
		"groups":       r.Header.Get(middleware.HeaderUserGroups),
		"roles":        r.Header.Get(middleware.HeaderUserRoles),
		"mfa_verified": r.Header.Get(middleware.HeaderMFAVerified),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(identity)
}
