// Package config provides environment-based configuration for the Dashborion
// auth service.
//
// # Overview
//
// All configuration is read once by LoadConfig into a single Config struct
// that is passed explicitly into every component. Components never consult
// the environment themselves; this keeps them independently testable and
// removes hidden global state from the request path.
//
// # Environment Variables
//
// Server:
//   - DASHBORION_HOST: Server host (default: 0.0.0.0)
//   - DASHBORION_PORT: Server port (default: 8080)
//   - DASHBORION_HEALTH_PORT: Health/metrics port (default: 9090)
//   - DASHBORION_BASE_URL: External origin of this service
//
// Sessions and edge interception:
//   - DASHBORION_COOKIE_NAME, DASHBORION_COOKIE_DOMAIN, DASHBORION_COOKIE_SAMESITE
//   - DASHBORION_SESSION_TTL: Session lifetime (default: 8h)
//   - DASHBORION_SESSION_TRANSPORT: cookie | store
//   - DASHBORION_EXCLUDED_PATHS: Comma-separated pass-through path prefixes
//   - DASHBORION_GROUP_PREFIX: IdP group prefix for permission derivation
//
// SAML:
//   - DASHBORION_SAML_ENTITY_ID: Service-provider entity ID
//   - DASHBORION_SAML_IDP_METADATA_PATH / _XML: IdP metadata source
//   - DASHBORION_SAML_SIGN_REQUESTS: Sign AuthnRequests (default: false)
//
// Crypto envelope:
//   - DASHBORION_CRYPTO_BACKEND: local | kms
//   - DASHBORION_LOCAL_KEY: base64 32-byte key (local backend)
//   - DASHBORION_KMS_KEY_ID: KMS key (kms backend)
//
// Store:
//   - DASHBORION_STORE_BACKEND: dynamo | redis | memory
//   - DASHBORION_DYNAMO_TABLE, DASHBORION_AWS_REGION, DASHBORION_AWS_ENDPOINT
//   - DASHBORION_REDIS_URL, DASHBORION_REDIS_PASSWORD, DASHBORION_REDIS_DB
//
// Device flow:
//   - DASHBORION_DEVICE_CODE_TTL (default: 10m)
//   - DASHBORION_DEVICE_POLL_INTERVAL (default: 5s)
//   - DASHBORION_DEVICE_VERIFICATION_URL (default: /device)
//
// Observability:
//   - DASHBORION_LOG_LEVEL, DASHBORION_METRICS_ENABLED
//   - DASHBORION_OTEL_ENABLED, DASHBORION_OTEL_ENDPOINT
package config
