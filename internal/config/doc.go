// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// A few fields can also be overridden directly:
//   - ALERTFEED_IDENTITY, ALERTFEED_ROLE
//   - ALERTFEED_BROKER_URL, ALERTFEED_TOKEN
//   - ALERTFEED_API_URL, ALERTFEED_API_TOKEN
//   - ALERTFEED_RETRY_MODE, ALERTFEED_RETRY_MAX_ATTEMPTS
//   - ALERTFEED_DB_HOST, ALERTFEED_DB_PASSWORD
//   - ALERTFEED_LOG_LEVEL, ALERTFEED_LOG_FORMAT
package config
