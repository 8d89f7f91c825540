// Package auth is the credential center for outbound provider calls.
//
// Static schemes (api-key, bearer) read from configuration. The OAuth
// device flow persists per-provider token bundles as owner-only JSON files
// under the state directory, refreshes access tokens before they expire,
// and serializes concurrent refreshes so a burst of requests triggers
// exactly one token exchange. A rejected refresh token puts the provider in
// maintenance mode until a human completes the device flow again.
package auth
