// Package oauth2 manages the lifecycle of provider credentials for many accounts.
//
// # Overview
//
// An account is authorized once through the provider's consent page. The callback
// delivers a short-lived temporary token which the Exchanger trades for a durable
// Token. The Manager hands out access tokens afterwards and extends a token's
// validity with the provider once it is within AutoRefreshThreshold of expiry.
// The Revoker invalidates a token at the provider and forgets it locally.
//
// The provider never rotates the access token value: a refresh only moves the
// expiry. When a response carries no expires_in, the token is assumed to live for
// LongLivedWindow.
//
// # Storage backends
//
//   - MemoryTokenStorage: tests and single instances
//   - RedisTokenStorage: shared between broker instances
//   - DBTokenStorage: SQLite or PostgreSQL through internal/storage
//   - EncryptedTokenStorage: wraps any of the above and seals secrets at rest
//
// # Usage
//
//	cfg, err := oauth2.NewConfig(clientID, secretKey, redirectURI)
//	if err != nil {
//		return err
//	}
//	store := oauth2.NewMemoryTokenStorage()
//	manager, err := oauth2.NewManager(cfg, gateway, store)
//	if err != nil {
//		return err
//	}
//	defer manager.Close()
//
//	header, err := manager.GetAuthorizationHeader(ctx, "acct-42")
//
// # Concurrency
//
// Refreshes of the same account are coalesced into one provider call per process.
// WithRefreshLocker adds a distributed lock (see internal/locks) so that several
// broker instances sharing a store do not refresh the same account at once.
package oauth2
