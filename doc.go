// Package authclient is the client-side authentication core for DevDash.
//
// A Manager owns the primary session. It signs users in with email and
// password against a CredentialDirectory, or through a redirect provider
// (social or enterprise) guarded by one-time anti-forgery state, and keeps
// the resulting Session in one of two storage tiers:
//
//   - durable: survives restarts (remember-me and every redirect login)
//   - ephemeral: lives for the current process only
//
// Both tiers are KVStore implementations. NewMemoryStore is the in-process
// backend; storage/bbolt and storage/redis provide durable ones.
//
// Session state transitions are observable through Manager.OnStateChange:
//
//	unauthenticated -> authenticating -> authenticated -> refreshing -> authenticated
//
// Errors are go-errors values and classify into a small set of kinds with
// KindOf, so callers can tell a rejected credential from a forgery attempt
// or a network failure:
//
//	sess, err := m.LoginWithCredential(ctx, email, secret, true)
//	switch authclient.KindOf(err) {
//	case authclient.KindValidation:
//		// wrong email or password
//	case authclient.KindNetwork:
//		// backend unreachable
//	}
//
// When the backend cannot be reached and Config.FallbackToSimulated is set,
// redirect logins complete against the simulated provider and the session is
// marked Degraded.
//
// The secondary account link lives in package link, and package client wires
// everything together behind a single observable facade.
package authclient
