// Package socialauth provides social login primitives (OAuth identity
// resolution, JWT pair issuance, stateful repositories, HTTP session
// helpers) plus an append-only audit trail of auth activity.
//
// Identity resolution:
//   - Accounts can be linked to several providers. The social.IdentityResolver
//     maps a verified provider profile to an account with fixed precedence:
//     explicit link request, then provider identity match, then email merge,
//     then account creation. The (provider, provider_user_id) uniqueness
//     constraint makes concurrent first logins converge on one account.
//
// Token lifecycle:
//   - TokenService signs short-lived access tokens and long-lived refresh
//     tokens with separate keys. Refresh tokens are single-use: TokenRotator
//     consumes the presented token and issues a replacement in one
//     transaction, so a reused token fails closed. Each account keeps at
//     most MaxRefreshTokens live tokens, oldest evicted first.
//
// Audit trail:
//   - AuditSink records login, logout, link, unlink, failed_login, and
//     token_refresh events. Sinks run best-effort (errors are logged) so a
//     slow or broken audit store never blocks authentication.
package socialauth
