// Package auth provides the authentication and authorization core of the
// Ecofy platform: password hashing, signed bearer tokens, principal
// resolution, role based policies and the principal status lifecycle.
//
// Principals:
//   - Four principal kinds (user, admin, organization, client_company) live in
//     their own tables. A token carries a (kind, id) pair and a role, but the
//     Resolver always reloads the principal and the stored role wins.
//   - Deleted principals are soft deleted and resolve as not found.
//
// Status lifecycle:
//   - StatusLifecycle centralizes the transition graph (pending, active,
//     suspended, deleted). Every transition runs inside one transaction that
//     checks the current status, counts dependent disposal requests and
//     writes conditionally, so concurrent changes cannot skip the guards.
//   - Before and after hooks receive the transaction. The default hook error
//     handler aborts the transition.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Auther, the
//     register handler and the state machine. Sinks run best-effort (errors
//     are logged) so forwarding to metrics or a log never blocks a request.
package auth
