// Package api provides the script-facing modules of the sandbox.
//
// Each module is loaded with require("@warden/<name>") and exposes a
// new(ctx[, scope]) constructor. The constructor resolves the subsystem's
// provider from the invocation context and returns an executor table whose
// methods are called with a colon:
//
//	local lockdown = require("@warden/lockdown").new(ctx)
//	local id = lockdown:qsl("raid"):await()
//
// Every method checks the capability first and charges the rate-limit
// bucket second, then returns a promise. A failed check raises an error
// value with kind, message, op, bucket and retry_after fields; nothing is
// charged for a call that fails its capability check.
//
// Available modules:
//
//   - kv: tenant key-value storage
//   - globalkv: read-only global key-value storage
//   - lockdown: lockdown control
//   - stings: the moderation ledger
//   - userinfo: member lookup
//   - scheduledexec: deferred template runs
//   - page: the template settings page
//   - objectstorage: tenant files
//   - runtime: hosting-service information and tenant state
//   - discord: outbound platform actions
//   - promise: promise helpers that need no provider
package api
