//go:build vlasovdebug

package vmesh

// debugChecks enables per-access index validation.
const debugChecks = true
