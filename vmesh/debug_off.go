//go:build !vlasovdebug

package vmesh

const debugChecks = false
