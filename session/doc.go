// Package session houses concrete implementations of the core.SessionStore
// and core.Bus contracts. The interfaces themselves (and the Session struct)
// live in the core package to centralize domain contracts. Keeping only
// implementations here prevents higher level packages (policy, router,
// pipeline) from depending on concrete storage.
//
// Add additional backends (Redis, Postgres, ...) in sub-packages without
// changing any calling code – only the wiring layer needs to decide which
// implementation to instantiate.
package session
