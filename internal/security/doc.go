// Package security summarizes the security posture of an engine configuration.
//
// [BuildReport] is pure: it takes a flat [ReportInput] derived from the root
// Config and returns a [Report] with warnings for weak settings. The engine
// exposes it as Engine.SecurityReport and the daemon logs it at startup.
package security
