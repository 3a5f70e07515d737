// Package version derives a normalized client-version descriptor from request
// metadata. The descriptor selects protocol-compatibility behaviour, most
// importantly which revision counter the reconciler compares against the
// client-declared value.
package version

import (
	"regexp"
	"strconv"
)

// Context is the normalized client version attached to every operation.
type Context struct {
	Season int
	Build  int64
}

// CommandRevisionMinBuild is the first client build that synchronizes on
// commandRevision instead of revision. The plain revision comparison is known
// to misbehave at and above this build; the exact cutoff should be revisited
// against observed client behaviour rather than changed speculatively.
const CommandRevisionMinBuild int64 = 12_800_000

// Legacy is the context assumed when the client sends no usable version
// metadata. It predates the command-revision switch.
var Legacy = Context{Season: 0, Build: 0}

// userAgentPattern matches version strings of the shape
// "Game/++Game+Release-12.41-CL-12905909 Windows/10".
var userAgentPattern = regexp.MustCompile(`Release-(\d+)\.[\d.]+-CL-(\d+)`)

// Resolve parses the client user-agent into a Context. Unparseable or missing
// values resolve to Legacy so old clients keep the historical behaviour.
func Resolve(userAgent string) Context {
	m := userAgentPattern.FindStringSubmatch(userAgent)
	if m == nil {
		return Legacy
	}
	season, err := strconv.Atoi(m[1])
	if err != nil {
		return Legacy
	}
	build, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return Legacy
	}
	return Context{Season: season, Build: build}
}

// UsesCommandRevision reports whether this client build synchronizes on the
// commandRevision counter.
func (c Context) UsesCommandRevision() bool {
	return c.Build >= CommandRevisionMinBuild
}
