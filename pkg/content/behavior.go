package content

import (
	"strings"
	"time"

	"github.com/odvcencio/constellation/pkg/protocol"
)

// Behavior scripts how a simulated document reacts once loaded.
type Behavior struct {
	// Hang documents never become ready.
	Hang bool
	// Crash documents report a script fault right after becoming ready.
	Crash bool
	// Die documents vanish without notice right after becoming ready, as if
	// their process was killed.
	Die bool
	// Delay postpones readiness.
	Delay time.Duration

	// Navigate, when set, is requested as a script-initiated navigation
	// once the document is ready.
	Navigate string
	Target   protocol.NavigationTarget
	Replace  bool

	Title string
}

// BehaviorFunc derives the behavior of the document loaded from url.
type BehaviorFunc func(url string) Behavior

// ParseBehavior reads behavior prefixes off a URL. Prefixes chain, so
// "slow:navigate:b.test" becomes ready late and then navigates to b.test.
//
//	hang:x            never ready
//	crash:x           faults after ready
//	die:x             disappears after ready
//	slow:x            ready after slowDelay
//	navigate:u        navigates itself to u
//	navigate-top:u    navigates the window to u
//	navigate-parent:u navigates the parent frame to u
//	replace:u         navigates itself to u, replacing the entry
//
// Anything else loads normally and is titled after itself.
func ParseBehavior(url string, slowDelay time.Duration) Behavior {
	var b Behavior
	rest := url
	for {
		prefix, tail, ok := strings.Cut(rest, ":")
		if !ok {
			break
		}
		switch prefix {
		case "hang":
			b.Hang = true
		case "crash":
			b.Crash = true
		case "die":
			b.Die = true
		case "slow":
			b.Delay = slowDelay
		case "navigate":
			b.Navigate, b.Target = tail, protocol.NavigationTarget{Kind: protocol.TargetSelf}
			b.Title = tail
			return b
		case "navigate-top":
			b.Navigate, b.Target = tail, protocol.NavigationTarget{Kind: protocol.TargetTop}
			b.Title = tail
			return b
		case "navigate-parent":
			b.Navigate, b.Target = tail, protocol.NavigationTarget{Kind: protocol.TargetParent}
			b.Title = tail
			return b
		case "replace":
			b.Navigate, b.Target, b.Replace = tail, protocol.NavigationTarget{Kind: protocol.TargetSelf}, true
			b.Title = tail
			return b
		default:
			b.Title = rest
			return b
		}
		rest = tail
	}
	b.Title = rest
	return b
}
