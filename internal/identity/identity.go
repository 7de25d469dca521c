// Package identity manages the pool of proxies and user-agent strings
// presented to the target site, one pair per fetch attempt.
package identity

import (
	"math/rand"

	"github.com/corpix/uarand"
)

// Identity is a (proxy, user-agent) pair used for a single fetch attempt.
// Proxy is empty for a direct connection.
type Identity struct {
	Proxy     string
	UserAgent string
}

// Pool holds the configured proxies and user agents and hands out a
// uniformly random pair per attempt. Selection is with replacement and
// never mutates the pool, so repeats are possible and expected.
type Pool struct {
	proxies    []string
	userAgents []string
	rng        *rand.Rand
}

// New creates a pool from the configured lists. An empty proxy list is
// valid and means direct connections. An empty user-agent list falls back
// to a randomized real-browser user agent on each selection. The random
// source is injected so tests can seed it; a nil src uses the shared
// package-level source.
func New(proxies, userAgents []string, src *rand.Rand) *Pool {
	return &Pool{
		proxies:    proxies,
		userAgents: userAgents,
		rng:        src,
	}
}

// Select returns one identity. It always succeeds: with no configured
// user agents it substitutes a randomized default, and with no proxies
// it returns a direct-connection identity.
func (p *Pool) Select() Identity {
	var id Identity

	if len(p.proxies) > 0 {
		id.Proxy = p.proxies[p.intn(len(p.proxies))]
	}

	if len(p.userAgents) > 0 {
		id.UserAgent = p.userAgents[p.intn(len(p.userAgents))]
	} else {
		id.UserAgent = uarand.GetRandom()
	}

	return id
}

func (p *Pool) intn(n int) int {
	if p.rng != nil {
		return p.rng.Intn(n)
	}
	return rand.Intn(n)
}
