// Package verify checks that a zone change is observably live by querying
// resolvers directly, bypassing the control plane. Authoritative propagation
// and resolver caches are decoupled from control-plane status reporting, so
// a negative result here is a soft signal, not a system fault.
package verify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
)

// Exchanger performs one DNS exchange. *dns.Client satisfies it.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

// DefaultServers are the public resolvers queried when none are configured.
var DefaultServers = []string{"8.8.8.8:53", "1.1.1.1:53"}

const defaultBackoff = 30 * time.Second

// Resolver issues independent resolution checks against one or more
// nameservers.
type Resolver struct {
	servers []string
	client  Exchanger
	backoff time.Duration
	log     logr.Logger
}

// Config tunes a Resolver. Zero values select defaults.
type Config struct {
	// Servers are nameserver addresses in host:port form.
	Servers []string
	// Backoff is the fixed delay between attempts.
	Backoff time.Duration
	// Timeout bounds each individual DNS exchange.
	Timeout time.Duration
}

// New creates a Resolver over UDP with the given settings.
func New(log logr.Logger, cfg Config) *Resolver {
	servers := cfg.Servers
	if len(servers) == 0 {
		servers = DefaultServers
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	client := &dns.Client{}
	if cfg.Timeout > 0 {
		client.Timeout = cfg.Timeout
	}
	return &Resolver{servers: servers, client: client, backoff: backoff, log: log}
}

// Verify queries until the name/type resolves to exactly the expected value
// set, retrying on empty or mismatched answers up to attempts with a fixed
// backoff. An empty expected set is satisfied by a negative answer (used
// after deletions). Returns false, not an error, on exhaustion.
func (r *Resolver) Verify(ctx context.Context, name, rtype string, expected []string, attempts int) (bool, error) {
	qtype, ok := dns.StringToType[rtype]
	if !ok {
		return false, fmt.Errorf("verify: unknown record type %q", rtype)
	}
	if attempts <= 0 {
		attempts = 1
	}
	fqdn := dns.Fqdn(name)

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(r.backoff):
			}
		}
		if r.queryAll(ctx, fqdn, qtype, expected) {
			r.log.V(1).Info("resolution verified", "name", name, "type", rtype, "attempt", attempt)
			return true, nil
		}
		r.log.V(1).Info("resolution not yet observable", "name", name, "type", rtype, "attempt", attempt)
	}
	return false, nil
}

// queryAll asks every configured server concurrently; one exact match
// satisfies the attempt. Per-server errors are logged, never fatal.
func (r *Resolver) queryAll(ctx context.Context, fqdn string, qtype uint16, expected []string) bool {
	var matched atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	for _, server := range r.servers {
		server := server
		g.Go(func() error {
			m := &dns.Msg{}
			m.SetQuestion(fqdn, qtype)
			m.RecursionDesired = true
			in, _, err := r.client.ExchangeContext(gctx, m, server)
			if err != nil {
				r.log.V(1).Info("query failed", "server", server, "name", fqdn, "error", err.Error())
				return nil
			}
			if sameValueSet(answerValues(in, fqdn, qtype), expected) {
				matched.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()
	return matched.Load()
}

// answerValues extracts the rdata strings for records matching the question.
func answerValues(in *dns.Msg, fqdn string, qtype uint16) []string {
	var out []string
	for _, rr := range in.Answer {
		if rr.Header().Name != fqdn || rr.Header().Rrtype != qtype {
			continue
		}
		switch v := rr.(type) {
		case *dns.A:
			out = append(out, v.A.String())
		case *dns.AAAA:
			out = append(out, v.AAAA.String())
		case *dns.CNAME:
			out = append(out, v.Target)
		case *dns.TXT:
			out = append(out, v.Txt...)
		case *dns.NS:
			out = append(out, v.Ns)
		case *dns.PTR:
			out = append(out, v.Ptr)
		case *dns.MX:
			out = append(out, fmt.Sprintf("%d %s", v.Preference, v.Mx))
		case *dns.SRV:
			out = append(out, fmt.Sprintf("%d %d %d %s", v.Priority, v.Weight, v.Port, v.Target))
		}
	}
	return out
}

// sameValueSet compares two value sets ignoring order.
func sameValueSet(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	seen := make(map[string]int, len(want))
	for _, v := range want {
		seen[v]++
	}
	for _, v := range got {
		if seen[v] == 0 {
			return false
		}
		seen[v]--
	}
	return true
}
