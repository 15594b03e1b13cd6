// Package connresolve resolves a logical channel's connection string into
// a fully-merged Postgres connection descriptor.
//
// Precedence (connection string > service file > environment) and the
// service-file / passfile search path ($PGSERVICEFILE, ~/.pg_service.conf,
// $PGSYSCONFDIR/pg_service.conf, $PGPASSFILE, ~/.pgpass, including the
// 0600 mode check) are entirely implemented by
// github.com/jackc/pgx/v5/pgconn.ParseConfig; that collaborator is
// out of scope for this hub, so we only wrap it for the pieces the pool
// needs: a stable dedup key and a readable description for logging.
package connresolve

import (
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgconn"
)

// Resolve merges the connection string with the service file and PG*
// environment variables into a fully-populated *pgconn.Config.
func Resolve(connString string) (*pgconn.Config, error) {
	cfg, err := pgconn.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("resolve connection string: %w", err)
	}
	return cfg, nil
}

// Hosts returns the ordered list of hosts a config will try, primary
// host first, followed by any fallbacks. A host that appears in several
// fallbacks (pgconn adds one per TLS attempt) is listed once.
func Hosts(cfg *pgconn.Config) []string {
	hosts := []string{cfg.Host}
	seen := map[string]struct{}{cfg.Host: {}}
	for _, fb := range cfg.Fallbacks {
		if _, dup := seen[fb.Host]; dup {
			continue
		}
		seen[fb.Host] = struct{}{}
		hosts = append(hosts, fb.Host)
	}
	return hosts
}

// SameConnection reports whether two descriptors would dedup to the same
// pool entry: equal (hosts, dbname, user) per spec's pool identity rule.
func SameConnection(a, b *pgconn.Config) bool {
	if a.Database != b.Database || a.User != b.User {
		return false
	}
	return sameHosts(Hosts(a), Hosts(b))
}

func sameHosts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := append([]string(nil), a...), append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// Describe renders a short, password-free string for logging.
func Describe(cfg *pgconn.Config) string {
	return fmt.Sprintf("host=%v dbname=%s user=%s", Hosts(cfg), cfg.Database, cfg.User)
}
