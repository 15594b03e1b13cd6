package connresolve_test

import (
	"testing"

	"github.com/pgnotifyhub/hub/connresolve"
)

func TestSameConnection(t *testing.T) {
	a, err := connresolve.Resolve("host=db1 dbname=shop user=app")
	if err != nil {
		t.Fatalf("resolve a: %v", err)
	}
	b, err := connresolve.Resolve("host=db1 dbname=shop user=app port=5432")
	if err != nil {
		t.Fatalf("resolve b: %v", err)
	}
	if !connresolve.SameConnection(a, b) {
		t.Fatalf("expected same connection for identical host/dbname/user")
	}
}

func TestSameConnection_DifferentDatabase(t *testing.T) {
	a, err := connresolve.Resolve("host=db1 dbname=shop user=app")
	if err != nil {
		t.Fatalf("resolve a: %v", err)
	}
	b, err := connresolve.Resolve("host=db1 dbname=other user=app")
	if err != nil {
		t.Fatalf("resolve b: %v", err)
	}
	if connresolve.SameConnection(a, b) {
		t.Fatalf("expected different connection for different dbname")
	}
}

func TestHosts(t *testing.T) {
	cfg, err := connresolve.Resolve("host=db1 dbname=shop user=app")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	hosts := connresolve.Hosts(cfg)
	if len(hosts) != 1 || hosts[0] != "db1" {
		t.Fatalf("expected [db1], got %v", hosts)
	}
}
