package domains_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/iiif-auth-server/domains"
	"github.com/stretchr/testify/require"
)

const testCustomer = 2

type fakeDomains struct {
	domains map[int][]string
	err     error
	calls   int
}

func (f *fakeDomains) GetCookieDomains(_ context.Context, customerID int) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.domains[customerID], nil
}

func request(target string) *http.Request {
	return httptest.NewRequest(http.MethodGet, target, nil)
}

func TestTrust_OriginForControlledDomain(t *testing.T) {
	source := &fakeDomains{domains: map[int][]string{
		testCustomer: {"example.org", ".viewer.net"},
	}}
	trust := domains.NewTrust(source)

	tests := []struct {
		name   string
		target string
		origin string
		want   bool
	}{
		{name: "same origin", target: "https://auth.example.com/access", origin: "https://auth.example.com", want: true},
		{name: "same origin with port", target: "http://localhost:5000/access", origin: "http://localhost:5000", want: true},
		{name: "subdomain of current host", target: "https://example.com/access", origin: "https://iiif.example.com", want: true},
		{name: "customer domain exact", target: "https://auth.example.com/access", origin: "https://example.org", want: true},
		{name: "customer domain subdomain", target: "https://auth.example.com/access", origin: "https://www.example.org", want: true},
		{name: "customer domain with leading dot", target: "https://auth.example.com/access", origin: "https://app.viewer.net", want: true},
		{name: "unrelated domain", target: "https://auth.example.com/access", origin: "https://unrelated.io", want: false},
		{name: "suffix without dot boundary", target: "https://auth.example.com/access", origin: "https://notexample.org", want: false},
		{name: "parent of current host", target: "https://auth.example.com/access", origin: "https://example.com", want: false},
		{name: "not a url", target: "https://auth.example.com/access", origin: "::::", want: false},
		{name: "empty origin", target: "https://auth.example.com/access", origin: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := request(tt.target)
			got := trust.OriginForControlledDomain(context.Background(), r, testCustomer, tt.origin)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestTrust_OtherCustomerDomainsNotTrusted(t *testing.T) {
	source := &fakeDomains{domains: map[int][]string{1: {"example.org"}}}
	trust := domains.NewTrust(source)

	got := trust.OriginForControlledDomain(context.Background(), request("https://auth.example.com/"), testCustomer, "https://example.org")

	require.False(t, got)
}

func TestTrust_StoreErrorFailsOpen(t *testing.T) {
	source := &fakeDomains{err: errors.New("connection refused")}
	trust := domains.NewTrust(source)

	got := trust.OriginForControlledDomain(context.Background(), request("https://auth.example.com/"), testCustomer, "https://unrelated.io")

	require.True(t, got, "a domain store failure must not block the flow")
	require.Equal(t, 1, source.calls)
}

func TestTrust_SameHostSkipsStore(t *testing.T) {
	source := &fakeDomains{err: errors.New("should not be called")}
	trust := domains.NewTrust(source)

	got := trust.OriginForControlledDomain(context.Background(), request("https://auth.example.com/"), testCustomer, "https://auth.example.com")

	require.True(t, got)
	require.Equal(t, 0, source.calls)
}

func TestIsSubOrEqualDomain(t *testing.T) {
	require.True(t, domains.IsSubOrEqualDomain("a.b.example.com", "example.com"))
	require.True(t, domains.IsSubOrEqualDomain("EXAMPLE.com", "example.COM"))
	require.False(t, domains.IsSubOrEqualDomain("badexample.com", "example.com"))
	require.False(t, domains.IsSubOrEqualDomain("example.com", ""))
}
