package permission

import (
	"reflect"
	"testing"
)

func TestResolveSkipsDisabledAndDedupes(t *testing.T) {
	read := Permission{ID: 1, Code: "orders.read", Enabled: true, Resource: Resource{Type: ResourceAPI, URL: "/orders/**"}}
	write := Permission{ID: 2, Code: "orders.write", Enabled: true}
	off := Permission{ID: 3, Code: "orders.delete", Enabled: false}
	audit := Permission{ID: 4, Code: "audit.read", Enabled: true}

	set := Resolve([]Role{
		{ID: 1, Code: "clerk", Enabled: true, Permissions: []Permission{read, write, off}},
		{ID: 2, Code: "viewer", Enabled: true, Permissions: []Permission{read}},
		{ID: 3, Code: "auditor", Enabled: false, Permissions: []Permission{audit}},
	})

	if got, want := set.Codes(), []string{"orders.read", "orders.write"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("codes: got %v want %v", got, want)
	}
	if set.Has("orders.delete") || set.Has("audit.read") {
		t.Fatal("disabled permission or role leaked into the set")
	}
	if len(set.Resources()) != 1 {
		t.Fatalf("expected duplicate URL grant to collapse, got %v", set.Resources())
	}
}

func TestResourceMatches(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/orders", "/orders", true},
		{"/orders", "/orders/", true},
		{"/orders", "/orders/1", false},
		{"/orders/**", "/orders", true},
		{"/orders/**", "/orders/1/items", true},
		{"/orders/**", "/orders-archive", false},
		{"/orders/**", "/order", false},
		{"/**", "/anything/at/all", true},
		{"/reports", "/reports?year=2024", true},
		{"reports", "/reports", true},
		{"/orders", "", false},
	}
	for _, tc := range cases {
		got := Resource{URL: tc.pattern}.Matches(tc.path)
		if got != tc.want {
			t.Fatalf("%q vs %q: expected %v, got %v", tc.pattern, tc.path, tc.want, got)
		}
	}
}

func TestNilSetGrantsNothing(t *testing.T) {
	var s *Set
	if s.Has("x") || s.AllowsURL("/x") || s.Len() != 0 {
		t.Fatal("nil set must grant nothing")
	}
}
