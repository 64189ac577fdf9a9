package cliutil

import (
	"reflect"
	"testing"
)

func TestRewriteProjectShorthand(t *testing.T) {
	cases := []struct {
		name string
		in   []string
		want []string
	}{
		{"pinned token", []string{"@pinned", "status"}, []string{"-C", "@pinned", "status"}},
		{"no token", []string{"status"}, []string{"status"}},
		{"empty", nil, nil},
		{"bare at sign", []string{"@", "status"}, []string{"@", "status"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RewriteProjectShorthand(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("RewriteProjectShorthand(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
