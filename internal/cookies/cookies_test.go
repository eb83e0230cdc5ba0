package cookies

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Entry
	}{
		{"drops empty and bare segments", `a=1; b="2"; ; c`, []Entry{{"a", "1"}, {"b", "2"}}},
		{"facebook style", "c_user=123;xs=abc;", []Entry{{"c_user", "123"}, {"xs", "abc"}}},
		{"empty string", "", nil},
		{"only separators", " ; ;; ", nil},
		{"empty name dropped", "=x; y=1", []Entry{{"y", "1"}}},
		{"empty value kept", "k=", []Entry{{"k", ""}}},
		{"splits on first equals", "tok=a=b==", []Entry{{"tok", "a=b=="}}},
		{"single quotes stripped", "k='v'", []Entry{{"k", "v"}}},
		{"only one layer stripped", `k=""v""`, []Entry{{"k", `"v"`}}},
		{"mismatched quotes verbatim", `k="v'`, []Entry{{"k", `"v'`}}},
		{"leading quote only", `k="v`, []Entry{{"k", `"v`}}},
		{"lone quote", `k="`, []Entry{{"k", `"`}}},
		{"quoted semicolon splits", `name="va;lue"`, []Entry{{"name", `"va`}}},
		{"whitespace trimmed", "  a = 1 ;b=2  ", []Entry{{"a", "1"}, {"b", "2"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.in))
		})
	}
}

func TestForDomains(t *testing.T) {
	entries := Parse("c_user=123;xs=abc")
	creds := ForDomains(entries, []string{".facebook.com", ".meta.com"})
	require.Len(t, creds, 4)
	assert.Equal(t, ".facebook.com", creds[0].Domain)
	assert.Equal(t, ".meta.com", creds[3].Domain)
	for _, c := range creds {
		assert.Equal(t, "/", c.Path)
		assert.True(t, c.Secure)
	}
}

func TestApplyToleratesDomainFailure(t *testing.T) {
	entries := Parse("a=1")
	var seen []string
	applied, failed := Apply(entries, []string{"one", "bad", "two"}, func(domain string, creds []Credential) error {
		seen = append(seen, domain)
		if domain == "bad" {
			return errors.New("boom")
		}
		return nil
	})

	assert.Equal(t, []string{"one", "bad", "two"}, seen)
	assert.Equal(t, 2, applied)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].Domain)
	assert.ErrorContains(t, failed[0], "boom")
}
