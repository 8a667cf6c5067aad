package cmd

import "testing"

func TestValidateAddr(t *testing.T) {
	t.Parallel()

	valid := []struct {
		name string
		addr string
	}{
		{name: "port only", addr: ":7700"},
		{name: "localhost", addr: "localhost:7700"},
		{name: "loopback ip", addr: "127.0.0.1:7700"},
		{name: "wildcard ip", addr: "0.0.0.0:443"},
		{name: "ipv6 loopback", addr: "[::1]:7700"},
		{name: "kernel-assigned port", addr: ":0"},
		{name: "highest port", addr: ":65535"},
		{name: "plain hostname", addr: "quarry.internal:7700"},
	}
	for _, tt := range valid {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := validateAddr(tt.addr); err != nil {
				t.Errorf("validateAddr(%q) = %v, want nil", tt.addr, err)
			}
		})
	}

	invalid := []struct {
		name string
		addr string
	}{
		{name: "missing port", addr: "localhost"},
		{name: "bare number", addr: "7700"},
		{name: "empty", addr: ""},
		{name: "non-numeric port", addr: ":http"},
		{name: "negative port", addr: ":-5"},
		{name: "port above range", addr: ":70000"},
		{name: "trailing colon", addr: "localhost:"},
		{name: "space in host", addr: "quarry host:7700"},
		{name: "control char in host", addr: "quarry\thost:7700"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := validateAddr(tt.addr); err == nil {
				t.Errorf("validateAddr(%q) = nil, want error", tt.addr)
			}
		})
	}
}

func FuzzValidateAddr(f *testing.F) {
	seeds := []string{
		":7700",
		"localhost:7700",
		"10.0.0.1:443",
		"",
		"quarry",
		":0",
		":70000",
		"[::1]:7700",
		"bad host:80",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, addr string) {
		_ = validateAddr(addr) // must not panic
	})
}
