package config

import (
	"strings"
	"testing"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid example config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing uri",
			mutate:  func(c *Config) { c.URI = "" },
			wantErr: true,
		},
		{
			name:    "max below min",
			mutate:  func(c *Config) { c.MaxSize = c.MinSize - 1 },
			wantErr: true,
		},
		{
			name:    "zero min size",
			mutate:  func(c *Config) { c.MinSize = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ExampleConfig()
			tt.mutate(&c)
			err := c.Check()
			if tt.wantErr && err == nil {
				t.Errorf("Check() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Check() = %v, want nil", err)
			}
		})
	}
}

func TestReadRoundTrip(t *testing.T) {
	yamlDoc := `
uri: ws://db.example.com/rpc
credentials:
  username: alice
  password: s3cr3t
minSize: 3
maxSize: 8
`
	c, err := Read(strings.NewReader(yamlDoc))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if c.URI != "ws://db.example.com/rpc" {
		t.Errorf("URI = %q", c.URI)
	}
	if c.MinSize != 3 || c.MaxSize != 8 {
		t.Errorf("MinSize/MaxSize = %d/%d", c.MinSize, c.MaxSize)
	}

	withDefaults := c.WithDefaults()
	if withDefaults.ConnectionTimeoutSeconds != 5 {
		t.Errorf("ConnectionTimeoutSeconds default = %v, want 5", withDefaults.ConnectionTimeoutSeconds)
	}

	pc := withDefaults.ToPoolConfig()
	if pc.MinSize != 3 || pc.MaxSize != 8 {
		t.Errorf("ToPoolConfig MinSize/MaxSize = %d/%d", pc.MinSize, pc.MaxSize)
	}
}

func TestDesensitizedCopyRedactsSecrets(t *testing.T) {
	c := ExampleConfig()
	c.Credentials.Password = "hunter2hunter2"
	d := c.DesensitizedCopy()

	if d.Credentials.Password == c.Credentials.Password {
		t.Errorf("DesensitizedCopy() did not redact password")
	}
	if c.Credentials.Password != "hunter2hunter2" {
		t.Errorf("DesensitizedCopy() mutated the original config")
	}
}
