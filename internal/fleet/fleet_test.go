package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/snitch/internal/entity"
	"github.com/roach88/snitch/internal/schema"
)

func TestSources_MatchCatalogue(t *testing.T) {
	reg, err := schema.Default()
	require.NoError(t, err)

	sources := []entity.Source{
		Environment{AccountNumber: "123", Name: "prod"},
		Host{Hostname: "web1", Environment: "123-prod", Kernel: "5.4", MemTotalMB: Int64(2048)},
		AptPackage{Name: "curl", Version: "7.0"},
		Virtualenv{Path: "/opt/venv", Host: "web1-123-prod"},
		PythonPackage{Name: "requests", Version: "2.0"},
		Configfile{Path: "/etc/a.conf", Host: "web1-123-prod", Name: "a.conf", MD5: "x", Contents: "y"},
		NameServer{IP: "8.8.8.8"},
		Interface{Device: "eth0", Host: "web1-123-prod", Active: Bool(true), MTU: Int64(1500)},
		Mount{Mount: "/", Host: "web1-123-prod", Device: "/dev/sda1", SizeTotal: Int64(10)},
		Device{Name: "sda", Host: "web1-123-prod", Size: "10 GB"},
		Partition{Name: "sda1", Device: "sda-web1-123-prod", Size: "9 GB"},
		GitRepo{Path: "/srv/app", Environment: "123-prod", HeadSHA: "abc", IsDetached: Bool(false)},
		GitUntrackedFile{Path: "tmp.txt"},
		GitRemote{Name: "origin", Repo: "/srv/app-123-prod"},
		GitURL{URL: "https://example.com/app.git"},
		Uservar{Name: "region", Environment: "123-prod", Value: "us"},
	}
	for _, src := range sources {
		t.Run(src.Label(), func(t *testing.T) {
			_, err := entity.FromSource(reg, src)
			assert.NoError(t, err)
		})
	}
}

func TestHost_Identity(t *testing.T) {
	reg, err := schema.Default()
	require.NoError(t, err)

	in, err := entity.FromSource(reg, Host{Hostname: "web1", Environment: EnvironmentIdentity("123", "prod")})
	require.NoError(t, err)
	assert.Equal(t, HostIdentity("web1", "123-prod"), in.Identity())
	assert.Empty(t, in.State())
}

func TestProps_SkipsEmpty(t *testing.T) {
	got := Interface{Device: "eth0", Host: "h", Promisc: Bool(false)}.Properties()
	assert.Equal(t, map[string]any{"device": "eth0", "host": "h", "promisc": false}, got)
}
