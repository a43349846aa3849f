package symbols

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ubuntuBanner = "Linux version 5.4.0-42-generic (buildd@lgw01-amd64-038) " +
	"(gcc version 9.3.0 (Ubuntu 9.3.0-10ubuntu2)) #46-Ubuntu SMP Fri Jul 10 00:24:02 UTC 2020"

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		banner     string
		wantKernel string
		wantErr    bool
	}{
		{
			name:       "ubuntu generic kernel",
			banner:     ubuntuBanner,
			wantKernel: "5.4.0-42-generic",
		},
		{
			name:       "quoted banner",
			banner:     `"` + ubuntuBanner + `"`,
			wantKernel: "5.4.0-42-generic",
		},
		{
			name:       "trailing nul and newline padding",
			banner:     ubuntuBanner + "\n\x00\x00",
			wantKernel: "5.4.0-42-generic",
		},
		{
			name:       "debian kernel",
			banner:     "Linux version 4.19.0-9-amd64 (debian-kernel@lists.debian.org) (gcc version 8.3.0 (Debian 8.3.0-6)) #1 SMP Debian 4.19.118-2 (2020-04-29)",
			wantKernel: "4.19.0-9-amd64",
		},
		{
			name:    "empty banner",
			banner:  "",
			wantErr: true,
		},
		{
			name:    "garbage banner",
			banner:  "Windows 10 Build 19041",
			wantErr: true,
		},
		{
			name:    "missing build number",
			banner:  "Linux version 5.4.0-42-generic (buildd@host) (gcc version 9.3.0)",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			banner, err := Parse(tt.banner)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrBannerUnparsable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKernel, banner.Kernel)
		})
	}
}

func TestBanner_Architecture(t *testing.T) {
	t.Parallel()

	banner, err := Parse(ubuntuBanner)
	require.NoError(t, err)
	assert.Equal(t, "amd64", banner.Architecture())
}

func TestBanner_Distribution(t *testing.T) {
	t.Parallel()

	banner, err := Parse(ubuntuBanner)
	require.NoError(t, err)
	assert.Equal(t, "ubuntu", banner.Distribution())
}

type staticCatalog []string

func (c staticCatalog) AvailableBanners(ctx context.Context) ([]string, error) {
	return c, nil
}

func TestHasKernel(t *testing.T) {
	t.Parallel()

	catalog := staticCatalog{
		"",
		"not a banner at all",
		ubuntuBanner,
	}

	ok, err := HasKernel(context.Background(), catalog, "5.4.0-42-generic")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = HasKernel(context.Background(), catalog, "5.8.0-1-generic")
	require.NoError(t, err)
	assert.False(t, ok)
}
