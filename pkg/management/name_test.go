package management

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

func TestProductName(t *testing.T) {
	tests := []struct {
		name string
		info DeviceInfo
		want string
	}{
		{
			name: "YK5 NFC keychain",
			info: DeviceInfo{
				Serial:     123456,
				Version:    yubikey.Version{Major: 5, Minor: 4, Micro: 3},
				FormFactor: FormFactorUsbAKeychain,
				Supported: map[yubikey.Transport]Capability{
					yubikey.TransportUSB: 0x23f,
					yubikey.TransportNFC: 0x23f,
				},
			},
			want: "YubiKey 5 NFC",
		},
		{
			name: "YK5C nano",
			info: DeviceInfo{
				Serial:     123456,
				Version:    yubikey.Version{Major: 5, Minor: 2, Micro: 4},
				FormFactor: FormFactorUsbCNano,
				Supported: map[yubikey.Transport]Capability{
					yubikey.TransportUSB: 0x23f,
				},
			},
			want: "YubiKey 5C Nano",
		},
		{
			name: "YK5A non-NFC",
			info: DeviceInfo{
				Serial:     123456,
				Version:    yubikey.Version{Major: 5, Minor: 4, Micro: 3},
				FormFactor: FormFactorUsbAKeychain,
				Supported: map[yubikey.Transport]Capability{
					yubikey.TransportUSB: 0x23f,
				},
			},
			want: "YubiKey 5A",
		},
		{
			name: "bio FIDO edition",
			info: DeviceInfo{
				Serial:     123456,
				Version:    yubikey.Version{Major: 5, Minor: 6, Micro: 6},
				FormFactor: FormFactorUsbCBio,
				Supported: map[yubikey.Transport]Capability{
					yubikey.TransportUSB: CapabilityU2F | CapabilityFIDO2,
				},
			},
			want: "YubiKey C Bio - FIDO Edition",
		},
		{
			name: "security key NFC",
			info: DeviceInfo{
				Version:    yubikey.Version{Major: 5, Minor: 4, Micro: 3},
				FormFactor: FormFactorUsbAKeychain,
				IsSky:      true,
				Supported: map[yubikey.Transport]Capability{
					yubikey.TransportUSB: CapabilityU2F | CapabilityFIDO2,
					yubikey.TransportNFC: CapabilityU2F | CapabilityFIDO2,
				},
			},
			want: "Security Key NFC",
		},
		{
			name: "YK4 FIPS",
			info: DeviceInfo{
				Serial:  123456,
				Version: yubikey.Version{Major: 4, Minor: 4, Micro: 5},
				Supported: map[yubikey.Transport]Capability{
					yubikey.TransportUSB: 0x3f,
				},
			},
			want: "YubiKey FIPS",
		},
		{
			name: "NEO",
			info: DeviceInfo{
				Serial:  123456,
				Version: yubikey.Version{Major: 3, Minor: 4, Micro: 9},
				Supported: map[yubikey.Transport]Capability{
					yubikey.TransportUSB: 0x3b,
				},
			},
			want: "YubiKey NEO",
		},
		{
			name: "preview firmware",
			info: DeviceInfo{
				Serial:  123456,
				Version: yubikey.Version{Major: 5, Minor: 2, Micro: 2},
				Supported: map[yubikey.Transport]Capability{
					yubikey.TransportUSB: 0x23f,
				},
			},
			want: "YubiKey Preview",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProductName(&tt.info))
		})
	}
}
