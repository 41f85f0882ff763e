package management

import (
	"fmt"
	"strings"

	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

func isFidoOnly(caps Capability) bool {
	return caps&^(CapabilityU2F|CapabilityFIDO2) == 0
}

func isFipsVersion(v yubikey.Version) bool {
	return v.IsAtLeast(4, 4, 0) && v.IsLessThan(4, 5, 0)
}

func isPreviewVersion(v yubikey.Version) bool {
	return (v.IsAtLeast(5, 0, 0) && v.IsLessThan(5, 1, 0)) ||
		(v.IsAtLeast(5, 2, 0) && v.IsLessThan(5, 2, 3)) ||
		(v.IsAtLeast(5, 5, 0) && v.IsLessThan(5, 5, 2))
}

// ProductName derives the marketing name of the device from its info.
func ProductName(info *DeviceInfo) string {
	usbSupported := info.SupportedCapabilities(yubikey.TransportUSB)
	sky := info.IsSky || (info.Serial == 0 && isFidoOnly(usbSupported))

	name := "YubiKey"
	switch {
	case sky:
		name = "Security Key by Yubico"
		if usbSupported&CapabilityFIDO2 != 0 {
			name = "FIDO U2F Security Key"
		}
		if info.HasTransport(yubikey.TransportNFC) {
			name = "Security Key NFC"
		}
	case info.Version.Major == 3:
		name = "YubiKey NEO"
	case info.Version.Major == 0:
		return fmt.Sprintf("YubiKey (%s)", info.Version)
	case info.Version.Major < 3:
		return "YubiKey"
	case info.Version.Major == 4:
		switch {
		case isFipsVersion(info.Version):
			name = "YubiKey FIPS"
		case usbSupported&(CapabilityOTP|CapabilityU2F) != 0:
			name = "YubiKey Edge"
		default:
			name = "YubiKey 4"
		}
	}

	if isPreviewVersion(info.Version) {
		return "YubiKey Preview"
	}

	if info.Version.IsAtLeast(5, 1, 0) && info.Version.Major != 0 {
		isNano := info.FormFactor == FormFactorUsbANano || info.FormFactor == FormFactorUsbCNano
		isBio := info.FormFactor == FormFactorUsbABio || info.FormFactor == FormFactorUsbCBio
		isC := info.FormFactor == FormFactorUsbCKeychain ||
			info.FormFactor == FormFactorUsbCNano ||
			info.FormFactor == FormFactorUsbCBio

		var parts []string
		if sky {
			parts = append(parts, "Security Key")
		} else {
			parts = append(parts, "YubiKey")
			if !isBio {
				parts = append(parts, "5")
			}
		}
		if isC {
			parts = append(parts, "C")
		} else if info.FormFactor == FormFactorUsbCLightning {
			parts = append(parts, "Ci")
		}
		if isNano {
			parts = append(parts, "Nano")
		}
		if info.HasTransport(yubikey.TransportNFC) {
			parts = append(parts, "NFC")
		} else if info.FormFactor == FormFactorUsbAKeychain {
			parts = append(parts, "A")
		}
		if isBio {
			parts = append(parts, "Bio")
			if isFidoOnly(usbSupported) {
				parts = append(parts, "- FIDO Edition")
			}
		}
		if info.IsFips {
			parts = append(parts, "FIPS")
		}

		name = strings.Join(parts, " ")
		name = strings.ReplaceAll(name, "5 C", "5C")
		name = strings.ReplaceAll(name, "5 A", "5A")
	}
	return name
}
