package management

import (
	"fmt"

	"github.com/seagrayinc/yubikit/internal/tlv"
	"github.com/seagrayinc/yubikit/pkg/yubikey"
)

// VersionQualifier describes a pre-release firmware build: the version it
// will be released as, the release stage, and the build iteration.
type VersionQualifier struct {
	Version   yubikey.Version
	Type      QualifierType
	Iteration int
}

// QualifierType is a firmware release stage.
type QualifierType int

const (
	QualifierAlpha QualifierType = 0
	QualifierBeta  QualifierType = 1
	QualifierFinal QualifierType = 2
)

func (t QualifierType) String() string {
	switch t {
	case QualifierAlpha:
		return "alpha"
	case QualifierBeta:
		return "beta"
	case QualifierFinal:
		return "final"
	default:
		return "unknown"
	}
}

// IsFinal reports whether this is release firmware.
func (q VersionQualifier) IsFinal() bool {
	return q.Type == QualifierFinal
}

func (q VersionQualifier) String() string {
	return fmt.Sprintf("%s.%s.%d", q.Version, q.Type, q.Iteration)
}

// Sub-TLV tags inside the version qualifier record.
const (
	tagQualifierVersion   = 0x01
	tagQualifierType      = 0x02
	tagQualifierIteration = 0x03
)

func parseVersionQualifier(data []byte) (VersionQualifier, error) {
	m, err := tlv.DecodeMap(data)
	if err != nil {
		return VersionQualifier{}, yubikey.BadResponse("malformed version qualifier: %v", err)
	}
	t := QualifierType(readInt(m[tagQualifierType]))
	if t < QualifierAlpha || t > QualifierFinal {
		return VersionQualifier{}, yubikey.BadResponse("invalid version qualifier type: %d", t)
	}
	return VersionQualifier{
		Version:   yubikey.VersionFromBytes(m[tagQualifierVersion]),
		Type:      t,
		Iteration: readInt(m[tagQualifierIteration]),
	}, nil
}
