package beacon

import (
	"encoding/binary"
	"encoding/hex"

	"en-sniffer.klederson.com/internal/config"
	"golang.org/x/xerrors"
	"tinygo.org/x/bluetooth"
)

// ENServiceUUID is the 16-bit service UUID of Exposure Notification beacons.
var ENServiceUUID = bluetooth.New16BitUUID(config.ENServiceUUID16)

// Payload is the decoded service data of one Exposure Notification
// advertisement.
type Payload struct {
	RPI [config.RPILength]byte
	AEM [config.AEMLength]byte
}

// DecodeServiceData extracts RPI and AEM from an advertisement's service
// data element.
func DecodeServiceData(elem bluetooth.ServiceDataElement) (Payload, error) {
	var p Payload
	if elem.UUID != ENServiceUUID {
		return p, xerrors.Errorf("service %s is not exposure notification: %w", elem.UUID.String(), ErrMalformed)
	}
	if len(elem.Data) != config.RPILength+config.AEMLength {
		return p, xerrors.Errorf("service data length %d, want %d: %w",
			len(elem.Data), config.RPILength+config.AEMLength, ErrMalformed)
	}
	copy(p.RPI[:], elem.Data[:config.RPILength])
	copy(p.AEM[:], elem.Data[config.RPILength:])
	return p, nil
}

// EncodeServiceData builds the service data element advertised for p.
func EncodeServiceData(p Payload) bluetooth.ServiceDataElement {
	data := make([]byte, 0, config.RPILength+config.AEMLength)
	data = append(data, p.RPI[:]...)
	data = append(data, p.AEM[:]...)
	return bluetooth.ServiceDataElement{UUID: ENServiceUUID, Data: data}
}

// RPIHex returns the identity as lowercase hex.
func (p Payload) RPIHex() string {
	return hex.EncodeToString(p.RPI[:])
}

// AEMValue returns the metadata as a big-endian integer.
func (p Payload) AEMValue() uint32 {
	return binary.BigEndian.Uint32(p.AEM[:])
}

// Observation pairs the payload with signal measurements.
func (p Payload) Observation(rssi int, avg float64) Observation {
	return Observation{
		RPI:                p.RPIHex(),
		AEM:                p.AEMValue(),
		RSSI:               rssi,
		RunningAverageRSSI: avg,
	}
}
