package sighting

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// SeenLayout is the timestamp layout of rendered records.
const SeenLayout = "2006-01-02T15:04:05-0700"

// Record is the canonical rendering of an Entry. Fields are declared in
// lexicographic key order so encoding/json emits sorted keys.
type Record struct {
	AEM      string     `json:"aem"`
	First    SeenRecord `json:"first"`
	Last     SeenRecord `json:"last"`
	MaxRSSI  int        `json:"maxRssi"`
	MeanRSSI SigFig4    `json:"meanRssi"`
	NScans   int        `json:"nScans"`
	RPI      string     `json:"rpi"`
}

// SeenRecord renders a Snapshot. Location keys are omitted when there was
// no fix.
type SeenRecord struct {
	Accuracy  *int64      `json:"accuracy,omitempty"`
	Latitude  *Coordinate `json:"latitude,omitempty"`
	Longitude *Coordinate `json:"longitude,omitempty"`
	Seen      string      `json:"seen"`
}

// SigFig4 marshals as a number with four significant digits, keeping
// trailing zeros (-62 encodes as -62.00). Ties on the shortest decimal
// representation round half up (-62.125 encodes as -62.13). Values below
// 1e-4 or from 1e4 up use d.ddde±XX notation.
type SigFig4 float64

const sigDigits = 4

func (f SigFig4) String() string {
	v := float64(f)
	sign := ""
	if math.Signbit(v) {
		sign = "-"
	}

	// Shortest decimal digits and exponent, e.g. "6.2125e+01".
	mant, expStr, _ := strings.Cut(strconv.FormatFloat(math.Abs(v), 'e', -1, 64), "e")
	exp, _ := strconv.Atoi(expStr)
	digits := []byte(strings.Replace(mant, ".", "", 1))

	if len(digits) > sigDigits {
		roundUp := digits[sigDigits] >= '5'
		digits = digits[:sigDigits]
		if roundUp {
			i := sigDigits - 1
			for ; i >= 0; i-- {
				if digits[i] < '9' {
					digits[i]++
					break
				}
				digits[i] = '0'
			}
			if i < 0 {
				// All nines carried over: 9999.5 becomes 1.000e+04.
				digits[0] = '1'
				exp++
			}
		}
	}
	for len(digits) < sigDigits {
		digits = append(digits, '0')
	}

	if v != 0 && (exp < -4 || exp >= sigDigits) {
		return fmt.Sprintf("%s%c.%se%c%02d", sign, digits[0], digits[1:], expSign(exp), abs(exp))
	}
	if exp < 0 {
		return sign + "0." + strings.Repeat("0", -exp-1) + string(digits)
	}
	if exp+1 >= sigDigits {
		return sign + string(digits)
	}
	return sign + string(digits[:exp+1]) + "." + string(digits[exp+1:])
}

func expSign(exp int) byte {
	if exp < 0 {
		return '-'
	}
	return '+'
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (f SigFig4) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, xerrors.Errorf("unsupported mean rssi %v", v)
	}
	return []byte(f.String()), nil
}

// Coordinate marshals in shortest round-trip form, always with a decimal
// point (13 encodes as 13.0).
type Coordinate float64

func (c Coordinate) MarshalJSON() ([]byte, error) {
	v := float64(c)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, xerrors.Errorf("unsupported coordinate %v", v)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return []byte(s), nil
}

// Render produces the canonical record. It has no side effects.
func (e *Entry) Render() Record {
	return Record{
		AEM:      fmt.Sprintf("%08x", e.AEM),
		First:    renderSnapshot(e.First),
		Last:     renderSnapshot(e.Last),
		MaxRSSI:  e.MaxRSSI,
		MeanRSSI: SigFig4(e.MeanRSSI),
		NScans:   e.NScans,
		RPI:      e.RPI,
	}
}

func renderSnapshot(s Snapshot) SeenRecord {
	r := SeenRecord{Seen: FormatSeen(s.Seen)}
	if s.Location != nil {
		acc := int64(math.Floor(s.Location.Accuracy + 0.5))
		lat := Coordinate(s.Location.Latitude)
		lon := Coordinate(s.Location.Longitude)
		r.Accuracy = &acc
		r.Latitude = &lat
		r.Longitude = &lon
	}
	return r
}

// FormatSeen renders t in UTC at second resolution with a numeric offset.
func FormatSeen(t time.Time) string {
	return t.UTC().Format(SeenLayout)
}

// JSON encodes the record without whitespace.
func (r Record) JSON() ([]byte, error) {
	return json.Marshal(r)
}

// String returns the JSON encoding, or an error marker if the record holds
// non-finite numbers.
func (r Record) String() string {
	b, err := r.JSON()
	if err != nil {
		return fmt.Sprintf("!(%v)", err)
	}
	return string(b)
}
