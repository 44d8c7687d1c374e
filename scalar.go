package safetensors_parser

import (
	"errors"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

const (
	_Thousand    = 1e3
	_Million     = 1e6
	_Billion     = 1e9
	_Trillion    = 1e12
	_Quadrillion = 1e15
)

// _NumberBaseUnitMatrix is the base unit matrix for numbers.
var _NumberBaseUnitMatrix = []struct {
	Base float64
	Unit string
}{
	{_Quadrillion, "Q"},
	{_Trillion, "T"},
	{_Billion, "B"},
	{_Million, "M"},
	{_Thousand, "K"},
}

type (
	// SafetensorsBytesScalar is the scalar for bytes.
	SafetensorsBytesScalar uint64

	// SafetensorsParametersScalar is the scalar for parameters.
	SafetensorsParametersScalar uint64
)

// ParseSafetensorsBytesScalar parses the SafetensorsBytesScalar from the string,
// both SI (e.g. "4 MB") and IEC (e.g. "4 MiB") units are accepted.
func ParseSafetensorsBytesScalar(s string) (SafetensorsBytesScalar, error) {
	if s == "" {
		return 0, errors.New("invalid SafetensorsBytesScalar")
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return SafetensorsBytesScalar(n), nil
}

func (s SafetensorsBytesScalar) String() string {
	return humanize.IBytes(uint64(s))
}

// ParseSafetensorsParametersScalar parses the SafetensorsParametersScalar from the string,
// e.g. "2.5 B".
func ParseSafetensorsParametersScalar(s string) (SafetensorsParametersScalar, error) {
	if s == "" {
		return 0, errors.New("invalid SafetensorsParametersScalar")
	}
	b := float64(1)
	for i := range _NumberBaseUnitMatrix {
		if strings.HasSuffix(s, _NumberBaseUnitMatrix[i].Unit) {
			b = _NumberBaseUnitMatrix[i].Base
			s = strings.TrimSuffix(s, _NumberBaseUnitMatrix[i].Unit)
			break
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return SafetensorsParametersScalar(f * b), nil
}

func (s SafetensorsParametersScalar) String() string {
	if s == 0 {
		return "0"
	}
	b, u := float64(1), ""
	for i := range _NumberBaseUnitMatrix {
		if float64(s) >= _NumberBaseUnitMatrix[i].Base {
			b = _NumberBaseUnitMatrix[i].Base
			u = _NumberBaseUnitMatrix[i].Unit
			break
		}
	}
	f := strconv.FormatFloat(float64(s)/b, 'f', 2, 64)
	if u == "" {
		return strings.TrimSuffix(f, ".00")
	}
	return strings.TrimSuffix(f, ".00") + " " + u
}
