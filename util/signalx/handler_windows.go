//go:build windows

package signalx

import (
	"os"
)

var sigs = []os.Signal{os.Interrupt}
