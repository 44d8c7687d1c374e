//go:build stringer

//go:generate go run golang.org/x/tools/cmd/stringer -linecomment -type SafetensorsDType -output zz_generated.safetensorsdtype.stringer.go -trimprefix SafetensorsDType
package safetensors_parser

import _ "golang.org/x/tools/cmd/stringer"
