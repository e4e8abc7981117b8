package output

import (
	"io"

	"github.com/bytedance/sonic"
)

// JSONFormatter writes indented JSON.
type JSONFormatter struct{}

// Format implements Formatter.
func (f *JSONFormatter) Format(w io.Writer, data any) error {
	enc := sonic.ConfigStd.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
