package logme

import (
	"fmt"
	"io"
	"os"
)

var (
	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr

	isDebugMode bool = os.Getenv("DEBUG") == "1"
)

// SetOutput redirects all log output to w. The MCP server uses this to
// keep stdout free for the protocol transport.
func SetOutput(w io.Writer) {
	out = w
	errOut = w
}

func DebugF(msg string, args ...interface{}) {
	if isDebugMode {
		fmt.Fprint(out, "[DEBUG] ")
		fmt.Fprintf(out, msg, args...)
	}
}

func DebugFln(msg string, args ...interface{}) {
	if isDebugMode {
		fmt.Fprint(out, "[DEBUG] ")
		fmt.Fprintf(out, msg+"\n", args...)
	}
}

func Debugln(args ...interface{}) {
	if isDebugMode {
		fmt.Fprint(out, "[DEBUG] ")
		fmt.Fprintln(out, args...)
	}
}

func InfoF(msg string, args ...interface{}) {
	fmt.Fprintf(out, msg, args...)
}

func Infoln(args ...interface{}) {
	fmt.Fprintln(out, args...)
}

func ErrorF(msg string, args ...interface{}) {
	fmt.Fprintf(errOut, msg, args...)
}

func Errorln(args ...interface{}) {
	fmt.Fprintln(errOut, args...)
}
