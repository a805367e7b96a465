// Package prettyprint renders operation results as indented JSON.
package prettyprint

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

func Fprint(w io.Writer, v any) {
	s, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(s))
}

func Print(v any) {
	Fprint(os.Stdout, v)
}
