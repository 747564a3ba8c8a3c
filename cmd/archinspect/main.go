// Command archinspect renders a textual dump of an archive file's
// structure and nested contents: ar, tar, cpio, XAR, and PBZX, plus
// whatever compression wraps them. It reads from a file argument or
// standard input and is useful for inspecting a CLT DMG's inner .pkg or
// Payload by hand while debugging the extraction pipeline.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/c3lang/macsdkfetch/internal/archdump"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var data []byte
	var err error

	if len(args) > 0 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	dump, err := archdump.RecognizeAndDump(data)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(dump)
	return 0
}
