// Command grpcdyn calls gRPC services discovered through server reflection,
// either from an interactive shell or one call at a time.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := run(context.Background(), os.Args[1:], newApp(os.Stdin, os.Stdout, os.Stderr)); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
