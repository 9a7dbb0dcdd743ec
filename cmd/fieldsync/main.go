// Command fieldsync captures field evidence offline and reconciles it with
// the remote authority.
package main

import "github.com/Adriangar333/Traceops-sub000/internal/cli"

func main() {
	cli.Main()
}
