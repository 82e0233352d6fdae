// Command tinymem runs the tinymem session coordination server and its
// operator tools.
package main

import "github.com/tinymem-dev/tinymem/internal/cli"

func main() {
	cli.Execute()
}
