// Command linkcrawler runs the distributed web crawler service and its
// companion report tooling.
package main

import "github.com/linkgraph/crawler/cmd"

func main() {
	cmd.Execute()
}
