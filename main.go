package main

import "github.com/mj1618/droid-order/cmd"

func main() {
	cmd.Execute()
}
