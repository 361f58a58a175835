package main

import "github.com/frahmantamala/stkpush-checkout/cmd"

func main() {
	cmd.Execute()
}
