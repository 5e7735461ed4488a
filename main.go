package main

import "github.com/consentcompanion/policywatch/cmd"

func main() {
	cmd.Execute()
}
