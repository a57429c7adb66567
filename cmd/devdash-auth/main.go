package main

import "github.com/goliatone/go-auth-client/cmd/devdash-auth/cmd"

func main() {
	cmd.Execute()
}
