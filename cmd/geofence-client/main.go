package main

import "github.com/oshokin/geofencer/cmd/geofence-client/cmd"

func main() {
	cmd.Execute()
}
