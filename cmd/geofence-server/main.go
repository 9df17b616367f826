package main

import "github.com/oshokin/geofencer/cmd/geofence-server/cmd"

func main() {
	cmd.Execute()
}
