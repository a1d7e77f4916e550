package main

import "creator-dm-backend/cmd"

func main() {
	cmd.Run()
}
