package main

import "salon-referral-system/cmd"

func main() {
	cmd.Execute()
}
