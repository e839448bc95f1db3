package main

import "github.com/andresmejia3/facedetectd/cmd"

func main() {
	cmd.Execute()
}
