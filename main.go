/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/Dea1h/AtlasEngine/cmd"

func main() {
	cmd.Execute()
}
