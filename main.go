package main

import "github.com/Layr-Labs/unichain-indexer/cmd"

func main() {
	cmd.Execute()
}
