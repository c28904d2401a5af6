package main

import (
	"github.com/tanpawarit/owid-chain/cmd"
	_ "github.com/tanpawarit/owid-chain/pkg/logger/autoload"
)

func main() {
	cmd.Execute()
}
