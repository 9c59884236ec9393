package main

import (
	"routine-desk/cmd/routine/commands"
	"routine-desk/lib/osutil"
)

func main() {
	commands.ExecuteContext(osutil.SignalContext())
}
