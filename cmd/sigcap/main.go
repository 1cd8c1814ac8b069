// Command sigcap acquires samples from instruments, converts between capture
// formats and replays saved sessions.
package main

import (
	"os"

	"github.com/banshee-data/sigcap/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
