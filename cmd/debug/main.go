package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/thatsimonsguy/cbus-node/db"
	"github.com/thatsimonsguy/cbus-node/internal/nvm"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dbPath, command, addr string
	var length int
	flag.StringVar(&dbPath, "db", "data/cbus-node.db", "Path to the SQLite store")
	flag.StringVar(&command, "cmd", "", "Command to run: dump-eeprom, dump-flash, dump-nvs, wipe-sentinel, erase")
	flag.StringVar(&addr, "addr", "0x7F80", "Flash address for dump-flash")
	flag.IntVar(&length, "len", 128, "Number of bytes for dump-flash")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of cbus-debug:")
		fmt.Println("  -db string\tPath to the SQLite store (default 'data/cbus-node.db')")
		fmt.Println("  -cmd string\tCommand to run: dump-eeprom, dump-flash, dump-nvs, wipe-sentinel, erase")
		fmt.Println("  -addr string\tFlash address for dump-flash (default 0x7F80)")
		fmt.Println("  -len int\tNumber of bytes for dump-flash (default 128)")
		fmt.Println("  -help\tShow this help message")
		os.Exit(0)
	}

	var err error
	switch command {
	case "dump-eeprom":
		var image []byte
		if image, err = db.DumpEEPROMCLI(dbPath); err == nil {
			fmt.Print(hex.Dump(image))
		}
	case "dump-flash":
		start, perr := strconv.ParseUint(addr, 0, 16)
		if perr != nil {
			fmt.Printf("Error: invalid address %q\n", addr)
			os.Exit(1)
		}
		var buf []byte
		if buf, err = db.DumpFlashCLI(dbPath, uint16(start), length); err == nil {
			fmt.Print(hex.Dump(buf))
		}
	case "dump-nvs":
		var buf []byte
		if buf, err = db.DumpFlashCLI(dbPath, nvm.AtNV, nvm.NVSpace); err == nil {
			for i, v := range buf {
				fmt.Printf("NV%-3d %3d\n", i+1, v)
			}
		}
	case "wipe-sentinel":
		err = db.WipeSentinelCLI(dbPath)
	case "erase":
		err = db.EraseCLI(dbPath)
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
	if command == "wipe-sentinel" || command == "erase" {
		fmt.Printf("Command %s succeeded\n", command)
	}
}
