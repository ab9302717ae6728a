package app

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/petervdpas/lens/internal/config"
)

// PromptInteractive asks for the common settings on out, reading answers
// from in. Invalid answers keep the defaults.
func PromptInteractive(in io.Reader, out io.Writer, dir, cfgPath string, cfg config.Config) config.Config {
	r := bufio.NewReader(in)

	fmt.Fprintln(out, "────────────────────────────────────────")
	fmt.Fprintln(out, "Lens interactive setup")
	fmt.Fprintf(out, " App folder  : %s\n", dir)
	fmt.Fprintf(out, " Config file : %s\n", cfgPath)
	fmt.Fprintln(out, "────────────────────────────────────────")
	fmt.Fprintln(out)

	cfg.App.Name = askString(r, out, "App name", cfg.App.Name)
	cfg.Host.Hostname = askString(r, out, "Hostname override (empty=system)", cfg.Host.Hostname)
	cfg.Server.HTTPAddr = askString(r, out, "HTTP addr for serve", cfg.Server.HTTPAddr)
	cfg.Tasks.MaxConcurrent = askInt(r, out, "Concurrent long tasks", cfg.Tasks.MaxConcurrent)
	cfg.Scripts.Enabled = askBool(r, out, "Enable Lua scripts", cfg.Scripts.Enabled)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\nKeeping defaults.\n", err)
		return config.Default()
	}
	return cfg
}

func askString(in *bufio.Reader, out io.Writer, label, def string) string {
	fmt.Fprintf(out, "%s [%s]: ", label, def)
	s, _ := in.ReadString('\n')
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func askInt(in *bufio.Reader, out io.Writer, label string, def int) int {
	s := askString(in, out, label, strconv.Itoa(def))
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func askBool(in *bufio.Reader, out io.Writer, label string, def bool) bool {
	d := "n"
	if def {
		d = "y"
	}
	s := strings.ToLower(askString(in, out, label+" (y/n)", d))
	switch s {
	case "y", "yes", "true", "1":
		return true
	case "n", "no", "false", "0":
		return false
	}
	return def
}
