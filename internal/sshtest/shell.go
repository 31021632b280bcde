package sshtest

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Run interprets command, writing to stdout and stderr, and returns the
// exit status.
func Run(command string, stdout, stderr io.Writer) int {
	status := 0
	for _, part := range strings.Split(command, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "echo":
			args := fields[1:]
			w := stdout
			if n := len(args); n > 0 && args[n-1] == ">&2" {
				w, args = stderr, args[:n-1]
			}
			fmt.Fprintln(w, strings.Join(args, " "))
			status = 0
		case "seq":
			n, err := strconv.Atoi(arg(fields))
			if err != nil {
				fmt.Fprintf(stderr, "seq: invalid count %q\n", arg(fields))
				status = 1
				continue
			}
			for i := 1; i <= n; i++ {
				fmt.Fprintln(stdout, i)
			}
			status = 0
		case "sleep":
			d, err := time.ParseDuration(arg(fields))
			if err != nil {
				fmt.Fprintf(stderr, "sleep: invalid duration %q\n", arg(fields))
				status = 1
				continue
			}
			time.Sleep(d)
			status = 0
		case "exit":
			n, err := strconv.Atoi(arg(fields))
			if err != nil {
				return 2
			}
			return n
		default:
			fmt.Fprintf(stderr, "sh: %s: command not found\n", fields[0])
			status = 127
		}
	}
	return status
}

func arg(fields []string) string {
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), prefix)
}
