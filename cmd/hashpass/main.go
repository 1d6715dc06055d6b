// Command hashpass generates a bcrypt hash suitable for the
// ADMIN_PASSWORD_HASH environment variable.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/xeltica-studio/MisskeyTools/internal/auth"
)

func main() {
	var password string
	if len(os.Args) > 1 {
		password = os.Args[1]
	} else {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to read password:", err)
			os.Exit(1)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if password == "" {
		fmt.Fprintln(os.Stderr, "usage: hashpass [password]")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to hash password:", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}
