package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/trezcool/homework/core/profile"
	"github.com/trezcool/homework/core/session"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	boot    *session.Bootstrapper
	timeout time.Duration // bounds every wait for the session to settle
	openDB  func() (*sql.DB, error)
	out     io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  status                                          - show who is signed in")
	fmt.Fprintln(cli.out, "  login -email EMAIL                              - sign in; the password is prompted next")
	fmt.Fprintln(cli.out, "  signup -email EMAIL -name NAME [-role ROLE]     - register as student (default) or teacher")
	fmt.Fprintln(cli.out, "  logout                                          - sign out")
	fmt.Fprintf(cli.out, "  migrate COMMAND                                 - migrate the profiles database (%s)\n", strings.Join(migrateCommands(), ", "))
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	loginCmd := flag.NewFlagSet("login", flag.ContinueOnError)
	loginEmail := loginCmd.String("email", "", "The email to sign in with. The password will be prompted next.")

	signupCmd := flag.NewFlagSet("signup", flag.ContinueOnError)
	signupEmail := signupCmd.String("email", "", "The email to register. The password will be prompted next.")
	signupName := signupCmd.String("name", "", "Your full name.")
	signupRole := signupCmd.String("role", profile.RoleStudent, "student or teacher.")

	for _, fs := range []*flag.FlagSet{loginCmd, signupCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "status":
		return cli.status()
	case "login":
		if err := loginCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *loginEmail == "" {
			loginCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			loginCmd.Usage()
			return errHelp
		}
		return cli.login(*loginEmail, pwd)
	case "signup":
		if err := signupCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *signupEmail == "" || *signupName == "" {
			signupCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			signupCmd.Usage()
			return errHelp
		}
		return cli.signup(*signupEmail, pwd, *signupName, *signupRole)
	case "logout":
		return cli.logout()
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) readPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
